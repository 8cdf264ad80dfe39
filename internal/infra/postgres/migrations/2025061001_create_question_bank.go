package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

const createQuestionBankSQL = `
CREATE TABLE IF NOT EXISTS questions (
    id      TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    grade   TEXT NOT NULL DEFAULT 'any',
    scope   TEXT NOT NULL DEFAULT 'shared',
    data    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS questions_subject_idx ON questions (subject);
`

const createScoreHistorySQL = `
CREATE TABLE IF NOT EXISTS score_history (
    id              BIGSERIAL PRIMARY KEY,
    participant_id  TEXT NOT NULL,
    subject         TEXT NOT NULL,
    score           INTEGER NOT NULL,
    total_questions INTEGER NOT NULL,
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS score_history_participant_idx ON score_history (participant_id);
`

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			if _, err := db.Exec(createQuestionBankSQL); err != nil {
				return err
			}
			_, err := db.Exec(createScoreHistorySQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			if _, err := db.Exec(`DROP TABLE IF EXISTS score_history`); err != nil {
				return err
			}
			_, err := db.Exec(`DROP TABLE IF EXISTS questions`)
			return err
		},
	)
}
