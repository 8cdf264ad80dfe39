package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// ScoreArchiver commits a participant's round result into the permanent
// score history once a room finishes. Callers treat failures as best-effort.
type ScoreArchiver struct {
	pool *pgxpool.Pool
}

func NewScoreArchiver(pool *pgxpool.Pool) *ScoreArchiver {
	return &ScoreArchiver{pool: pool}
}

func (a *ScoreArchiver) PersistFinalScore(ctx context.Context, participantID, subjectLabel string, score, total int) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO score_history (participant_id, subject, score, total_questions) VALUES ($1, $2, $3, $4)`,
		participantID, subjectLabel, score, total)
	if err != nil {
		return fmt.Errorf("persist final score for %s: %w", participantID, err)
	}
	return nil
}
