package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	pgbank "quizroom-service/internal/infra/postgres"
	pgmigrations "quizroom-service/internal/infra/postgres/migrations"
	infraredis "quizroom-service/internal/infra/redis"
)

func TestLiveSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestions(t, ctx, pgURL, samplePool())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)

	bank := pgbank.NewQuestionBank(pool)
	source := infraredis.NewQuestionCache(redisClient, bank, 5*time.Minute)
	store := infraredis.NewRoomStore(redisClient, time.Hour)
	archiver := pgbank.NewScoreArchiver(pool)

	cfg := app.SessionConfig{
		CountdownDelay:  50 * time.Millisecond,
		TimePerQuestion: 5 * time.Second,
		RevealDelay:     50 * time.Millisecond,
		HeartbeatGrace:  30 * time.Second,
		Rules:           app.ScoringRules{BasePoints: 100, SpeedBonusMax: 100},
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	builder := app.NewQuestionSetBuilder(source, rnd)

	session, err := app.CreateRoom(ctx, store, builder, rnd, archiver, cfg, log, app.CreateRoomRequest{
		HostID:   "teacher-1",
		HostName: "Teacher",
		Build: app.BuildRequest{
			Subject:   "math",
			Grade:     "5",
			HostScope: "school-1",
			Count:     2,
		},
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	// The builder read-through must have populated the redis-side pool.
	if n, err := redisClient.Exists(ctx, "questions:math:pool").Result(); err != nil || n != 1 {
		t.Fatalf("expected cached question pool in redis, exists=%d err=%v", n, err)
	}

	for _, id := range []string{"p1", "p2"} {
		p, _, err := app.JoinRoom(ctx, store, log, session.Code(), id, "Player "+id, "")
		if err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
		answerOnSight(t, ctx, p)
	}

	runDone := make(chan error, 1)
	runCtx, cancelRun := context.WithTimeout(ctx, 30*time.Second)
	defer cancelRun()
	go func() { runDone <- session.Run(runCtx) }()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := <-runDone; err != nil {
		t.Fatalf("session run: %v", err)
	}

	doc, err := store.Read(ctx, session.Code())
	if err != nil {
		t.Fatalf("read final doc: %v", err)
	}
	if doc.State.Phase != domain.PhaseFinished {
		t.Fatalf("expected FINISHED, got %s", doc.State.Phase)
	}
	for _, id := range []string{"p1", "p2"} {
		if doc.Participants[id].Score < 2*cfg.Rules.BasePoints {
			t.Fatalf("expected %s to score both questions, got %d", id, doc.Participants[id].Score)
		}
	}

	var archived int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM score_history`).Scan(&archived); err != nil {
		t.Fatalf("count score_history: %v", err)
	}
	if archived != 2 {
		t.Fatalf("expected 2 archived scores, got %d", archived)
	}
}

// answerOnSight watches the room and submits the correct choice the moment
// each question window opens, so the host's everyone-answered early close
// keeps the test fast.
func answerOnSight(t *testing.T, ctx context.Context, p *app.ParticipantSession) {
	t.Helper()
	updates, cancel, err := p.Watch(ctx)
	if err != nil {
		t.Fatalf("watch %s: %v", p.ID(), err)
	}
	go func() {
		defer cancel()
		answered := make(map[int]bool)
		for doc := range updates {
			st := doc.State
			if st.Phase.Terminal() {
				return
			}
			if st.Phase != domain.PhaseQuestion || answered[st.CurrentQuestion] {
				continue
			}
			answered[st.CurrentQuestion] = true
			correct := doc.Questions[st.CurrentQuestion].CorrectChoiceID
			if err := p.SubmitAnswer(ctx, correct); err != nil && err != domain.ErrAlreadyAnswered {
				t.Errorf("submit %s q%d: %v", p.ID(), st.CurrentQuestion, err)
			}
		}
	}()
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuestions(t *testing.T, ctx context.Context, dsn string, pool []domain.Question) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, q := range pool {
		data, err := json.Marshal(q)
		if err != nil {
			t.Fatalf("marshal question %s: %v", q.ID, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO questions (id, subject, grade, scope, data) VALUES (?, ?, ?, ?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`,
			q.ID, q.Subject, q.Grade, q.Scope, string(data)); err != nil {
			t.Fatalf("insert question %s: %v", q.ID, err)
		}
	}
}

func samplePool() []domain.Question {
	return []domain.Question{
		{
			ID: "math-1", Subject: "math", Grade: "5", Scope: domain.ScopeShared,
			Prompt: "What is 2 + 2?",
			Choices: []domain.Choice{
				{ID: "c1", Text: "3"},
				{ID: "c2", Text: "4"},
			},
			CorrectChoiceID: "c2",
		},
		{
			ID: "math-2", Subject: "math", Grade: "5", Scope: domain.ScopeShared,
			Prompt: "What is 3 x 3?",
			Choices: []domain.Choice{
				{ID: "c1", Text: "9"},
				{ID: "c2", Text: "6"},
			},
			CorrectChoiceID: "c1",
		},
		{
			ID: "math-3", Subject: "math", Grade: domain.GradeAny, Scope: domain.ScopeShared,
			Prompt: "What is 10 - 7?",
			Choices: []domain.Choice{
				{ID: "c1", Text: "2"},
				{ID: "c2", Text: "3"},
			},
			CorrectChoiceID: "c2",
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
