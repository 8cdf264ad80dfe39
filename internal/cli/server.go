package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pgbank "quizroom-service/internal/infra/postgres"
	redisinfra "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	finishedTTL := config.TTLDuration(cfg.Redis.FinishedTTL, time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionSource(samplePools())
	var archiver app.ScoreArchiver
	if pool != nil {
		bank := pgbank.NewQuestionBank(pool)
		loader = bank
		archiver = pgbank.NewScoreArchiver(pool)
	}

	cacheTTL := config.TTLDuration(cfg.Questions.CacheTTL, 10*time.Minute)
	var source app.QuestionSource
	if redisClient != nil {
		source = redisinfra.NewQuestionCache(redisClient, loader, cacheTTL)
	} else {
		source = memory.NewQuestionCache(loader, cacheTTL)
	}

	var store app.RoomStore
	if redisClient != nil {
		store = redisinfra.NewRoomStore(redisClient, finishedTTL)
	} else {
		store = memory.NewRoomStore()
	}

	wsHandler := transport.NewWSHandler(store, source, archiver, cfg.SessionConfig(), log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/host", wsHandler.ServeHost)
	mux.HandleFunc("/ws/join", wsHandler.ServeJoin)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Infof("starting quiz room service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// samplePools provides a minimal question bank for demo deployments without
// Postgres; production wires the database-backed bank instead.
func samplePools() map[string][]domain.Question {
	return map[string][]domain.Question{
		"math": {
			{
				ID:      "math-1",
				Subject: "math",
				Grade:   domain.GradeAny,
				Scope:   domain.ScopeShared,
				Prompt:  "What is 7 x 8?",
				Choices: []domain.Choice{
					{ID: "c1", Text: "54"},
					{ID: "c2", Text: "56"},
					{ID: "c3", Text: "58"},
				},
				CorrectChoiceID: "c2",
				Explanation:     "7 x 8 = 56.",
			},
			{
				ID:      "math-2",
				Subject: "math",
				Grade:   domain.GradeAny,
				Scope:   domain.ScopeShared,
				Prompt:  "What is 15 / 3?",
				Choices: []domain.Choice{
					{ID: "c1", Text: "3"},
					{ID: "c2", Text: "5"},
				},
				CorrectChoiceID: "c2",
				Explanation:     "15 divided by 3 is 5.",
			},
		},
		"science": {
			{
				ID:      "science-1",
				Subject: "science",
				Grade:   domain.GradeAny,
				Scope:   domain.ScopeShared,
				Prompt:  "Water boils at what temperature at sea level?",
				Choices: []domain.Choice{
					{ID: "c1", Text: "90 C"},
					{ID: "c2", Text: "100 C"},
					{ID: "c3", Text: "110 C"},
				},
				CorrectChoiceID: "c2",
				Explanation:     "100 degrees Celsius at standard pressure.",
			},
		},
	}
}
