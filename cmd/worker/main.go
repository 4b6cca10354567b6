package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/castscribe/internal/app"
	"github.com/nikhilbhutani/castscribe/internal/config"
	"github.com/nikhilbhutani/castscribe/internal/database"
	"github.com/nikhilbhutani/castscribe/internal/queue"
	"github.com/nikhilbhutani/castscribe/internal/queue/workers"
	"github.com/nikhilbhutani/castscribe/internal/report"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis unavailable", "error", err)
		os.Exit(1)
	}

	var reportDB report.DB = db
	eng, err := app.NewEngine(cfg, app.Resources{Redis: rdb, DB: reportDB, Logger: logger})
	if err != nil {
		slog.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"default": 1,
			},
			Logger: &asynqLogger{logger: logger},
		},
	)

	registry := queue.NewHandlersRegistry()

	transcriptWorker := workers.NewTranscriptWorker(eng)
	registry.Register(queue.TypeTranscriptComplete, asynq.HandlerFunc(transcriptWorker.ProcessTask))

	slog.Info("starting worker",
		"concurrency", cfg.Worker.Concurrency,
		"stt_backend", cfg.STT.Backend,
		"quota_keys", len(cfg.Quota.Keys),
	)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
