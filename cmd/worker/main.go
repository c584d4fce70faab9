// Standalone worker process for deployments that split job execution out
// of the API binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careeros/careeros-back/internal/analysis"
	"github.com/careeros/careeros-back/internal/config"
	"github.com/careeros/careeros-back/internal/events"
	"github.com/careeros/careeros-back/internal/logger"
	"github.com/careeros/careeros-back/internal/queue"
	"github.com/careeros/careeros-back/internal/worker"
)

func main() {
	config.LoadDotEnv(".env")
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := queue.NewStore(rdb)
	bus := events.NewRedisBus(rdb, cfg.EventChannel, log)

	mux := worker.NewMux()
	analysis.Register(mux)

	pool := worker.New(store, bus, mux, worker.Config{
		Concurrency:  cfg.WorkerConcurrency,
		Visibility:   time.Duration(cfg.VisibilityTimeoutS) * time.Second,
		BackoffBase:  time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
	}, log)

	pool.Run(ctx)
}
