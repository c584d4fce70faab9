package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careeros/careeros-back/internal/analysis"
	"github.com/careeros/careeros-back/internal/auth"
	"github.com/careeros/careeros-back/internal/config"
	"github.com/careeros/careeros-back/internal/events"
	"github.com/careeros/careeros-back/internal/gateway"
	appHTTP "github.com/careeros/careeros-back/internal/http"
	"github.com/careeros/careeros-back/internal/jobs"
	"github.com/careeros/careeros-back/internal/logger"
	"github.com/careeros/careeros-back/internal/queue"
	"github.com/careeros/careeros-back/internal/worker"
)

func main() {
	config.LoadDotEnv(".env")
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.JWTSecret == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}

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
	authn := auth.New(cfg.JWTSecret, 0)

	manager := jobs.NewManager(store, bus, jobs.ManagerConfig{
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		Retention:       time.Duration(cfg.RetentionHours) * time.Hour,
		FailedRetention: time.Duration(cfg.FailedRetentionHours) * time.Hour,
	}, log)

	// Embedded worker pool and gateway let one binary serve everything in
	// small deployments; flip the env toggles to split them out.
	if cfg.WorkerEnabled {
		mux := worker.NewMux()
		analysis.Register(mux)
		pool := worker.New(store, bus, mux, worker.Config{
			Concurrency:  cfg.WorkerConcurrency,
			Visibility:   time.Duration(cfg.VisibilityTimeoutS) * time.Second,
			BackoffBase:  time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
			PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		}, log)
		go pool.Run(ctx)
	}

	var gatewayServer *http.Server
	if cfg.GatewayEnabled {
		gw := gateway.NewServer(bus, authn, cfg.AllowedOrigins, log)
		go func() {
			if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("gateway stopped", "error", err)
			}
		}()

		gwMux := http.NewServeMux()
		gwMux.Handle("/v1/notifications", gw)
		gatewayServer = &http.Server{Addr: ":" + cfg.GatewayPort, Handler: gwMux}
		go func() {
			log.Info("notification gateway listening", "port", cfg.GatewayPort)
			if err := gatewayServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error("gateway server failed", "error", err)
				stop()
			}
		}()
	}

	go runCleanup(ctx, manager, cfg, log)

	router := appHTTP.NewRouter(cfg, manager, authn, rdb, log)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown incomplete", "error", err)
	}
	if gatewayServer != nil {
		if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("gateway shutdown incomplete", "error", err)
		}
	}
}

func runCleanup(ctx context.Context, manager *jobs.Manager, cfg config.Config, log *slog.Logger) {
	ticker := time.NewTicker(time.Duration(cfg.CleanupIntervalMin) * time.Minute)
	defer ticker.Stop()
	maxAge := time.Duration(cfg.RetentionHours) * time.Hour

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := manager.CleanupOldJobs(ctx, maxAge); err != nil && ctx.Err() == nil {
				log.Warn("cleanup pass failed", "error", err)
			}
		}
	}
}
