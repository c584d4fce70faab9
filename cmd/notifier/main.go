// Standalone notification gateway for deployments where the WebSocket fleet
// scales separately from the API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careeros/careeros-back/internal/auth"
	"github.com/careeros/careeros-back/internal/config"
	"github.com/careeros/careeros-back/internal/events"
	"github.com/careeros/careeros-back/internal/gateway"
	"github.com/careeros/careeros-back/internal/logger"
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

	bus := events.NewRedisBus(rdb, cfg.EventChannel, log)
	authn := auth.New(cfg.JWTSecret, 0)

	gw := gateway.NewServer(bus, authn, cfg.AllowedOrigins, log)
	go func() {
		if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("gateway stopped", "error", err)
			stop()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/v1/notifications", gw)
	server := &http.Server{Addr: ":" + cfg.GatewayPort, Handler: mux}

	go func() {
		log.Info("notification gateway listening", "port", cfg.GatewayPort)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("gateway server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway shutdown incomplete", "error", err)
	}
}
