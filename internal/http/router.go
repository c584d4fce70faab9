package http

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/careeros/careeros-back/internal/auth"
	"github.com/careeros/careeros-back/internal/config"
	"github.com/careeros/careeros-back/internal/http/handlers"
	"github.com/careeros/careeros-back/internal/http/middleware"
	"github.com/careeros/careeros-back/internal/jobs"
)

// NewRouter wires the REST surface: health, job submission and retrieval.
func NewRouter(
	cfg config.Config,
	manager *jobs.Manager,
	authn *auth.Authenticator,
	rdb redis.UniversalClient,
	log *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(rdb)
	mux.HandleFunc("/healthz", health.Check)

	jobsHandler := handlers.NewJobsHandler(manager, log)
	mux.Handle("/v1/jobs", jobsHandler)
	mux.Handle("/v1/jobs/", jobsHandler)

	return chain(mux,
		middleware.RequestID,
		middleware.Trace(log),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.Identity(authn, "/healthz"),
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
}

// chain applies middlewares so the first listed runs outermost.
func chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
