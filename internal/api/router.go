package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/castscribe/internal/api/handlers"
	"github.com/nikhilbhutani/castscribe/internal/api/middleware"
	"github.com/nikhilbhutani/castscribe/internal/auth"
	"github.com/nikhilbhutani/castscribe/internal/config"
	"github.com/nikhilbhutani/castscribe/internal/report"
)

type Router struct {
	mux   *chi.Mux
	db    handlers.Pinger
	redis *redis.Client
	cfg   *config.Config
	jobs  handlers.Enqueuer
	runs  report.Store
	jwt   *auth.JWTMiddleware
}

// NewRouter wires the HTTP surface. db and rdb may be nil; readiness then skips them.
func NewRouter(db handlers.Pinger, rdb *redis.Client, cfg *config.Config, jobs handlers.Enqueuer, runs report.Store) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		jobs:  jobs,
		runs:  runs,
		jwt:   auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
	}
}

// Setup registers middleware and routes. ctx bounds the rate limiter's janitor.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)

	rl := middleware.NewRateLimiter(ctx, rt.cfg.Server.RateLimitRPS, rt.cfg.Server.RateLimitBurst)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	checks := map[string]handlers.Check{}
	if rt.db != nil {
		checks["database"] = handlers.PingCheck(rt.db)
	}
	if rt.redis != nil {
		checks["redis"] = handlers.RedisCheck(rt.redis)
	}
	health := handlers.NewHealthHandler(checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		transcriptH := handlers.NewTranscriptHandler(rt.jobs)
		r.Post("/transcripts", transcriptH.Create)

		runH := handlers.NewRunHandler(rt.runs)
		r.Get("/runs/{id}", runH.Get)
		r.Get("/episodes/{episodeID}/runs", runH.ListByEpisode)
	})

	return r
}
