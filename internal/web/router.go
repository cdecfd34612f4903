package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hystdevtv/pear/internal/auth"
	"github.com/hystdevtv/pear/internal/ratelimit"
	"github.com/hystdevtv/pear/internal/web/handlers"
	"github.com/hystdevtv/pear/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	IngestHandler *handlers.IngestHandler
	StatusHandler *handlers.StatusHandler
	Tokens        *auth.Verifier
	Limiter       *ratelimit.Limiter
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", deps.StatusHandler.HandleHealthz)

	// Token protected, rate limited per client IP.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter))
		r.Use(middleware.RequireToken(deps.Tokens))

		r.Post("/ingest", deps.IngestHandler.HandleIngest)
		r.Get("/api/v1/guardian", deps.StatusHandler.HandleGuardian)
	})

	return r
}
