// Package router assembles the chi router for the scheduling API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Jeduardo622/allincompassing-api/internal/http/handlers"
	httpmiddleware "github.com/Jeduardo622/allincompassing-api/internal/http/middleware"
	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Scheduling         *handlers.SchedulingHandler
	MetricsHandler     http.Handler
	AuthJWTSecret      string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}

	// Public endpoints.
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Scheduling endpoints require a tenant-scoped bearer token.
	r.Group(func(protected chi.Router) {
		protected.Use(httpmiddleware.Auth(cfg.AuthJWTSecret))
		protected.Post("/sessions-hold", cfg.Scheduling.AcquireHold)
		protected.Post("/sessions-confirm", cfg.Scheduling.ConfirmHold)
		protected.Post("/sessions-cancel", cfg.Scheduling.Cancel)
	})

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
