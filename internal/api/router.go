package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberwatch/emberwatch/internal/api/alerts"
	"github.com/emberwatch/emberwatch/internal/api/auth"
	"github.com/emberwatch/emberwatch/internal/api/events"
	"github.com/emberwatch/emberwatch/internal/api/history"
	"github.com/emberwatch/emberwatch/internal/api/middleware"
	"github.com/emberwatch/emberwatch/internal/api/signatures"
	"github.com/emberwatch/emberwatch/internal/api/stats"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Create token service
	tokens := auth.NewTokenService(s.config.JWTSecret, 0)

	// Create rate limiters
	ingestLimiter := middleware.NewRateLimiter(s.config.IngestRate, s.config.IngestBurst)
	queryLimiter := middleware.NewRateLimiter(s.config.QueryRate, s.config.QueryBurst)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrMethodNotAllowed)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Ingest routes (producer tokens)
		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(tokens))
			r.Use(middleware.RequireScope(auth.ScopeIngest))
			r.Use(middleware.RateLimitBySource(ingestLimiter))

			eventsHandler := events.NewHandler(s.pipe.Queue, s.config.MaxBatchSize)
			r.Post("/events", eventsHandler.Ingest)
		})

		// Read routes (reader tokens)
		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(tokens))
			r.Use(middleware.RequireScope(auth.ScopeRead))
			r.Use(middleware.RateLimitBySource(queryLimiter))

			historyHandler := history.NewHandler(s.storage.Signatures(), s.config.QueryTimeout)
			r.Get("/history", historyHandler.Query)

			sigHandler := signatures.NewHandler(s.storage.Signatures(), s.archive, s.config.QueryTimeout)
			r.Route("/signatures", func(r chi.Router) {
				r.Get("/", sigHandler.List)
				if s.archive != nil {
					r.Get("/{key}/events", sigHandler.Events)
				}
			})

			alertsHandler := alerts.NewHandler(s.storage.Alerts(), s.config.QueryTimeout)
			r.Get("/alerts", alertsHandler.List)

			statsHandler := stats.NewHandler(s.storage.Signatures(), s.archive, s.pipe.Queue, s.pipe.Filter, s.pipe.Publisher, s.config.QueryTimeout)
			r.Get("/stats", statsHandler.Overview)
		})
	})

	// Health checks (public, no rate limit)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{"status": "ok"})
	})
	r.Get("/healthz", s.healthHandler.Live)
	r.Get("/readyz", s.healthHandler.Ready)

	return r
}
