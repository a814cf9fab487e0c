/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router and middleware stack. This is the wiring
  layer connecting URLs to handlers; no business logic lives here.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. zerolog:    Structured request logging
  4. CORS:       Cross-origin requests for dashboard clients

ROUTE GROUPS:
  /api/postings       Expense-write event stream (in)
  /api/budgets/*      Budget snapshots, projections, status history
  /api/templates/*    Recurring templates
  /api/alerts         Recent deduplicated alerts
  /api/insights       Heuristic insights and recommendations
  /api/admin/*        Manual tick trigger
  /healthz            Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates the router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/postings", h.RecordPosting)

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.ListBudgets)
			r.Post("/", h.CreateBudget)
			r.Get("/{id}", h.GetBudget)
			r.Get("/{id}/projection", h.GetProjection)
			r.Get("/{id}/history", h.GetStatusHistory)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", h.CreateTemplate)
			r.Get("/{id}", h.GetTemplate)
		})

		r.Get("/alerts", h.RecentAlerts)
		r.Post("/insights", h.GetInsights)
		r.Get("/recommendations", h.GetRecommendations)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/tick", h.TriggerTick)
		})
	})

	r.Get("/healthz", h.Health)

	return r
}

// requestLogger logs one line per request with method, path, status, and
// duration.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
