/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog line per request, level by status
  3. Metrics:    Prometheus request count and latency per route pattern
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/targets          Buckets and goals together
  /api/buckets/*        Bucket management and ledger
  /api/goals/*          Goal management and ledger
  /api/splits/*         Split validation, persistence, distribution, history
  /api/scenarios/*      Demo scenarios
  /healthz              Database ping
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/split-engine/engine"
)

// NewRouter creates a new router with all routes configured. Requests from
// allowedOrigins are accepted cross-origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(h.Metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/targets", h.ListTargets)

		// Bucket routes
		r.Route("/buckets", func(r chi.Router) {
			r.Get("/", h.ListBuckets)
			r.Post("/", h.CreateBucket)
			r.Get("/{id}/transactions", h.ListTransactions(engine.TargetBucket))
			r.Post("/{id}/transactions", h.CreateTransaction(engine.TargetBucket))
		})

		// Goal routes
		r.Route("/goals", func(r chi.Router) {
			r.Get("/", h.ListGoals)
			r.Post("/", h.CreateGoal)
			r.Get("/{id}/transactions", h.ListTransactions(engine.TargetGoal))
			r.Post("/{id}/transactions", h.CreateTransaction(engine.TargetGoal))
		})

		// Split routes
		r.Route("/splits", func(r chi.Router) {
			r.Post("/validate", h.ValidateSplit)
			r.Post("/summary", h.SummarizeSplit)
			r.Get("/", h.ListSplits)
			r.Post("/", h.CreateSplit)
			r.Get("/{id}", h.GetSplit)
			r.Put("/{id}", h.UpdateSplit)
			r.Delete("/{id}", h.DeleteSplit)
			r.Get("/{id}/summary", h.GetSplitSummary)
			r.Post("/{id}/distribute", h.DistributeSplit)
			r.Get("/{id}/distributions", h.ListDistributions)
			r.Get("/{id}/transactions", h.ListSplitTransactions)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	return r
}

// Health reports whether the database is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
