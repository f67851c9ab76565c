/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a browser client

ROUTE GROUPS:
  /api/spot-checks/*    Count sessions
  /api/products         Candidate products
  /api/attributes       Policy attribute catalog
  /api/policies/*       Policy management
  /api/evaluate         Access decisions
  /api/decisions/*      Decision log
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus exposition
  /                     Index page listing the API

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go, policies.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Spot check routes
		r.Route("/spot-checks", func(r chi.Router) {
			r.Get("/", h.ListSpotChecks)
			r.Post("/", h.CreateSpotCheck)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSpotCheck)
				r.Post("/start", h.StartSpotCheck)
				r.Post("/hold", h.HoldSpotCheck)
				r.Post("/resume", h.ResumeSpotCheck)
				r.Post("/complete", h.CompleteSpotCheck)
				r.Post("/cancel", h.CancelSpotCheck)
				r.Get("/next", h.NextItem)
				r.Post("/items/{index}/count", h.CountItem)
				r.Post("/items/{index}/skip", h.SkipItem)
				r.Get("/entries", h.ListEntries)
				r.Get("/export", h.ExportSpotCheck)
			})
		})

		// Catalog routes
		r.Get("/products", h.ListProducts)
		r.Get("/attributes", h.ListAttributes)

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Post("/validate", h.ValidatePolicy)
			r.Get("/{id}", h.GetPolicy)
			r.Delete("/{id}", h.DeletePolicy)
		})

		r.Post("/evaluate", h.Evaluate)

		// Decision log routes
		r.Route("/decisions", func(r chi.Router) {
			r.Get("/", h.ListDecisions)
			r.Get("/stats", h.DecisionStats)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Handle("/metrics", h.Metrics.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(indexPage))
	})

	return r
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>Ops Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Ops Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/spot-checks">/api/spot-checks</a> - Spot checks</li>
<li><a href="/api/products">/api/products</a> - Candidate products</li>
<li><a href="/api/attributes">/api/attributes</a> - Attribute catalog</li>
<li><a href="/api/policies">/api/policies</a> - Policies</li>
<li><a href="/api/decisions">/api/decisions</a> - Decision log</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
</ul>
</body>
</html>`
