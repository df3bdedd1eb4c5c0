/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/reports/*        Commission report and export
  /api/commissions/*    Sync and ad-hoc calculation
  /api/policies/*       Policies
  /api/agents ...       Master data
  /api/grids/*          Payout grids
  /api/uploads/*        Bulk master-data uploads
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness + database ping
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	origins := h.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", OrgHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	if h.Metrics != nil {
		r.Method("GET", "/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Report routes
		r.Route("/reports/commission", func(r chi.Router) {
			r.Get("/", h.GetCommissionReport)
			r.Get("/export", h.ExportCommissionReport)
		})

		// Commission routes
		r.Route("/commissions", func(r chi.Router) {
			r.Post("/sync", h.SyncCommissions)
			r.Post("/calculate", h.CalculateCommission)
		})

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Get("/{id}", h.GetPolicy)
			r.Get("/{id}/commission", h.GetPolicyCommission)
		})

		// Master data routes
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
		})
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
		})
		r.Route("/misps", func(r chi.Router) {
			r.Get("/", h.ListMISPs)
			r.Post("/", h.CreateMISP)
		})
		r.Route("/tiers", func(r chi.Router) {
			r.Get("/", h.ListTiers)
			r.Post("/", h.CreateTier)
		})
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
		})

		// Payout grid routes
		r.Route("/grids/{category}", func(r chi.Router) {
			r.Get("/", h.ListGridRows)
			r.Post("/", h.CreateGridRows)
		})

		// Upload routes
		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", h.ListUploads)
			r.Post("/", h.CreateUpload)
			r.Get("/{id}", h.GetUpload)
			r.Get("/{id}/errors", h.GetUploadErrors)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
