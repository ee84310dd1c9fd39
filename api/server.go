/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: One logrus line per request, tagged with the request ID
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for frontend

ROUTE GROUPS:
  /api/payroll/*    Compute, preview, records, finalize, audit, export, ytd
  /api/rulesets/*   Region rule sets (read-only)
  /api/admin/*      Accounting sync
  /api/scenarios/*  Demo scenarios
  /api/health       Liveness and storage check

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/payroll-engine/logging"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows the local development frontends.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/payroll", func(r chi.Router) {
			r.Post("/compute", h.Compute)
			r.Post("/preview", h.Preview)

			r.Route("/records", func(r chi.Router) {
				r.Get("/", h.ListRecords)
				r.Get("/{id}", h.GetRecord)
				r.Put("/{id}", h.UpdateRecord)
				r.Post("/{id}/finalize", h.Finalize)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/", h.AuditHistory)
				r.Get("/{id}", h.GetAuditEntry)
				r.Get("/{id}/pdf", h.AuditEntryPDF)
			})

			r.Get("/export", h.Export)
			r.Get("/ytd", h.YearToDate)
		})

		r.Route("/rulesets", func(r chi.Router) {
			r.Get("/", h.ListRuleSets)
			r.Get("/{region}", h.GetRuleSet)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sync", h.TriggerSync)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
