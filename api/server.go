/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/invoices/*        Invoice lifecycle
  /api/draws/*           Draw lifecycle
  /api/purchase-orders/* PO intake and reads
  /api/change-orders/*   Change order intake
  /api/jobs/*            Per-job invoice/draw/budget reads
  /api/locks/*           Advisory locks
  /api/undo/*            Undo journal
  /api/scenarios/*       Demo scenarios (dev only)

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

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/transition", h.TransitionInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
		})

		// Draw routes
		r.Route("/draws", func(r chi.Router) {
			r.Post("/", h.CreateDraw)
			r.Get("/{id}", h.GetDraw)
			r.Post("/{id}/transition", h.TransitionDraw)
			r.Post("/{id}/recalculate", h.RecalculateDraw)
			r.Post("/{id}/invoices/{invoiceID}", h.AddInvoiceToDraw)
			r.Delete("/{id}/invoices/{invoiceID}", h.RemoveInvoiceFromDraw)
			r.Put("/{id}/allocations/{allocID}", h.EditDrawAllocation)
			r.Post("/{id}/change-orders/{coID}", h.BillChangeOrder)
			r.Delete("/{id}/change-orders/{coID}", h.UnbillChangeOrder)
		})

		// Purchase order routes
		r.Route("/purchase-orders", func(r chi.Router) {
			r.Post("/", h.CreatePurchaseOrder)
			r.Get("/{id}", h.GetPurchaseOrder)
		})

		// Change order routes
		r.Route("/change-orders", func(r chi.Router) {
			r.Post("/", h.CreateChangeOrder)
		})

		// Per-job reads
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/invoices", h.ListJobInvoices)
			r.Get("/draws", h.ListJobDraws)
			r.Get("/budget", h.GetJobBudget)
		})

		// Advisory lock routes
		r.Route("/locks", func(r chi.Router) {
			r.Post("/", h.AcquireLock)
			r.Get("/", h.CheckLock)
			r.Delete("/{lockID}", h.ReleaseLock)
		})

		// Undo routes
		r.Route("/undo", func(r chi.Router) {
			r.Get("/{entityType}/{entityID}", h.GetAvailableUndo)
			r.Post("/{entryID}", h.ExecuteUndo)
		})

		// Scenario routes (dev/demo)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
