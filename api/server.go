/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for the POS frontend

ROUTE GROUPS:
  /api/products/*       Catalog products and per-product stock views
  /api/stock/*          Intake, batch listing, advisory reports
  /api/sales            Sale recording
  /api/sale-items/*     Allocation drill-down
  /api/returns          Return recording and history
  /api/categories, /api/manufacturers, /api/suppliers, /api/formulas
                        Catalog reference tables

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.SaveProduct)
			r.Get("/{id}", h.GetProduct)
			r.Delete("/{id}", h.DeleteProduct)
			r.Get("/{id}/batches", h.ListProductBatches)
			r.Get("/{id}/on-hand", h.GetOnHand)
		})

		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Post("/intake", h.RecordIntake)
			r.Get("/batches", h.ListBatches)
			r.Get("/near-expiry", h.NearExpiry)
			r.Get("/low-stock", h.LowStock)
		})

		// Sale routes
		r.Post("/sales", h.CreateSale)
		r.Get("/sale-items/{id}/allocations", h.GetAllocations)

		// Return routes
		r.Route("/returns", func(r chi.Router) {
			r.Get("/", h.ListReturns)
			r.Post("/", h.CreateReturn)
		})

		// Catalog reference routes
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.SaveCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})
		r.Route("/manufacturers", func(r chi.Router) {
			r.Get("/", h.ListManufacturers)
			r.Post("/", h.SaveManufacturer)
			r.Delete("/{id}", h.DeleteManufacturer)
		})
		r.Route("/suppliers", func(r chi.Router) {
			r.Get("/", h.ListSuppliers)
			r.Post("/", h.SaveSupplier)
			r.Delete("/{id}", h.DeleteSupplier)
		})
		r.Route("/formulas", func(r chi.Router) {
			r.Get("/", h.ListFormulas)
			r.Post("/", h.SaveFormula)
			r.Delete("/{id}", h.DeleteFormula)
		})
	})

	return r
}
