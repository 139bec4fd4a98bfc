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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/cases/*          Case financials, recoveries, tariffs, invoicing, costs
  /api/catalog/*        Rate catalog management
  /api/tariffs/*        Line item review (validate/reject/cost)
  /api/invoices/*       Invoice lifecycle and payments
  /api/payments/*       Payment recording and review
  /api/costs/*          Legacy cost entry review

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
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/cases", func(r chi.Router) {
			r.Post("/", h.OpenCase)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/amounts", h.GetAmounts)
				r.Put("/amounts", h.UpdateAmounts)
				r.Post("/recoveries", h.PostRecovery)
				r.Get("/recoveries", h.ListRecoveries)
				r.Post("/interest", h.PostInterest)

				r.Post("/tariffs", h.CreateLineItem)
				r.Get("/tariffs", h.ListLineItems)
				r.Get("/tariffs/state", h.GetValidationState)
				r.Post("/fees/{kind}", h.RecordFixedFee)

				r.Get("/invoice/cangenerate", h.CanGenerateInvoice)
				r.Post("/invoice", h.GenerateInvoice)
				r.Get("/invoice/detail", h.GetInvoiceDetail)

				r.Post("/costs", h.RecordCost)
				r.Get("/costs", h.ListCosts)
			})
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", h.ListCatalog)
			r.Post("/", h.CreateCatalogEntry)
			r.Get("/resolve", h.ResolveRate)
			r.Get("/{id}/history", h.CatalogHistory)
			r.Post("/{id}/deactivate", h.DeactivateCatalogEntry)
		})

		r.Route("/tariffs/{id}", func(r chi.Router) {
			r.Post("/validate", h.ValidateLineItem)
			r.Post("/reject", h.RejectLineItem)
			r.Put("/cost", h.SetLineItemCost)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/overdue", h.ListOverdueInvoices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetInvoice)
				r.Post("/finalize", h.FinalizeInvoice)
				r.Post("/send", h.SendInvoice)
				r.Post("/remind", h.RemindInvoice)
				r.Get("/balance", h.GetInvoiceBalance)
				r.Get("/payments", h.ListInvoicePayments)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RecordPayment)
			r.Post("/{id}/validate", h.ValidatePayment)
			r.Post("/{id}/reject", h.RejectPayment)
		})

		r.Route("/costs/{id}", func(r chi.Router) {
			r.Post("/approve", h.ApproveCost)
			r.Post("/dismiss", h.DismissCost)
		})
	})

	return r
}
