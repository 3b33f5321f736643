/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require admin authentication.
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(jwksURL))

		// Bulk import pipeline
		r.Get("/imports/template", h.ImportTemplateHandler)
		r.Post("/imports/parse", h.ParseImportHandler)
		r.Post("/imports/execute", h.ExecuteImportHandler)
		r.Post("/imports/retry", h.RetryImportHandler)
		r.Post("/imports/report", h.ImportReportHandler)

		// Accounts and transactions
		r.Get("/accounts/{userID}", h.GetAccountHandler)
		r.Post("/accounts/{userID}/adjust", h.AdjustBalanceHandler)
		r.Get("/accounts/{userID}/transactions", h.ListTransactionsHandler)

		// Loans
		r.Post("/loans", h.ApplyForLoanHandler)
		r.Get("/loans/{loanID}", h.GetLoanHandler)
		r.Post("/loans/{loanID}/approve", h.ApproveLoanHandler)
		r.Post("/loans/{loanID}/reject", h.RejectLoanHandler)
		r.Post("/loans/{loanID}/default", h.DefaultLoanHandler)
		r.Post("/loans/{loanID}/payments", h.PayLoanHandler)
		r.Get("/loans/{loanID}/payments", h.ListLoanPaymentsHandler)
		r.Get("/users/{userID}/loans", h.ListUserLoansHandler)
	})

	// Service-to-service endpoints guarded by the shared internal key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/reconcile", h.ReconcileAllHandler)
		r.Post("/internal/reconcile/{userID}", h.ReconcileAccountHandler)
	})

	return r
}
