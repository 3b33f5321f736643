/**
 * @description
 * HTTP handlers for the loan subsystem: origination, the approve/reject
 * decisions, repayments, and read endpoints. Every mutation is attributed to
 * the acting admin resolved by the auth middleware.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/app"
	"github.com/meridianbank/ledger-service/internal/domain"
	"github.com/meridianbank/ledger-service/internal/store"
)

// ApplyForLoanHandler creates a pending loan application with its
// amortization terms computed from the current product rate.
func (h *LedgerHandlers) ApplyForLoanHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAdminID(r.Context()); !ok {
		h.writeError(w, http.StatusUnauthorized, "Admin identity not found")
		return
	}

	var req domain.LoanApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	loan, err := h.service.ApplyForLoan(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidLoanAmount):
			h.writeError(w, http.StatusBadRequest, "Loan amount must be positive")
		case errors.Is(err, app.ErrInvalidLoanTerm):
			h.writeError(w, http.StatusBadRequest, "Loan term must be a positive number of months")
		case errors.Is(err, app.ErrUnknownLoanType):
			h.writeError(w, http.StatusBadRequest, "Unknown loan type")
		case errors.Is(err, store.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "Applicant not found")
		default:
			log.Printf("level=error component=api msg=\"loan application failed\" user_id=%s err=%v", req.UserID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to create loan application")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, loan)
}

// GetLoanHandler returns a single loan.
func (h *LedgerHandlers) GetLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		if errors.Is(err, store.ErrLoanNotFound) {
			h.writeError(w, http.StatusNotFound, "Loan not found")
			return
		}
		log.Printf("level=error component=api msg=\"loan lookup failed\" loan_id=%s err=%v", loanID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load loan")
		return
	}

	h.writeJSON(w, http.StatusOK, loan)
}

// ListUserLoansHandler returns all loans for a user, newest first.
func (h *LedgerHandlers) ListUserLoansHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}

	loans, err := h.service.ListLoans(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api msg=\"loan list failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load loans")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"loans": loans})
}

// ApproveLoanHandler approves a pending loan and disburses the principal.
func (h *LedgerHandlers) ApproveLoanHandler(w http.ResponseWriter, r *http.Request) {
	h.decideLoan(w, r, h.service.ApproveLoan)
}

// RejectLoanHandler rejects a pending loan.
func (h *LedgerHandlers) RejectLoanHandler(w http.ResponseWriter, r *http.Request) {
	h.decideLoan(w, r, h.service.RejectLoan)
}

// DefaultLoanHandler writes off an active loan.
func (h *LedgerHandlers) DefaultLoanHandler(w http.ResponseWriter, r *http.Request) {
	h.decideLoan(w, r, h.service.MarkLoanDefaulted)
}

func (h *LedgerHandlers) decideLoan(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, actorID string, loanID uuid.UUID) (*domain.Loan, error)) {
	adminID, ok := GetAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Admin identity not found")
		return
	}

	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	loan, err := decide(r.Context(), adminID, loanID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrLoanNotFound):
			h.writeError(w, http.StatusNotFound, "Loan not found")
		case errors.Is(err, app.ErrLoanNotPending), errors.Is(err, app.ErrLoanNotPayable):
			h.writeError(w, http.StatusConflict, "Loan is not in a state that allows this decision")
		default:
			log.Printf("level=error component=api msg=\"loan decision failed\" loan_id=%s err=%v", loanID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to apply loan decision")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, loan)
}

// PayLoanHandler applies a repayment against an active loan.
func (h *LedgerHandlers) PayLoanHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAdminID(r.Context()); !ok {
		h.writeError(w, http.StatusUnauthorized, "Admin identity not found")
		return
	}

	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	var req domain.LoanPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.service.PayLoan(r.Context(), loanID, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrLoanNotFound):
			h.writeError(w, http.StatusNotFound, "Loan not found")
		case errors.Is(err, app.ErrInvalidPaymentAmount):
			h.writeError(w, http.StatusBadRequest, "Payment amount must be positive")
		case errors.Is(err, app.ErrLoanNotPayable):
			h.writeError(w, http.StatusConflict, "Loan is not accepting repayments")
		case errors.Is(err, app.ErrPaymentExceedsBalance):
			h.writeError(w, http.StatusUnprocessableEntity, "Payment exceeds the remaining loan balance")
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusUnprocessableEntity, "Insufficient funds to cover the payment")
		default:
			log.Printf("level=error component=api msg=\"loan payment failed\" loan_id=%s err=%v", loanID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to apply loan payment")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, payment)
}

// ListLoanPaymentsHandler returns the repayment history for a loan.
func (h *LedgerHandlers) ListLoanPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	payments, err := h.service.ListLoanPayments(r.Context(), loanID)
	if err != nil {
		if errors.Is(err, store.ErrLoanNotFound) {
			h.writeError(w, http.StatusNotFound, "Loan not found")
			return
		}
		log.Printf("level=error component=api msg=\"loan payment list failed\" loan_id=%s err=%v", loanID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load loan payments")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}
