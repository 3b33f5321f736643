/**
 * @description
 * Loan domain models: the loan record with its precomputed amortization
 * outputs, the append-only repayment records, and the API payloads for loan
 * origination and repayment.
 *
 * @notes
 * - Amortization outputs (monthly payment, total interest, total payment) are
 *   computed once at application time and stored, so a later change to the
 *   configured interest rate never alters an existing loan's terms.
 * - RemainingBalance tracks principal only; interest is not capitalized into it.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Loan statuses. Approval moves a loan pending -> active in one step, with the
// principal disbursed as part of the same operation; active -> completed or
// defaulted. rejected, completed and defaulted are terminal.
const (
	LoanStatusPending   = "pending"
	LoanStatusActive    = "active"
	LoanStatusRejected  = "rejected"
	LoanStatusCompleted = "completed"
	LoanStatusDefaulted = "defaulted"
)

// Loan product codes.
const (
	LoanTypePersonal = "personal"
	LoanTypeAuto     = "auto"
	LoanTypeHome     = "home"
	LoanTypeBusiness = "business"
)

// Loan maps to the `loans` table.
type Loan struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	LoanType         string     `json:"loan_type"`
	Amount           int64      `json:"amount"`        // principal in cents
	InterestRate     float64    `json:"interest_rate"` // annual, e.g. 0.085
	TermMonths       int        `json:"term_months"`
	MonthlyPayment   int64      `json:"monthly_payment"` // in cents
	Status           string     `json:"status"`
	ApplicationDate  time.Time  `json:"application_date"`
	ApprovalDate     *time.Time `json:"approval_date,omitempty"`
	TotalInterest    int64      `json:"total_interest"`    // in cents
	TotalPayment     int64      `json:"total_payment"`     // in cents
	RemainingBalance int64      `json:"remaining_balance"` // principal still owed, in cents
	Purpose          *string    `json:"purpose,omitempty"`
}

// LoanPayment maps to the `loan_payments` table. One row per repayment
// attempt, append-only.
type LoanPayment struct {
	ID          uuid.UUID `json:"id"`
	LoanID      uuid.UUID `json:"loan_id"`
	Amount      int64     `json:"amount"` // in cents
	PaymentDate time.Time `json:"payment_date"`
	Status      string    `json:"status"`
}

// LoanApplicationRequest is the DTO for a new loan application.
type LoanApplicationRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	LoanType   string    `json:"loan_type"`
	Amount     int64     `json:"amount"` // in cents
	TermMonths int       `json:"term_months"`
	Purpose    *string   `json:"purpose,omitempty"`
}

// LoanPaymentRequest is the DTO for a repayment against an active loan.
type LoanPaymentRequest struct {
	Amount int64 `json:"amount"` // in cents
}

// AmortizationTerms bundles the annuity-formula outputs stored on a loan.
type AmortizationTerms struct {
	MonthlyPayment int64 `json:"monthly_payment"`
	TotalInterest  int64 `json:"total_interest"`
	TotalPayment   int64 `json:"total_payment"`
}
