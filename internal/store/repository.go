/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the ledger-service. By defining an
 * interface, we decouple the application's business logic from the specific
 * database implementation (e.g., PostgreSQL), making the code more modular and
 * easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// MapUserIDsByEmail returns lowercased email -> user id for every known
	// user; the bulk-import parser resolves candidate rows against this map.
	MapUserIDsByEmail(ctx context.Context) (map[string]uuid.UUID, error)

	// Account methods
	FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	FindOrCreateAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	ListAccountUserIDs(ctx context.Context) ([]uuid.UUID, error)
	// CreditBalance and DebitBalance are the only hot-path balance mutations.
	// Both apply a delta inside a row-locked database transaction; DebitBalance
	// fails with ErrInsufficientFunds when the account cannot cover the amount.
	CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) error
	DebitBalance(ctx context.Context, userID uuid.UUID, amount int64) error
	// SetAccountBalance writes a log-derived balance. Reserved for the
	// reconciler; creates the account row when none exists.
	SetAccountBalance(ctx context.Context, userID uuid.UUID, balance int64) error

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error
	FindTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error)
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)

	// Loan methods
	CreateLoan(ctx context.Context, loan *domain.Loan) error
	FindLoanByID(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	FindLoansByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error)
	// TransitionLoanStatus moves a loan from one status to another and returns
	// ErrLoanStateConflict when the loan is no longer in fromStatus.
	TransitionLoanStatus(ctx context.Context, loanID uuid.UUID, fromStatus, toStatus string, approvalDate *time.Time) error
	DecrementLoanRemainingBalance(ctx context.Context, loanID uuid.UUID, amount int64) (int64, error)

	// Loan payment methods
	CreateLoanPayment(ctx context.Context, payment *domain.LoanPayment) error
	UpdateLoanPaymentStatus(ctx context.Context, paymentID uuid.UUID, status string) error
	FindLoanPaymentsByLoanID(ctx context.Context, loanID uuid.UUID) ([]domain.LoanPayment, error)
	SumCompletedLoanPayments(ctx context.Context, loanID uuid.UUID) (int64, error)
}
