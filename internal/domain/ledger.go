/**
 * @description
 * This file defines the core domain models for the ledger-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout
 * the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and pipeline-internal
 *   candidates ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types.
const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeTransfer   = "transfer"
)

// Transaction statuses.
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Transaction is an immutable ledger fact. It maps directly to the
// `transactions` table; after insertion only `status` may ever change.
type Transaction struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	AccountID   uuid.UUID `json:"account_id"`
	Amount      int64     `json:"amount"` // in cents, always positive
	Type        string    `json:"type"`   // 'deposit', 'withdrawal', 'transfer'
	Status      string    `json:"status"` // 'pending', 'completed', 'failed'
	Description string    `json:"description"`
	Method      *string   `json:"method,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Account is the derived aggregate over a user's transaction log. The balance
// column is only ever mutated by the atomic credit/debit operations or by the
// reconciler; it is never written from a client-computed absolute value.
type Account struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"` // in cents
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the simplified view of a portal user needed by the ledger-service.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName *string   `json:"full_name,omitempty"`
}

// TransactionCandidate is one parsed bulk-import row awaiting operator
// approval. Candidates are pipeline-internal and never persisted; they are
// created by parsing, mutated by validation and operator include toggles, and
// consumed read-only by the settlement executor.
type TransactionCandidate struct {
	RowID       int        `json:"row_id"` // position in the source, header excluded
	RawEmail    string     `json:"email"`
	UserID      *uuid.UUID `json:"user_id,omitempty"` // resolved from RawEmail, nil when unknown
	Amount      int64      `json:"amount"`            // in cents
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Errors      []string   `json:"errors,omitempty"`
	Valid       bool       `json:"valid"`
	Include     bool       `json:"include"`
}

// RecordOutcome captures the result of submitting one candidate row.
type RecordOutcome struct {
	RowID   int    `json:"row_id"`
	Email   string `json:"email"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResult summarizes one settlement-executor run over a candidate batch.
// Records preserves submission order so failed rows can be re-selected later.
type BatchResult struct {
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	Records      []RecordOutcome `json:"records"`
}

// AdjustBalanceRequest is the DTO for an admin-initiated balance adjustment.
// The delta is applied through the atomic credit/debit operations, never as an
// absolute balance write.
type AdjustBalanceRequest struct {
	Delta       int64  `json:"delta"` // in cents, signed
	Description string `json:"description"`
}

// AccountView is returned by balance reads. DerivedBalance carries the
// log-derived figure so callers can observe drift next to the stored counter.
type AccountView struct {
	Account        Account `json:"account"`
	DerivedBalance int64   `json:"derived_balance"`
	Drift          int64   `json:"drift"`
}

// SweepResult summarizes one reconcile-all maintenance pass.
type SweepResult struct {
	Visited  int `json:"visited"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}
