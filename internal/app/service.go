/**
 * @description
 * This file contains the core business logic for the ledger-service. The
 * `Service` struct orchestrates every ledger mutation, coordinating between the
 * database repository and the message broker.
 *
 * Key features:
 * - Implements the settlement executor: the only component that posts
 *   human-initiated transactions to the ledger, one independent store call
 *   sequence per row, with per-row outcomes aggregated into a batch report.
 * - Implements the retry path that re-derives the previously failed subset so
 *   already-succeeded rows are never double-counted.
 * - Routes every balance mutation through the store's atomic credit/debit
 *   operations; no code path writes a client-computed absolute balance.
 * - Publishes refresh events to RabbitMQ once a batch lands at least one row.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/importer, pkg/rabbitmq: For the import pipeline and event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/domain"
	"github.com/meridianbank/ledger-service/internal/importer"
	"github.com/meridianbank/ledger-service/internal/store"
	"github.com/meridianbank/ledger-service/pkg/rabbitmq"
)

var (
	ErrInvalidAdjustment = errors.New("adjustment delta must be non-zero")
	ErrRateLimited       = errors.New("too many import executions; slow down")
)

// Row failure reasons surfaced in batch reports. Raw store errors are never
// shown to operators without translation.
const (
	reasonUserNotFound      = "User not found"
	reasonInsufficientFunds = "Insufficient funds"
	reasonStoreFailure      = "Temporary storage error; this row can be retried"
	reasonUnknownFailure    = "Unexpected error while recording the transaction"
)

// RateLimiter bounds how often a subject may perform an action within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo            store.Repository
	events          rabbitmq.Publisher
	maxUploadBytes  int64
	sweepWorkers    int
	loanRates       map[string]float64
	importLimiter   RateLimiter
	importRateLimit int
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, events rabbitmq.Publisher, maxUploadBytes int64, sweepWorkers int, loanRates map[string]float64) *Service {
	if maxUploadBytes <= 0 {
		maxUploadBytes = importer.DefaultMaxUploadBytes
	}
	if sweepWorkers <= 0 {
		sweepWorkers = 4
	}
	return &Service{
		repo:           repo,
		events:         events,
		maxUploadBytes: maxUploadBytes,
		sweepWorkers:   sweepWorkers,
		loanRates:      loanRates,
	}
}

// MaxUploadBytes reports the configured ceiling for import uploads so the
// transport layer can cap request bodies before buffering them.
func (s *Service) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// SetImportRateLimiter installs a distributed rate limiter for batch execution.
func (s *Service) SetImportRateLimiter(limiter RateLimiter, perMinute int) {
	s.importLimiter = limiter
	s.importRateLimit = perMinute
}

// CheckImportRateLimit consumes one execution slot for the acting admin. It
// fails open when the limiter is unavailable: bulk settlement must not depend
// on Redis being up.
func (s *Service) CheckImportRateLimit(ctx context.Context, actorID string) (retryAfterSeconds int, err error) {
	if s.importLimiter == nil || s.importRateLimit <= 0 {
		return 0, nil
	}
	count, retryAfter, limiterErr := s.importLimiter.ConsumeRateLimit(ctx, "import_execute", actorID, s.importRateLimit, time.Minute)
	if limiterErr != nil {
		log.Printf("level=warn component=app msg=\"import rate limiter unavailable; allowing request\" actor=%s err=%v", actorID, limiterErr)
		return 0, nil
	}
	if count > s.importRateLimit {
		return retryAfter, ErrRateLimited
	}
	return 0, nil
}

// ParseImport runs the upload through acceptance checks, decodes spreadsheets
// to text, and parses the rows against the current known-users map. Acceptance
// violations short-circuit before any state is touched.
func (s *Service) ParseImport(ctx context.Context, filename string, content []byte, transactionType string) ([]domain.TransactionCandidate, error) {
	rawText, err := importer.DecodeUpload(filename, content, s.maxUploadBytes)
	if err != nil {
		return nil, err
	}

	usersByEmail, err := s.repo.MapUserIDsByEmail(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load known users: %w", err)
	}

	return importer.Parse(rawText, transactionType, usersByEmail)
}

// ExecuteBatch submits the operator-confirmed candidates to the ledger, one
// independent create sequence per row. There is no enclosing transaction
// across the batch: a row either lands as a completed transaction or is
// reported failed with a human-readable reason, and earlier successes are
// never rolled back by a later failure. A panic anywhere in the batch is
// recovered and reported as an all-rows-failed result.
func (s *Service) ExecuteBatch(ctx context.Context, actorID string, candidates []domain.TransactionCandidate) (result domain.BatchResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("level=error component=app msg=\"batch execution panicked; reporting all rows failed\" actor=%s panic=%v", actorID, rec)
			result = domain.BatchResult{}
			for _, candidate := range candidates {
				if !candidate.Valid || !candidate.Include {
					continue
				}
				result.FailedCount++
				result.Records = append(result.Records, domain.RecordOutcome{
					RowID: candidate.RowID,
					Email: candidate.RawEmail,
					Error: reasonUnknownFailure,
				})
			}
		}
	}()

	affected := make(map[uuid.UUID]bool)
	for _, candidate := range candidates {
		if !candidate.Valid || !candidate.Include {
			continue
		}

		outcome := s.settleCandidate(ctx, candidate)
		result.Records = append(result.Records, outcome)
		if outcome.Success {
			result.SuccessCount++
			if candidate.UserID != nil {
				affected[*candidate.UserID] = true
			}
		} else {
			result.FailedCount++
		}
	}

	log.Printf("level=info component=app msg=\"batch executed\" actor=%s submitted=%d success=%d failed=%d",
		actorID, result.SuccessCount+result.FailedCount, result.SuccessCount, result.FailedCount)

	if result.SuccessCount > 0 && s.events != nil {
		for userID := range affected {
			event := rabbitmq.BalanceUpdatedEvent{UserID: userID, Source: "bulk_import", Timestamp: time.Now().UTC()}
			if err := s.events.PublishBalanceUpdated(ctx, event); err != nil {
				log.Printf("level=warn component=app msg=\"balance event publish failed\" user_id=%s err=%v", userID, err)
			}
		}
	}

	return result
}

// settleCandidate posts one candidate row to the ledger.
func (s *Service) settleCandidate(ctx context.Context, candidate domain.TransactionCandidate) domain.RecordOutcome {
	outcome := domain.RecordOutcome{RowID: candidate.RowID, Email: candidate.RawEmail}

	if candidate.UserID == nil {
		// Valid candidates always carry a resolved user; this guards callers
		// that hand-build candidate slices.
		outcome.Error = reasonUserNotFound
		return outcome
	}
	userID := *candidate.UserID

	account, err := s.repo.FindOrCreateAccount(ctx, userID)
	if err != nil {
		log.Printf("level=warn component=app msg=\"account lookup failed\" user_id=%s row=%d err=%v", userID, candidate.RowID, err)
		outcome.Error = translateRowError(err)
		return outcome
	}

	method := "bulk_import"
	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		AccountID:   account.ID,
		Amount:      candidate.Amount,
		Type:        candidate.Type,
		Description: candidate.Description,
		Method:      &method,
	}

	switch candidate.Type {
	case domain.TransactionTypeWithdrawal:
		// Debit first so insufficient funds surfaces before anything is
		// written to the log.
		if err := s.repo.DebitBalance(ctx, userID, candidate.Amount); err != nil {
			outcome.Error = translateRowError(err)
			return outcome
		}
		txRecord.Status = domain.TransactionStatusCompleted
		if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
			// Refund the debited amount since the ledger insert failed.
			if refundErr := s.repo.CreditBalance(ctx, userID, candidate.Amount); refundErr != nil {
				log.Printf("level=error component=app msg=\"refund after failed withdrawal insert failed; balance will self-heal on next reconciliation\" user_id=%s amount=%d err=%v", userID, candidate.Amount, refundErr)
			}
			outcome.Error = translateRowError(err)
			return outcome
		}
	default:
		txRecord.Status = domain.TransactionStatusPending
		if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
			outcome.Error = translateRowError(err)
			return outcome
		}
		if err := s.repo.CreditBalance(ctx, userID, candidate.Amount); err != nil {
			if failErr := s.repo.UpdateTransactionStatus(ctx, txRecord.ID, domain.TransactionStatusFailed); failErr != nil {
				log.Printf("level=error component=app msg=\"failed to mark transaction failed\" transaction_id=%s err=%v", txRecord.ID, failErr)
			}
			outcome.Error = translateRowError(err)
			return outcome
		}
		if err := s.repo.UpdateTransactionStatus(ctx, txRecord.ID, domain.TransactionStatusCompleted); err != nil {
			// The credit landed but the status update did not; the record
			// stays pending and the balance is corrected by the next sweep.
			log.Printf("level=error component=app msg=\"failed to mark transaction completed\" transaction_id=%s err=%v", txRecord.ID, err)
			if refundErr := s.repo.DebitBalance(ctx, userID, candidate.Amount); refundErr != nil {
				log.Printf("level=error component=app msg=\"compensating debit failed; balance will self-heal on next reconciliation\" user_id=%s amount=%d err=%v", userID, candidate.Amount, refundErr)
			}
			outcome.Error = translateRowError(err)
			return outcome
		}
	}

	outcome.Success = true
	return outcome
}

// SelectFailedForRetry re-derives the previously failed subset of a batch by
// matching candidate emails against the failed records of the prior result.
// Rows that succeeded are excluded so a retry can never double-count them.
func SelectFailedForRetry(candidates []domain.TransactionCandidate, previous domain.BatchResult) []domain.TransactionCandidate {
	failed := make(map[string]bool, previous.FailedCount)
	for _, record := range previous.Records {
		if !record.Success {
			failed[normalizeEmail(record.Email)] = true
		}
	}

	var retry []domain.TransactionCandidate
	for _, candidate := range candidates {
		if candidate.Valid && failed[normalizeEmail(candidate.RawEmail)] {
			candidate.Include = true
			retry = append(retry, candidate)
		}
	}
	return retry
}

// AdjustBalance applies an admin-initiated signed delta to a user's account
// through the atomic credit/debit operations and records a matching audit
// transaction. Absolute "set balance" writes are deliberately not offered.
func (s *Service) AdjustBalance(ctx context.Context, actorID string, userID uuid.UUID, req domain.AdjustBalanceRequest) (*domain.Transaction, error) {
	if req.Delta == 0 {
		return nil, ErrInvalidAdjustment
	}

	if _, err := s.repo.FindUserByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	account, err := s.repo.FindOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	amount := req.Delta
	txType := domain.TransactionTypeDeposit
	if amount < 0 {
		amount = -amount
		txType = domain.TransactionTypeWithdrawal
	}

	description := req.Description
	if description == "" {
		description = "Admin balance adjustment"
	}

	if txType == domain.TransactionTypeDeposit {
		if err := s.repo.CreditBalance(ctx, userID, amount); err != nil {
			return nil, fmt.Errorf("failed to credit account: %w", err)
		}
	} else {
		if err := s.repo.DebitBalance(ctx, userID, amount); err != nil {
			return nil, err
		}
	}

	method := "admin_adjustment"
	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		AccountID:   account.ID,
		Amount:      amount,
		Type:        txType,
		Status:      domain.TransactionStatusCompleted,
		Description: description,
		Method:      &method,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		// Reverse the balance change since the audit insert failed.
		var compErr error
		if txType == domain.TransactionTypeDeposit {
			compErr = s.repo.DebitBalance(ctx, userID, amount)
		} else {
			compErr = s.repo.CreditBalance(ctx, userID, amount)
		}
		if compErr != nil {
			log.Printf("level=error component=app msg=\"compensation after failed adjustment insert failed; balance will self-heal on next reconciliation\" user_id=%s amount=%d err=%v", userID, amount, compErr)
		}
		return nil, fmt.Errorf("failed to record adjustment: %w", err)
	}

	log.Printf("level=info component=app msg=\"balance adjusted\" actor=%s user_id=%s delta=%d", actorID, userID, req.Delta)

	if s.events != nil {
		event := rabbitmq.BalanceUpdatedEvent{UserID: userID, Source: "admin_adjustment", Timestamp: time.Now().UTC()}
		if err := s.events.PublishBalanceUpdated(ctx, event); err != nil {
			log.Printf("level=warn component=app msg=\"balance event publish failed\" user_id=%s err=%v", userID, err)
		}
	}

	return txRecord, nil
}

// GetAccountView returns the stored account alongside the log-derived balance
// so callers can observe drift; any drift is logged and left for the sweep.
func (s *Service) GetAccountView(ctx context.Context, userID uuid.UUID) (*domain.AccountView, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.repo.FindTransactionsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	derived := deriveBalance(transactions)
	view := &domain.AccountView{
		Account:        *account,
		DerivedBalance: derived,
		Drift:          account.Balance - derived,
	}
	if view.Drift != 0 {
		log.Printf("level=warn component=app msg=\"balance drift observed\" user_id=%s stored=%d derived=%d", userID, account.Balance, derived)
	}
	return view, nil
}

// ListTransactions returns the full transaction history for a user.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByUserID(ctx, userID)
}

func translateRowError(err error) string {
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return reasonUserNotFound
	case errors.Is(err, store.ErrInsufficientFunds):
		return reasonInsufficientFunds
	case errors.Is(err, store.ErrAccountNotFound):
		return reasonUserNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return reasonStoreFailure
	case err != nil:
		return reasonStoreFailure
	default:
		return reasonUnknownFailure
	}
}
