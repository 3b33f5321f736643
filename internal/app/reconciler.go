/**
 * @description
 * This file contains the balance reconciler. It derives an account's true
 * balance by folding over the user's completed transactions and repairs the
 * stored counter when the two disagree. Reconciliation is idempotent: running
 * it twice in a row converges to the same value with no further writes.
 *
 * Key features:
 * - Single-account reconcile used after compensation failures and on demand.
 * - Full-ledger sweep over all accounts with a bounded worker pool, designed
 *   to run on a schedule. Individual account failures are logged and skipped
 *   so one bad row never aborts the sweep.
 */

package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/domain"
	"github.com/meridianbank/ledger-service/internal/store"
)

// deriveBalance folds a user's transaction log into a balance. Only completed
// transactions count; deposits add, withdrawals subtract. Transfers are
// settled by their paired deposit/withdrawal legs and carry no weight here.
func deriveBalance(transactions []domain.Transaction) int64 {
	var balance int64
	for _, tx := range transactions {
		if tx.Status != domain.TransactionStatusCompleted {
			continue
		}
		switch tx.Type {
		case domain.TransactionTypeDeposit:
			balance += tx.Amount
		case domain.TransactionTypeWithdrawal:
			balance -= tx.Amount
		}
	}
	return balance
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Reconcile recomputes one user's balance from the transaction log and writes
// it back only when it differs from the stored counter. It returns the derived
// balance and whether a repair write was made.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) (int64, bool, error) {
	var stored int64
	haveAccount := true
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	switch {
	case err == nil:
		stored = account.Balance
	case errors.Is(err, store.ErrAccountNotFound):
		// A user can have transactions before an account row exists; the
		// repair write below creates the row with the derived balance.
		haveAccount = false
	default:
		return 0, false, err
	}

	transactions, err := s.repo.FindTransactionsByUserID(ctx, userID)
	if err != nil {
		return 0, false, err
	}

	derived := deriveBalance(transactions)
	if haveAccount && derived == stored {
		return derived, false, nil
	}

	log.Printf("level=warn component=reconciler msg=\"repairing drifted balance\" user_id=%s stored=%d derived=%d", userID, stored, derived)
	if err := s.repo.SetAccountBalance(ctx, userID, derived); err != nil {
		return 0, false, err
	}
	return derived, true, nil
}

// ReconcileAll sweeps every account through Reconcile with a bounded worker
// pool. Failures are counted, logged, and skipped.
func (s *Service) ReconcileAll(ctx context.Context) (domain.SweepResult, error) {
	userIDs, err := s.repo.ListAccountUserIDs(ctx)
	if err != nil {
		return domain.SweepResult{}, err
	}

	var (
		mu     sync.Mutex
		result domain.SweepResult
		wg     sync.WaitGroup
	)
	jobs := make(chan uuid.UUID)

	for i := 0; i < s.sweepWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				_, repaired, err := s.Reconcile(ctx, userID)
				mu.Lock()
				result.Visited++
				if err != nil {
					result.Failed++
				} else if repaired {
					result.Repaired++
				}
				mu.Unlock()
				if err != nil {
					log.Printf("level=warn component=reconciler msg=\"account reconcile failed; skipping\" user_id=%s err=%v", userID, err)
				}
			}
		}()
	}

	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return result, ctx.Err()
		case jobs <- userID:
		}
	}
	close(jobs)
	wg.Wait()

	log.Printf("level=info component=reconciler msg=\"sweep finished\" visited=%d repaired=%d failed=%d", result.Visited, result.Repaired, result.Failed)
	return result, nil
}
