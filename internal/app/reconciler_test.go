package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/domain"
)

func TestDeriveBalance(t *testing.T) {
	tests := []struct {
		name         string
		transactions []domain.Transaction
		want         int64
	}{
		{
			name: "empty log derives zero",
			want: 0,
		},
		{
			name: "completed deposits add and withdrawals subtract",
			transactions: []domain.Transaction{
				{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 10000},
				{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 2500},
				{Type: domain.TransactionTypeWithdrawal, Status: domain.TransactionStatusCompleted, Amount: 4000},
			},
			want: 8500,
		},
		{
			name: "pending and failed rows carry no weight",
			transactions: []domain.Transaction{
				{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 10000},
				{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusPending, Amount: 5000},
				{Type: domain.TransactionTypeWithdrawal, Status: domain.TransactionStatusFailed, Amount: 3000},
			},
			want: 10000,
		},
		{
			name: "transfers are settled by their paired legs",
			transactions: []domain.Transaction{
				{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 10000},
				{Type: domain.TransactionTypeTransfer, Status: domain.TransactionStatusCompleted, Amount: 7000},
			},
			want: 10000,
		},
		{
			name: "withdrawals can drive the derived balance negative",
			transactions: []domain.Transaction{
				{Type: domain.TransactionTypeWithdrawal, Status: domain.TransactionStatusCompleted, Amount: 100},
			},
			want: -100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveBalance(tt.transactions); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestReconcileRepairsDriftAndIsIdempotent(t *testing.T) {
	repo := newLedgerRepoStub()
	userID := repo.addUser("a@example.com", 99999) // drifted stored counter
	repo.transactions[userID] = []domain.Transaction{
		{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 10000},
		{Type: domain.TransactionTypeWithdrawal, Status: domain.TransactionStatusCompleted, Amount: 2500},
	}

	service, _ := newTestService(repo)

	derived, repaired, err := service.Reconcile(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if derived != 7500 || !repaired {
		t.Fatalf("expected a repair to 7500, got derived=%d repaired=%t", derived, repaired)
	}
	if len(repo.setCalls) != 1 || repo.setCalls[0].amount != 7500 {
		t.Fatalf("expected one balance write of 7500, got %+v", repo.setCalls)
	}

	// Running again converges with no further writes.
	derived, repaired, err = service.Reconcile(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if derived != 7500 || repaired {
		t.Fatalf("expected a no-op second pass, got derived=%d repaired=%t", derived, repaired)
	}
	if len(repo.setCalls) != 1 {
		t.Fatalf("a converged account must not be rewritten, got %d writes", len(repo.setCalls))
	}
}

func TestReconcileCreatesMissingAccountRow(t *testing.T) {
	repo := newLedgerRepoStub()
	service, _ := newTestService(repo)

	// Transactions can exist before an account row does; reconciling must
	// create the row with the derived balance.
	userID := uuid.New()
	repo.transactions[userID] = []domain.Transaction{
		{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 4200},
	}

	derived, repaired, err := service.Reconcile(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if derived != 4200 || !repaired {
		t.Fatalf("expected a repair to 4200, got derived=%d repaired=%t", derived, repaired)
	}
	if account, ok := repo.accounts[userID]; !ok || account.Balance != 4200 {
		t.Fatalf("expected the account row created with the derived balance, got %+v", repo.accounts[userID])
	}
}

func TestReconcileAllSweepsEveryAccount(t *testing.T) {
	repo := newLedgerRepoStub()

	drifted := repo.addUser("drifted@example.com", 123)
	repo.transactions[drifted] = []domain.Transaction{
		{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 5000},
	}

	clean := repo.addUser("clean@example.com", 2000)
	repo.transactions[clean] = []domain.Transaction{
		{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 2000},
	}

	repo.addUser("empty@example.com", 0)

	service, _ := newTestService(repo)
	result, err := service.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Visited != 3 {
		t.Fatalf("expected 3 accounts visited, got %d", result.Visited)
	}
	if result.Repaired != 1 {
		t.Fatalf("expected exactly the drifted account repaired, got %d", result.Repaired)
	}
	if result.Failed != 0 {
		t.Fatalf("expected no failures, got %d", result.Failed)
	}
	if repo.accounts[drifted].Balance != 5000 {
		t.Fatalf("expected the drifted account repaired to 5000, got %d", repo.accounts[drifted].Balance)
	}
	if repo.accounts[clean].Balance != 2000 {
		t.Fatalf("the clean account must be untouched, got %d", repo.accounts[clean].Balance)
	}
}

func TestGetAccountViewReportsDrift(t *testing.T) {
	repo := newLedgerRepoStub()
	userID := repo.addUser("a@example.com", 9000)
	repo.transactions[userID] = []domain.Transaction{
		{Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusCompleted, Amount: 7000},
	}

	service, _ := newTestService(repo)
	view, err := service.GetAccountView(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.DerivedBalance != 7000 {
		t.Fatalf("expected derived 7000, got %d", view.DerivedBalance)
	}
	if view.Drift != 2000 {
		t.Fatalf("expected drift 2000, got %d", view.Drift)
	}
	// Observation must not repair; repair belongs to the reconciler.
	if len(repo.setCalls) != 0 {
		t.Fatalf("a read must not write, got %d balance writes", len(repo.setCalls))
	}
}
