package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/domain"
	"github.com/meridianbank/ledger-service/internal/store"
	"github.com/meridianbank/ledger-service/pkg/rabbitmq"
)

// ledgerRepoStub is an in-memory Repository used across the app tests.
// Error injection fields force specific store calls to fail so the
// compensation paths can be exercised.
type ledgerRepoStub struct {
	store.Repository

	users    map[uuid.UUID]*domain.User
	accounts map[uuid.UUID]*domain.Account

	created       []*domain.Transaction
	statusUpdates map[uuid.UUID]string
	transactions  map[uuid.UUID][]domain.Transaction

	creditCalls []balanceCall
	debitCalls  []balanceCall
	setCalls    []balanceCall

	creditErrFor map[uuid.UUID]error
	debitErrFor  map[uuid.UUID]error
	createTxErr  error

	loans          map[uuid.UUID]*domain.Loan
	payments       []*domain.LoanPayment
	paymentErr     error
	paymentUpdates map[uuid.UUID]string
	transitions    []string
	transitionErr  error
	decrementErr   error
}

type balanceCall struct {
	userID uuid.UUID
	amount int64
}

func newLedgerRepoStub() *ledgerRepoStub {
	return &ledgerRepoStub{
		users:          make(map[uuid.UUID]*domain.User),
		accounts:       make(map[uuid.UUID]*domain.Account),
		statusUpdates:  make(map[uuid.UUID]string),
		transactions:   make(map[uuid.UUID][]domain.Transaction),
		creditErrFor:   make(map[uuid.UUID]error),
		debitErrFor:    make(map[uuid.UUID]error),
		loans:          make(map[uuid.UUID]*domain.Loan),
		paymentUpdates: make(map[uuid.UUID]string),
	}
}

func (s *ledgerRepoStub) addUser(email string, balance int64) uuid.UUID {
	userID := uuid.New()
	s.users[userID] = &domain.User{ID: userID, Email: email}
	s.accounts[userID] = &domain.Account{ID: uuid.New(), UserID: userID, Balance: balance}
	return userID
}

func (s *ledgerRepoStub) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return user, nil
}

func (s *ledgerRepoStub) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	account, ok := s.accounts[userID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *ledgerRepoStub) FindOrCreateAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	if account, ok := s.accounts[userID]; ok {
		copied := *account
		return &copied, nil
	}
	account := &domain.Account{ID: uuid.New(), UserID: userID}
	s.accounts[userID] = account
	copied := *account
	return &copied, nil
}

func (s *ledgerRepoStub) ListAccountUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(s.accounts))
	for userID := range s.accounts {
		ids = append(ids, userID)
	}
	return ids, nil
}

func (s *ledgerRepoStub) CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	if err := s.creditErrFor[userID]; err != nil {
		return err
	}
	s.creditCalls = append(s.creditCalls, balanceCall{userID: userID, amount: amount})
	if account, ok := s.accounts[userID]; ok {
		account.Balance += amount
	}
	return nil
}

func (s *ledgerRepoStub) DebitBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	if err := s.debitErrFor[userID]; err != nil {
		return err
	}
	account, ok := s.accounts[userID]
	if !ok {
		return store.ErrAccountNotFound
	}
	if account.Balance < amount {
		return store.ErrInsufficientFunds
	}
	s.debitCalls = append(s.debitCalls, balanceCall{userID: userID, amount: amount})
	account.Balance -= amount
	return nil
}

func (s *ledgerRepoStub) SetAccountBalance(ctx context.Context, userID uuid.UUID, balance int64) error {
	s.setCalls = append(s.setCalls, balanceCall{userID: userID, amount: balance})
	if account, ok := s.accounts[userID]; ok {
		account.Balance = balance
	} else {
		s.accounts[userID] = &domain.Account{ID: uuid.New(), UserID: userID, Balance: balance}
	}
	return nil
}

func (s *ledgerRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if s.createTxErr != nil {
		return s.createTxErr
	}
	copied := *tx
	s.created = append(s.created, &copied)
	return nil
}

func (s *ledgerRepoStub) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	s.statusUpdates[transactionID] = status
	return nil
}

func (s *ledgerRepoStub) FindTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	return s.transactions[userID], nil
}

func (s *ledgerRepoStub) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	copied := *loan
	s.loans[loan.ID] = &copied
	return nil
}

func (s *ledgerRepoStub) FindLoanByID(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, ok := s.loans[loanID]
	if !ok {
		return nil, store.ErrLoanNotFound
	}
	copied := *loan
	return &copied, nil
}

func (s *ledgerRepoStub) TransitionLoanStatus(ctx context.Context, loanID uuid.UUID, fromStatus, toStatus string, approvalDate *time.Time) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	loan, ok := s.loans[loanID]
	if !ok {
		return store.ErrLoanNotFound
	}
	if loan.Status != fromStatus {
		return store.ErrLoanStateConflict
	}
	loan.Status = toStatus
	if approvalDate != nil {
		loan.ApprovalDate = approvalDate
	}
	s.transitions = append(s.transitions, fromStatus+"->"+toStatus)
	return nil
}

func (s *ledgerRepoStub) DecrementLoanRemainingBalance(ctx context.Context, loanID uuid.UUID, amount int64) (int64, error) {
	if s.decrementErr != nil {
		return 0, s.decrementErr
	}
	loan, ok := s.loans[loanID]
	if !ok {
		return 0, store.ErrLoanNotFound
	}
	if loan.RemainingBalance < amount {
		return 0, store.ErrLoanStateConflict
	}
	loan.RemainingBalance -= amount
	return loan.RemainingBalance, nil
}

func (s *ledgerRepoStub) CreateLoanPayment(ctx context.Context, payment *domain.LoanPayment) error {
	if s.paymentErr != nil {
		return s.paymentErr
	}
	copied := *payment
	s.payments = append(s.payments, &copied)
	return nil
}

func (s *ledgerRepoStub) UpdateLoanPaymentStatus(ctx context.Context, paymentID uuid.UUID, status string) error {
	s.paymentUpdates[paymentID] = status
	return nil
}

func (s *ledgerRepoStub) SumCompletedLoanPayments(ctx context.Context, loanID uuid.UUID) (int64, error) {
	var sum int64
	for _, payment := range s.payments {
		if payment.LoanID == loanID && payment.Status == domain.TransactionStatusCompleted {
			sum += payment.Amount
		}
	}
	return sum, nil
}

// publisherStub counts event publishes.
type publisherStub struct {
	balanceEvents []rabbitmq.BalanceUpdatedEvent
	loanEvents    []rabbitmq.LoanStatusEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *publisherStub) PublishBalanceUpdated(ctx context.Context, event rabbitmq.BalanceUpdatedEvent) error {
	p.balanceEvents = append(p.balanceEvents, event)
	return nil
}

func (p *publisherStub) PublishLoanStatus(ctx context.Context, event rabbitmq.LoanStatusEvent) error {
	p.loanEvents = append(p.loanEvents, event)
	return nil
}

func (p *publisherStub) Close() {}

func newTestService(repo *ledgerRepoStub) (*Service, *publisherStub) {
	events := &publisherStub{}
	return NewService(repo, events, 0, 2, nil), events
}

func candidateFor(rowID int, email string, userID uuid.UUID, amount int64, txType string) domain.TransactionCandidate {
	resolved := userID
	return domain.TransactionCandidate{
		RowID:       rowID,
		RawEmail:    email,
		UserID:      &resolved,
		Amount:      amount,
		Description: "Bulk " + txType,
		Type:        txType,
		Valid:       true,
		Include:     true,
	}
}

func TestExecuteBatchPartialFailure(t *testing.T) {
	repo := newLedgerRepoStub()
	userA := repo.addUser("a@example.com", 0)
	userB := repo.addUser("b@example.com", 0)
	userC := repo.addUser("c@example.com", 100) // cannot cover the withdrawal

	candidates := []domain.TransactionCandidate{
		candidateFor(0, "a@example.com", userA, 5000, domain.TransactionTypeDeposit),
		candidateFor(1, "b@example.com", userB, 3000, domain.TransactionTypeDeposit),
		candidateFor(2, "c@example.com", userC, 5000, domain.TransactionTypeWithdrawal),
	}
	candidates[1].Include = false // operator deselected row B

	service, events := newTestService(repo)
	result := service.ExecuteBatch(context.Background(), "admin-1", candidates)

	if result.SuccessCount != 1 || result.FailedCount != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %d/%d", result.SuccessCount, result.FailedCount)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records (deselected row never submitted), got %d", len(result.Records))
	}
	if !result.Records[0].Success || result.Records[0].Email != "a@example.com" {
		t.Fatalf("expected row A to succeed, got %+v", result.Records[0])
	}
	if result.Records[1].Success || result.Records[1].Error != "Insufficient funds" {
		t.Fatalf("expected row C to fail with insufficient funds, got %+v", result.Records[1])
	}

	// Row B must leave no trace in the store.
	for _, tx := range repo.created {
		if tx.UserID == userB {
			t.Fatalf("deselected row must never reach the store, found %+v", tx)
		}
	}
	if repo.accounts[userA].Balance != 5000 {
		t.Fatalf("expected A credited 5000, got %d", repo.accounts[userA].Balance)
	}
	if repo.accounts[userC].Balance != 100 {
		t.Fatalf("failed withdrawal must not move C's balance, got %d", repo.accounts[userC].Balance)
	}
	if len(events.balanceEvents) != 1 {
		t.Fatalf("expected one balance event for the one affected user, got %d", len(events.balanceEvents))
	}

	// A retry over the same candidates resubmits only the failed row.
	retry := SelectFailedForRetry(candidates, result)
	if len(retry) != 1 || retry[0].RawEmail != "c@example.com" || !retry[0].Include {
		t.Fatalf("expected retry set to contain only row C, got %+v", retry)
	}
}

func TestExecuteBatchDepositCreditFailureMarksTransactionFailed(t *testing.T) {
	repo := newLedgerRepoStub()
	userID := repo.addUser("a@example.com", 0)
	repo.creditErrFor[userID] = errors.New("connection reset")

	service, events := newTestService(repo)
	result := service.ExecuteBatch(context.Background(), "admin-1", []domain.TransactionCandidate{
		candidateFor(0, "a@example.com", userID, 5000, domain.TransactionTypeDeposit),
	})

	if result.SuccessCount != 0 || result.FailedCount != 1 {
		t.Fatalf("expected the row to fail, got %+v", result)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected the pending transaction to be inserted, got %d", len(repo.created))
	}
	if status := repo.statusUpdates[repo.created[0].ID]; status != domain.TransactionStatusFailed {
		t.Fatalf("expected the transaction marked failed, got %q", status)
	}
	if len(events.balanceEvents) != 0 {
		t.Fatalf("no event should be published for an all-failed batch, got %d", len(events.balanceEvents))
	}
}

func TestExecuteBatchWithdrawalInsertFailureRefundsDebit(t *testing.T) {
	repo := newLedgerRepoStub()
	userID := repo.addUser("a@example.com", 10000)
	repo.createTxErr = errors.New("insert failed")

	service, _ := newTestService(repo)
	result := service.ExecuteBatch(context.Background(), "admin-1", []domain.TransactionCandidate{
		candidateFor(0, "a@example.com", userID, 4000, domain.TransactionTypeWithdrawal),
	})

	if result.FailedCount != 1 {
		t.Fatalf("expected the row to fail, got %+v", result)
	}
	if len(repo.debitCalls) != 1 || len(repo.creditCalls) != 1 {
		t.Fatalf("expected one debit and one compensating credit, got %d/%d", len(repo.debitCalls), len(repo.creditCalls))
	}
	if repo.accounts[userID].Balance != 10000 {
		t.Fatalf("compensation must restore the balance, got %d", repo.accounts[userID].Balance)
	}
}

func TestExecuteBatchSkipsInvalidRows(t *testing.T) {
	repo := newLedgerRepoStub()
	userID := repo.addUser("a@example.com", 0)

	invalid := candidateFor(0, "bad", userID, 0, domain.TransactionTypeDeposit)
	invalid.Valid = false
	invalid.Include = false
	invalid.UserID = nil

	service, _ := newTestService(repo)
	result := service.ExecuteBatch(context.Background(), "admin-1", []domain.TransactionCandidate{invalid})

	if len(result.Records) != 0 || result.SuccessCount != 0 || result.FailedCount != 0 {
		t.Fatalf("invalid rows must never be submitted, got %+v", result)
	}
	if len(repo.created) != 0 {
		t.Fatalf("expected no store writes, got %d", len(repo.created))
	}
}

func TestSelectFailedForRetry(t *testing.T) {
	userID := uuid.New()
	candidates := []domain.TransactionCandidate{
		candidateFor(0, "a@example.com", userID, 100, domain.TransactionTypeDeposit),
		candidateFor(1, "b@example.com", userID, 200, domain.TransactionTypeDeposit),
		candidateFor(2, "c@example.com", userID, 300, domain.TransactionTypeDeposit),
	}
	previous := domain.BatchResult{
		SuccessCount: 1,
		FailedCount:  2,
		Records: []domain.RecordOutcome{
			{RowID: 0, Email: "a@example.com", Success: true},
			{RowID: 1, Email: "B@example.com", Error: "Insufficient funds"},
			{RowID: 2, Email: "c@example.com", Error: "User not found"},
		},
	}

	retry := SelectFailedForRetry(candidates, previous)
	if len(retry) != 2 {
		t.Fatalf("expected 2 retry candidates, got %d", len(retry))
	}
	if retry[0].RawEmail != "b@example.com" || retry[1].RawEmail != "c@example.com" {
		t.Fatalf("expected failed rows b and c, got %+v", retry)
	}
	for _, candidate := range retry {
		if !candidate.Include {
			t.Fatalf("retry candidates must be re-included, got %+v", candidate)
		}
	}
}

func TestAdjustBalance(t *testing.T) {
	repo := newLedgerRepoStub()
	userID := repo.addUser("a@example.com", 10000)
	service, events := newTestService(repo)

	if _, err := service.AdjustBalance(context.Background(), "admin-1", userID, domain.AdjustBalanceRequest{Delta: 0}); !errors.Is(err, ErrInvalidAdjustment) {
		t.Fatalf("expected ErrInvalidAdjustment for zero delta, got %v", err)
	}

	tx, err := service.AdjustBalance(context.Background(), "admin-1", userID, domain.AdjustBalanceRequest{Delta: -2500, Description: "Correction"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Type != domain.TransactionTypeWithdrawal || tx.Amount != 2500 {
		t.Fatalf("negative delta must record a withdrawal of the absolute amount, got %+v", tx)
	}
	if repo.accounts[userID].Balance != 7500 {
		t.Fatalf("expected balance 7500 after adjustment, got %d", repo.accounts[userID].Balance)
	}
	if len(events.balanceEvents) != 1 {
		t.Fatalf("expected a balance event, got %d", len(events.balanceEvents))
	}

	// A delta the account cannot cover must fail without a partial write.
	if _, err := service.AdjustBalance(context.Background(), "admin-1", userID, domain.AdjustBalanceRequest{Delta: -999999}); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if repo.accounts[userID].Balance != 7500 {
		t.Fatalf("failed adjustment must not move the balance, got %d", repo.accounts[userID].Balance)
	}
}

func TestAdjustBalanceCompensatesFailedAuditInsert(t *testing.T) {
	repo := newLedgerRepoStub()
	userID := repo.addUser("a@example.com", 1000)
	repo.createTxErr = errors.New("insert failed")

	service, _ := newTestService(repo)
	if _, err := service.AdjustBalance(context.Background(), "admin-1", userID, domain.AdjustBalanceRequest{Delta: 500}); err == nil {
		t.Fatal("expected an error when the audit insert fails")
	}
	if repo.accounts[userID].Balance != 1000 {
		t.Fatalf("compensation must restore the balance, got %d", repo.accounts[userID].Balance)
	}
}
