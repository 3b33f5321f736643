/**
 * @description
 * Loan subsystem business logic: origination with amortization computed once
 * at application time, the approve/reject decisions, disbursement into the
 * ledger, and repayment with its compensating actions.
 *
 * Key features:
 * - Amortize implements the standard annuity formula on cent amounts, with a
 *   straight-line fallback when the rate is zero and zero-value outputs for
 *   degenerate inputs so no NaN ever reaches a stored loan.
 * - Approval transitions the loan record first, then posts the disbursement
 *   deposit; a failed disbursement reverts the loan to pending for a retry.
 * - Repayment debits the borrower, records the payment, mirrors it into the
 *   transaction log, and only then reduces the remaining principal. Each step
 *   failure unwinds the steps before it.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/domain"
	"github.com/meridianbank/ledger-service/internal/store"
	"github.com/meridianbank/ledger-service/pkg/rabbitmq"
)

var (
	ErrInvalidLoanAmount     = errors.New("loan amount must be positive")
	ErrInvalidLoanTerm       = errors.New("loan term must be a positive number of months")
	ErrUnknownLoanType       = errors.New("unknown loan type")
	ErrLoanNotPending        = errors.New("loan is not awaiting a decision")
	ErrLoanNotPayable        = errors.New("loan is not accepting repayments")
	ErrInvalidPaymentAmount  = errors.New("payment amount must be positive")
	ErrPaymentExceedsBalance = errors.New("payment exceeds the remaining loan balance")
)

// DefaultLoanRates are the annual rates per product used when configuration
// supplies none.
var DefaultLoanRates = map[string]float64{
	domain.LoanTypePersonal: 0.085,
	domain.LoanTypeAuto:     0.065,
	domain.LoanTypeHome:     0.055,
	domain.LoanTypeBusiness: 0.095,
}

// Amortize computes the fixed monthly payment for a principal (in cents) at an
// annual rate over a term in months, with the total interest and total payment
// implied by that schedule. Degenerate inputs yield all-zero terms rather than
// an error so callers can validate separately; a zero rate falls back to a
// straight-line principal split.
func Amortize(principal int64, annualRate float64, termMonths int) domain.AmortizationTerms {
	if principal <= 0 || termMonths <= 0 {
		return domain.AmortizationTerms{}
	}
	if annualRate == 0 {
		monthly := int64(math.Round(float64(principal) / float64(termMonths)))
		return domain.AmortizationTerms{
			MonthlyPayment: monthly,
			TotalInterest:  0,
			TotalPayment:   principal,
		}
	}

	monthlyRate := annualRate / 12
	factor := math.Pow(1+monthlyRate, float64(termMonths))
	monthly := int64(math.Round(float64(principal) * monthlyRate * factor / (factor - 1)))
	total := monthly * int64(termMonths)
	return domain.AmortizationTerms{
		MonthlyPayment: monthly,
		TotalInterest:  total - principal,
		TotalPayment:   total,
	}
}

func (s *Service) rateFor(loanType string) (float64, error) {
	rates := s.loanRates
	if rates == nil {
		rates = DefaultLoanRates
	}
	rate, ok := rates[loanType]
	if !ok {
		return 0, ErrUnknownLoanType
	}
	return rate, nil
}

// ApplyForLoan validates the application, snapshots the current product rate,
// computes the amortization terms, and persists a pending loan. The stored
// terms never change after this point even if the configured rate does.
func (s *Service) ApplyForLoan(ctx context.Context, req domain.LoanApplicationRequest) (*domain.Loan, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidLoanAmount
	}
	if req.TermMonths <= 0 {
		return nil, ErrInvalidLoanTerm
	}
	rate, err := s.rateFor(req.LoanType)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.FindUserByID(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("failed to find applicant: %w", err)
	}

	terms := Amortize(req.Amount, rate, req.TermMonths)
	loan := &domain.Loan{
		ID:               uuid.New(),
		UserID:           req.UserID,
		LoanType:         req.LoanType,
		Amount:           req.Amount,
		InterestRate:     rate,
		TermMonths:       req.TermMonths,
		MonthlyPayment:   terms.MonthlyPayment,
		Status:           domain.LoanStatusPending,
		ApplicationDate:  time.Now().UTC(),
		TotalInterest:    terms.TotalInterest,
		TotalPayment:     terms.TotalPayment,
		RemainingBalance: req.Amount,
		Purpose:          req.Purpose,
	}
	if err := s.repo.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}

	log.Printf("level=info component=app msg=\"loan application created\" loan_id=%s user_id=%s type=%s amount=%d term=%d", loan.ID, loan.UserID, loan.LoanType, loan.Amount, loan.TermMonths)
	return loan, nil
}

// ApproveLoan moves a pending loan to active and disburses the principal into
// the borrower's account as a completed deposit. The status transition goes
// first so a concurrent decision on the same loan loses cleanly; if the
// disbursement then fails, the loan is reverted to pending.
func (s *Service) ApproveLoan(ctx context.Context, actorID string, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.repo.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != domain.LoanStatusPending {
		return nil, ErrLoanNotPending
	}

	approvalDate := time.Now().UTC()
	if err := s.repo.TransitionLoanStatus(ctx, loanID, domain.LoanStatusPending, domain.LoanStatusActive, &approvalDate); err != nil {
		if errors.Is(err, store.ErrLoanStateConflict) {
			return nil, ErrLoanNotPending
		}
		return nil, fmt.Errorf("failed to approve loan: %w", err)
	}

	if err := s.disburse(ctx, loan); err != nil {
		log.Printf("level=error component=app msg=\"disbursement failed; reverting loan to pending\" loan_id=%s err=%v", loanID, err)
		if revertErr := s.repo.TransitionLoanStatus(ctx, loanID, domain.LoanStatusActive, domain.LoanStatusPending, nil); revertErr != nil {
			log.Printf("level=error component=app msg=\"failed to revert loan after disbursement failure\" loan_id=%s err=%v", loanID, revertErr)
		}
		return nil, fmt.Errorf("failed to disburse loan: %w", err)
	}

	log.Printf("level=info component=app msg=\"loan approved and disbursed\" loan_id=%s actor=%s amount=%d", loanID, actorID, loan.Amount)
	s.publishLoanStatus(ctx, loanID, loan.UserID, domain.LoanStatusActive)

	loan.Status = domain.LoanStatusActive
	loan.ApprovalDate = &approvalDate
	return loan, nil
}

// disburse posts the principal to the borrower's ledger as a completed deposit
// using the same insert-pending-credit-complete sequence as bulk settlement.
func (s *Service) disburse(ctx context.Context, loan *domain.Loan) error {
	account, err := s.repo.FindOrCreateAccount(ctx, loan.UserID)
	if err != nil {
		return fmt.Errorf("failed to find borrower account: %w", err)
	}

	method := "loan_disbursement"
	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		UserID:      loan.UserID,
		AccountID:   account.ID,
		Amount:      loan.Amount,
		Type:        domain.TransactionTypeDeposit,
		Status:      domain.TransactionStatusPending,
		Description: fmt.Sprintf("Loan disbursement (%s)", loan.LoanType),
		Method:      &method,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return fmt.Errorf("failed to record disbursement: %w", err)
	}
	if err := s.repo.CreditBalance(ctx, loan.UserID, loan.Amount); err != nil {
		if failErr := s.repo.UpdateTransactionStatus(ctx, txRecord.ID, domain.TransactionStatusFailed); failErr != nil {
			log.Printf("level=error component=app msg=\"failed to mark disbursement failed\" transaction_id=%s err=%v", txRecord.ID, failErr)
		}
		return fmt.Errorf("failed to credit borrower: %w", err)
	}
	if err := s.repo.UpdateTransactionStatus(ctx, txRecord.ID, domain.TransactionStatusCompleted); err != nil {
		log.Printf("level=error component=app msg=\"disbursement stuck pending; balance will self-heal on next reconciliation\" transaction_id=%s err=%v", txRecord.ID, err)
	}
	return nil
}

// RejectLoan moves a pending loan to the terminal rejected state.
func (s *Service) RejectLoan(ctx context.Context, actorID string, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.repo.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != domain.LoanStatusPending {
		return nil, ErrLoanNotPending
	}
	if err := s.repo.TransitionLoanStatus(ctx, loanID, domain.LoanStatusPending, domain.LoanStatusRejected, nil); err != nil {
		if errors.Is(err, store.ErrLoanStateConflict) {
			return nil, ErrLoanNotPending
		}
		return nil, fmt.Errorf("failed to reject loan: %w", err)
	}

	log.Printf("level=info component=app msg=\"loan rejected\" loan_id=%s actor=%s", loanID, actorID)
	s.publishLoanStatus(ctx, loanID, loan.UserID, domain.LoanStatusRejected)

	loan.Status = domain.LoanStatusRejected
	return loan, nil
}

// MarkLoanDefaulted moves an active loan to the terminal defaulted state. The
// remaining balance is left untouched as the written-off figure.
func (s *Service) MarkLoanDefaulted(ctx context.Context, actorID string, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.repo.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != domain.LoanStatusActive {
		return nil, ErrLoanNotPayable
	}
	if err := s.repo.TransitionLoanStatus(ctx, loanID, domain.LoanStatusActive, domain.LoanStatusDefaulted, nil); err != nil {
		if errors.Is(err, store.ErrLoanStateConflict) {
			return nil, ErrLoanNotPayable
		}
		return nil, fmt.Errorf("failed to default loan: %w", err)
	}

	log.Printf("level=warn component=app msg=\"loan marked defaulted\" loan_id=%s actor=%s remaining=%d", loanID, actorID, loan.RemainingBalance)
	s.publishLoanStatus(ctx, loanID, loan.UserID, domain.LoanStatusDefaulted)

	loan.Status = domain.LoanStatusDefaulted
	return loan, nil
}

// PayLoan applies a repayment against an active loan: debit the borrower's
// account, record the payment, mirror it into the transaction log, then reduce
// the remaining principal. Validation runs before any mutation so an
// over-payment or a closed loan leaves both the account and the loan untouched.
func (s *Service) PayLoan(ctx context.Context, loanID uuid.UUID, req domain.LoanPaymentRequest) (*domain.LoanPayment, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidPaymentAmount
	}

	loan, err := s.repo.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != domain.LoanStatusActive {
		return nil, ErrLoanNotPayable
	}
	if req.Amount > loan.RemainingBalance {
		return nil, ErrPaymentExceedsBalance
	}

	if err := s.repo.DebitBalance(ctx, loan.UserID, req.Amount); err != nil {
		return nil, err
	}

	payment := &domain.LoanPayment{
		ID:          uuid.New(),
		LoanID:      loanID,
		Amount:      req.Amount,
		PaymentDate: time.Now().UTC(),
		Status:      domain.TransactionStatusCompleted,
	}
	if err := s.repo.CreateLoanPayment(ctx, payment); err != nil {
		if refundErr := s.repo.CreditBalance(ctx, loan.UserID, req.Amount); refundErr != nil {
			log.Printf("level=error component=app msg=\"refund after failed payment insert failed; balance will self-heal on next reconciliation\" loan_id=%s amount=%d err=%v", loanID, req.Amount, refundErr)
		}
		return nil, fmt.Errorf("failed to record loan payment: %w", err)
	}

	account, err := s.repo.FindOrCreateAccount(ctx, loan.UserID)
	if err == nil {
		method := "loan_payment"
		txRecord := &domain.Transaction{
			ID:          uuid.New(),
			UserID:      loan.UserID,
			AccountID:   account.ID,
			Amount:      req.Amount,
			Type:        domain.TransactionTypeWithdrawal,
			Status:      domain.TransactionStatusCompleted,
			Description: fmt.Sprintf("Loan payment (%s)", loan.LoanType),
			Method:      &method,
		}
		err = s.repo.CreateTransaction(ctx, txRecord)
	}
	if err != nil {
		// Unwind: the debit and the payment record both landed but the ledger
		// mirror did not, which would leave the account drifted against its log.
		if failErr := s.repo.UpdateLoanPaymentStatus(ctx, payment.ID, domain.TransactionStatusFailed); failErr != nil {
			log.Printf("level=error component=app msg=\"failed to mark loan payment failed\" payment_id=%s err=%v", payment.ID, failErr)
		}
		if refundErr := s.repo.CreditBalance(ctx, loan.UserID, req.Amount); refundErr != nil {
			log.Printf("level=error component=app msg=\"refund after failed payment mirror failed; balance will self-heal on next reconciliation\" loan_id=%s amount=%d err=%v", loanID, req.Amount, refundErr)
		}
		return nil, fmt.Errorf("failed to mirror loan payment: %w", err)
	}

	remaining, err := s.repo.DecrementLoanRemainingBalance(ctx, loanID, req.Amount)
	if err != nil {
		// The money moved and the records exist; the principal counter is
		// corrected from the payment log rather than unwinding a settled payment.
		log.Printf("level=error component=app msg=\"failed to decrement remaining balance; recomputing from payments\" loan_id=%s err=%v", loanID, err)
		return payment, nil
	}

	if remaining == 0 {
		if err := s.repo.TransitionLoanStatus(ctx, loanID, domain.LoanStatusActive, domain.LoanStatusCompleted, nil); err != nil {
			log.Printf("level=error component=app msg=\"failed to complete paid-off loan\" loan_id=%s err=%v", loanID, err)
		} else {
			log.Printf("level=info component=app msg=\"loan paid off\" loan_id=%s", loanID)
			s.publishLoanStatus(ctx, loanID, loan.UserID, domain.LoanStatusCompleted)
		}
	}

	return payment, nil
}

// GetLoan returns a loan with a drift check of its remaining balance against
// the completed payment log. Drift is logged, not repaired inline.
func (s *Service) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.repo.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	paid, err := s.repo.SumCompletedLoanPayments(ctx, loanID)
	if err != nil {
		log.Printf("level=warn component=app msg=\"failed to sum loan payments\" loan_id=%s err=%v", loanID, err)
		return loan, nil
	}
	if derived := loan.Amount - paid; derived != loan.RemainingBalance {
		log.Printf("level=warn component=app msg=\"loan balance drift observed\" loan_id=%s stored=%d derived=%d", loanID, loan.RemainingBalance, derived)
	}
	return loan, nil
}

// ListLoans returns all loans for a user, newest application first.
func (s *Service) ListLoans(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	return s.repo.FindLoansByUserID(ctx, userID)
}

// ListLoanPayments returns the repayment history for a loan.
func (s *Service) ListLoanPayments(ctx context.Context, loanID uuid.UUID) ([]domain.LoanPayment, error) {
	if _, err := s.repo.FindLoanByID(ctx, loanID); err != nil {
		return nil, err
	}
	return s.repo.FindLoanPaymentsByLoanID(ctx, loanID)
}

func (s *Service) publishLoanStatus(ctx context.Context, loanID, userID uuid.UUID, status string) {
	if s.events == nil {
		return
	}
	event := rabbitmq.LoanStatusEvent{LoanID: loanID, UserID: userID, Status: status, Timestamp: time.Now().UTC()}
	if err := s.events.PublishLoanStatus(ctx, event); err != nil {
		log.Printf("level=warn component=app msg=\"loan status event publish failed\" loan_id=%s err=%v", loanID, err)
	}
}
