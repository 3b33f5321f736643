/**
 * @description
 * PostgreSQL queries for the loan subsystem: loan records, guarded status
 * transitions, remaining-balance maintenance, and the append-only repayment
 * log.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meridianbank/ledger-service/internal/domain"
)

// CreateLoan inserts a new loan record.
func (r *PostgresRepository) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	query := `
		INSERT INTO loans (
			id,
			user_id,
			loan_type,
			amount,
			interest_rate,
			term_months,
			monthly_payment,
			status,
			application_date,
			total_interest,
			total_payment,
			remaining_balance,
			purpose
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		loan.ID,
		loan.UserID,
		loan.LoanType,
		loan.Amount,
		loan.InterestRate,
		loan.TermMonths,
		loan.MonthlyPayment,
		loan.Status,
		loan.ApplicationDate,
		loan.TotalInterest,
		loan.TotalPayment,
		loan.RemainingBalance,
		loan.Purpose,
	)
	return err
}

// FindLoanByID retrieves a loan by its ID.
func (r *PostgresRepository) FindLoanByID(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	var loan domain.Loan
	query := `
		SELECT id, user_id, loan_type, amount, interest_rate, term_months, monthly_payment,
		       status, application_date, approval_date, total_interest, total_payment,
		       remaining_balance, purpose
		FROM loans
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, loanID).Scan(
		&loan.ID, &loan.UserID, &loan.LoanType, &loan.Amount, &loan.InterestRate,
		&loan.TermMonths, &loan.MonthlyPayment, &loan.Status, &loan.ApplicationDate,
		&loan.ApprovalDate, &loan.TotalInterest, &loan.TotalPayment,
		&loan.RemainingBalance, &loan.Purpose,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

// FindLoansByUserID retrieves all loans for a user, newest application first.
func (r *PostgresRepository) FindLoansByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	query := `
		SELECT id, user_id, loan_type, amount, interest_rate, term_months, monthly_payment,
		       status, application_date, approval_date, total_interest, total_payment,
		       remaining_balance, purpose
		FROM loans
		WHERE user_id = $1
		ORDER BY application_date DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []domain.Loan
	for rows.Next() {
		var loan domain.Loan
		err := rows.Scan(
			&loan.ID, &loan.UserID, &loan.LoanType, &loan.Amount, &loan.InterestRate,
			&loan.TermMonths, &loan.MonthlyPayment, &loan.Status, &loan.ApplicationDate,
			&loan.ApprovalDate, &loan.TotalInterest, &loan.TotalPayment,
			&loan.RemainingBalance, &loan.Purpose,
		)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

// TransitionLoanStatus moves a loan between statuses with a guard on the
// current status, so two admins racing on the same loan cannot both win. The
// fromStatus predicate doubles as the state-machine check: zero rows updated
// means the loan either does not exist or is no longer eligible.
func (r *PostgresRepository) TransitionLoanStatus(ctx context.Context, loanID uuid.UUID, fromStatus, toStatus string, approvalDate *time.Time) error {
	query := `
		UPDATE loans
		SET status = $1, approval_date = COALESCE($2, approval_date)
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.Exec(ctx, query, toStatus, approvalDate, loanID, fromStatus)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		if _, findErr := r.FindLoanByID(ctx, loanID); findErr != nil {
			return findErr
		}
		return ErrLoanStateConflict
	}
	return nil
}

// DecrementLoanRemainingBalance subtracts a completed repayment from the
// loan's remaining principal and returns the new remaining balance. The guard
// keeps the column from going negative under concurrent repayments.
func (r *PostgresRepository) DecrementLoanRemainingBalance(ctx context.Context, loanID uuid.UUID, amount int64) (int64, error) {
	var remaining int64
	query := `
		UPDATE loans
		SET remaining_balance = remaining_balance - $1
		WHERE id = $2 AND remaining_balance >= $1
		RETURNING remaining_balance
	`
	err := r.db.QueryRow(ctx, query, amount, loanID).Scan(&remaining)
	if err != nil {
		if err == pgx.ErrNoRows {
			if _, findErr := r.FindLoanByID(ctx, loanID); findErr != nil {
				return 0, findErr
			}
			return 0, ErrLoanStateConflict
		}
		return 0, err
	}
	return remaining, nil
}

// CreateLoanPayment appends a repayment record.
func (r *PostgresRepository) CreateLoanPayment(ctx context.Context, payment *domain.LoanPayment) error {
	query := `
		INSERT INTO loan_payments (id, loan_id, amount, payment_date, status)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		payment.ID,
		payment.LoanID,
		payment.Amount,
		payment.PaymentDate,
		payment.Status,
	)
	return err
}

// UpdateLoanPaymentStatus updates the status of a repayment record.
func (r *PostgresRepository) UpdateLoanPaymentStatus(ctx context.Context, paymentID uuid.UUID, status string) error {
	query := `UPDATE loan_payments SET status = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, status, paymentID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrLoanPaymentNotFound
	}
	return nil
}

// FindLoanPaymentsByLoanID retrieves all repayment records for a loan.
func (r *PostgresRepository) FindLoanPaymentsByLoanID(ctx context.Context, loanID uuid.UUID) ([]domain.LoanPayment, error) {
	query := `
		SELECT id, loan_id, amount, payment_date, status
		FROM loan_payments
		WHERE loan_id = $1
		ORDER BY payment_date
	`
	rows, err := r.db.Query(ctx, query, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.LoanPayment
	for rows.Next() {
		var payment domain.LoanPayment
		if err := rows.Scan(&payment.ID, &payment.LoanID, &payment.Amount, &payment.PaymentDate, &payment.Status); err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

// SumCompletedLoanPayments returns the total of completed repayments for a
// loan, the authoritative source the remaining-balance column is checked
// against.
func (r *PostgresRepository) SumCompletedLoanPayments(ctx context.Context, loanID uuid.UUID) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM loan_payments WHERE loan_id = $1 AND status = 'completed'`
	if err := r.db.QueryRow(ctx, query, loanID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
