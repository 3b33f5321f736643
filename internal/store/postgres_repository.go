/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for users, accounts, and the transaction log. It contains all the necessary
 * SQL queries to interact with the database tables backing the ledger.
 *
 * @dependencies
 * - context, errors, strings: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridianbank/ledger-service/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrLoanPaymentNotFound = errors.New("loan payment not found")
	ErrLoanStateConflict   = errors.New("loan is not in an eligible status for this transition")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, btrim(email), full_name FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Email, &user.FullName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail retrieves a user by email, matched case-insensitively.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, btrim(email), full_name FROM users WHERE lower(btrim(email)) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email, &user.FullName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// MapUserIDsByEmail loads the lowercased email -> id map for every user. The
// bulk-import parser resolves candidate rows against this map so a batch does
// one user query instead of one per row.
func (r *PostgresRepository) MapUserIDsByEmail(ctx context.Context) (map[string]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT lower(btrim(email)), id FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make(map[string]uuid.UUID)
	for rows.Next() {
		var email string
		var id uuid.UUID
		if err := rows.Scan(&email, &id); err != nil {
			return nil, err
		}
		users[strings.ToLower(email)] = id
	}
	return users, rows.Err()
}

// FindAccountByUserID retrieves a user's account from the database.
func (r *PostgresRepository) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, user_id, balance, created_at, updated_at FROM accounts WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&account.ID, &account.UserID, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindOrCreateAccount returns the user's account, creating a zero-balance row
// the first time the user is observed. The upsert keeps concurrent creators
// from racing on the unique user_id constraint.
func (r *PostgresRepository) FindOrCreateAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `
		INSERT INTO accounts (id, user_id, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, balance, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, uuid.New(), userID).Scan(
		&account.ID, &account.UserID, &account.Balance, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccountUserIDs returns the user id of every account in the store. Used
// by the reconciliation sweep.
func (r *PostgresRepository) ListAccountUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreditBalance performs an atomic credit operation on a user's account.
func (r *PostgresRepository) CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE user_id = $2", amount, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return tx.Commit(ctx)
}

// DebitBalance performs an atomic debit operation on a user's account. It
// fails with ErrInsufficientFunds when the balance cannot cover the amount.
func (r *PostgresRepository) DebitBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	if balance < amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, "UPDATE accounts SET balance = balance - $1, updated_at = NOW() WHERE user_id = $2", amount, userID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SetAccountBalance writes a log-derived balance, creating the account row
// when the user has transactions but no account yet. Only the reconciler
// calls this; hot-path mutations go through CreditBalance/DebitBalance.
func (r *PostgresRepository) SetAccountBalance(ctx context.Context, userID uuid.UUID, balance int64) error {
	query := `
		INSERT INTO accounts (id, user_id, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, uuid.New(), userID, balance)
	return err
}

// CreateTransaction appends a transaction record to the ledger.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id,
			user_id,
			account_id,
			amount,
			type,
			status,
			description,
			method
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID,
		tx.UserID,
		tx.AccountID,
		tx.Amount,
		tx.Type,
		tx.Status,
		tx.Description,
		tx.Method,
	)
	return err
}

// UpdateTransactionStatus updates the status of a transaction. Status is the
// only mutable column on the transactions table.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	query := `UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, status, transactionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FindTransactionsByUserID retrieves all transactions for a user, oldest first
// so the reconciler folds them in recorded order.
func (r *PostgresRepository) FindTransactionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT id, user_id, account_id, amount, type, status,
		       COALESCE(description, '') AS description, method, created_at, updated_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.AccountID, &tx.Amount, &tx.Type,
			&tx.Status, &tx.Description, &tx.Method, &tx.CreatedAt, &tx.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// FindTransactionByID retrieves a single transaction by its ID.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `
		SELECT id, user_id, account_id, amount, type, status,
		       COALESCE(description, '') AS description, method, created_at, updated_at
		FROM transactions
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, transactionID).Scan(
		&tx.ID, &tx.UserID, &tx.AccountID, &tx.Amount, &tx.Type,
		&tx.Status, &tx.Description, &tx.Method, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}
