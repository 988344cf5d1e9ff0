package transactions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrAccountNotFound covers both a missing account and one owned by
// another user.
var ErrAccountNotFound = errors.New("account not found")

// DB is the subset of pgxpool.Pool the repository needs; pgxmock satisfies
// it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores transactions and maintains account balance state.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// GetAccount loads an account scoped to its owner.
func (r *Repository) GetAccount(ctx context.Context, userID, accountID uuid.UUID) (*Account, error) {
	query := `
		SELECT id, user_id, name, currency_code, balance_minor
		FROM accounts
		WHERE id = $1 AND user_id = $2
	`
	var a Account
	err := r.db.QueryRow(ctx, query, accountID, userID).
		Scan(&a.ID, &a.UserID, &a.Name, &a.CurrencyCode, &a.BalanceMinor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &a, nil
}

// Append persists one transaction and updates the account's running balance
// and its balance-history row for the posting day, all in one database
// transaction. Each row is durable on its own: a later failure in the same
// import does not roll earlier rows back.
func (r *Repository) Append(ctx context.Context, t *Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO transactions (user_id, account_id, import_session_id, posted_at,
			description, merchant, amount_minor, currency_code, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insert,
		t.UserID, t.AccountID, t.ImportSessionID, t.PostedAt,
		t.Description, t.Merchant, t.AmountMinor, t.CurrencyCode, t.CategoryID,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	var newBalance int64
	updateBalance := `
		UPDATE accounts SET balance_minor = balance_minor + $2
		WHERE id = $1
		RETURNING balance_minor
	`
	if err := tx.QueryRow(ctx, updateBalance, t.AccountID, t.AmountMinor).Scan(&newBalance); err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}

	upsertHistory := `
		INSERT INTO account_balance_history (account_id, day, balance_minor)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, day) DO UPDATE SET balance_minor = EXCLUDED.balance_minor
	`
	if _, err := tx.Exec(ctx, upsertHistory, t.AccountID, t.PostedAt, newBalance); err != nil {
		return fmt.Errorf("failed to update balance history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByAccount returns the account's transactions in insertion order,
// oldest posting first. The duplicate detector scans this set.
func (r *Repository) ListByAccount(ctx context.Context, userID, accountID uuid.UUID) ([]Transaction, error) {
	query := `
		SELECT id, user_id, account_id, import_session_id, posted_at, description,
			merchant, amount_minor, currency_code, category_id, created_at
		FROM transactions
		WHERE account_id = $1 AND user_id = $2
		ORDER BY posted_at, created_at
	`
	rows, err := r.db.Query(ctx, query, accountID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		err := rows.Scan(
			&t.ID, &t.UserID, &t.AccountID, &t.ImportSessionID, &t.PostedAt, &t.Description,
			&t.Merchant, &t.AmountMinor, &t.CurrencyCode, &t.CategoryID, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetCategory assigns a category to an imported transaction.
func (r *Repository) SetCategory(ctx context.Context, transactionID, categoryID uuid.UUID) error {
	query := `UPDATE transactions SET category_id = $2 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, transactionID, categoryID); err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}
	return nil
}
