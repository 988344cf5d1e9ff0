// Package categorization assigns merchants and categories to imported
// transactions by matching their descriptions against stored patterns.
package categorization

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pattern maps a raw description substring to a clean merchant name and an
// optional category. A nil UserID marks a built-in pattern shared by all
// users.
type Pattern struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	RawPattern string     `json:"raw_pattern"`
	CleanName  string     `json:"clean_name"`
	CategoryID *uuid.UUID `json:"category_id,omitempty"`
	Priority   int        `json:"priority"`
}

// Category is a spending category.
type Category struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// DB is the subset of pgxpool.Pool the repository needs; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// ListPatterns returns the user's own patterns plus the built-in ones,
// user patterns first so callers can prefer them on ties.
func (r *Repository) ListPatterns(ctx context.Context, userID uuid.UUID) ([]Pattern, error) {
	query := `
		SELECT id, user_id, raw_pattern, clean_name, category_id, priority
		FROM merchant_patterns
		WHERE user_id = $1 OR user_id IS NULL
		ORDER BY (user_id IS NULL), priority DESC, created_at
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.ID, &p.UserID, &p.RawPattern, &p.CleanName, &p.CategoryID, &p.Priority); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePattern stores a user pattern.
func (r *Repository) CreatePattern(ctx context.Context, p *Pattern) error {
	query := `
		INSERT INTO merchant_patterns (user_id, raw_pattern, clean_name, category_id, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query, p.UserID, p.RawPattern, p.CleanName, p.CategoryID, p.Priority).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}
	return nil
}

// ListCategories returns all categories.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TagTransaction writes the resolved merchant and category onto a
// transaction. Nil fields leave the existing assignment alone.
func (r *Repository) TagTransaction(ctx context.Context, transactionID uuid.UUID, cleanName *string, categoryID *uuid.UUID) error {
	query := `
		UPDATE transactions
		SET merchant = COALESCE($2, merchant), category_id = COALESCE($3, category_id)
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, transactionID, cleanName, categoryID); err != nil {
		return fmt.Errorf("failed to tag transaction: %w", err)
	}
	return nil
}
