// Package subscriptions finds recurring charges in an account's history and
// keeps the recurring_subscriptions table current. Detection runs after each
// import commit.
package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Cadence is the observed charge rhythm.
type Cadence string

const (
	CadenceWeekly    Cadence = "weekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceAnnual    Cadence = "annual"
	CadenceUnknown   Cadence = "unknown"
)

// Subscription is one recurring charge on an account.
type Subscription struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	AccountID       uuid.UUID  `json:"account_id"`
	MerchantName    string     `json:"merchant_name"`
	AmountMinor     int64      `json:"amount_minor"`
	CurrencyCode    string     `json:"currency_code"`
	Cadence         Cadence    `json:"cadence"`
	IsActive        bool       `json:"is_active"`
	FirstSeenAt     *time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
	NextExpectedAt  *time.Time `json:"next_expected_at,omitempty"`
	OccurrenceCount int        `json:"occurrence_count"`
}

// MerchantGroup is one merchant's charge history on an account, oldest first.
type MerchantGroup struct {
	MerchantName string
	CurrencyCode string
	Dates        []time.Time
	Amounts      []int64
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

// MerchantGroups returns the account's debit history grouped by merchant,
// limited to merchants charged at least minOccurrences times since the
// cutoff. The merchant column is preferred; rows categorization never
// tagged group by description.
func (r *Repository) MerchantGroups(ctx context.Context, userID, accountID uuid.UUID, since time.Time, minOccurrences int) ([]MerchantGroup, error) {
	query := `
		SELECT COALESCE(merchant, description) AS merchant_name,
			MIN(currency_code) AS currency_code,
			ARRAY_AGG(posted_at ORDER BY posted_at) AS dates,
			ARRAY_AGG(amount_minor ORDER BY posted_at) AS amounts
		FROM transactions
		WHERE user_id = $1 AND account_id = $2 AND posted_at >= $3 AND amount_minor < 0
		GROUP BY COALESCE(merchant, description)
		HAVING COUNT(*) >= $4
	`
	rows, err := r.db.Query(ctx, query, userID, accountID, since, minOccurrences)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant groups: %w", err)
	}
	defer rows.Close()

	var out []MerchantGroup
	for rows.Next() {
		var g MerchantGroup
		if err := rows.Scan(&g.MerchantName, &g.CurrencyCode, &g.Dates, &g.Amounts); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Upsert writes the detected subscription, updating the existing row for the
// same merchant on conflict. Returns true when the row was newly created.
func (r *Repository) Upsert(ctx context.Context, s *Subscription) (bool, error) {
	query := `
		INSERT INTO recurring_subscriptions (user_id, account_id, merchant_name, amount_minor,
			currency_code, cadence, is_active, first_seen_at, last_seen_at, next_expected_at, occurrence_count)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $10)
		ON CONFLICT (user_id, account_id, merchant_name) DO UPDATE SET
			amount_minor = EXCLUDED.amount_minor,
			cadence = EXCLUDED.cadence,
			is_active = TRUE,
			last_seen_at = EXCLUDED.last_seen_at,
			next_expected_at = EXCLUDED.next_expected_at,
			occurrence_count = EXCLUDED.occurrence_count
		RETURNING id, (xmax = 0) AS inserted
	`
	var inserted bool
	err := r.db.QueryRow(ctx, query,
		s.UserID, s.AccountID, s.MerchantName, s.AmountMinor,
		s.CurrencyCode, s.Cadence, s.FirstSeenAt, s.LastSeenAt, s.NextExpectedAt, s.OccurrenceCount,
	).Scan(&s.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return inserted, nil
}

// ListByAccount returns the account's active subscriptions.
func (r *Repository) ListByAccount(ctx context.Context, userID, accountID uuid.UUID) ([]Subscription, error) {
	query := `
		SELECT id, user_id, account_id, merchant_name, amount_minor, currency_code,
			cadence, is_active, first_seen_at, last_seen_at, next_expected_at, occurrence_count
		FROM recurring_subscriptions
		WHERE user_id = $1 AND account_id = $2 AND is_active
		ORDER BY merchant_name
	`
	rows, err := r.db.Query(ctx, query, userID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		err := rows.Scan(&s.ID, &s.UserID, &s.AccountID, &s.MerchantName, &s.AmountMinor, &s.CurrencyCode,
			&s.Cadence, &s.IsActive, &s.FirstSeenAt, &s.LastSeenAt, &s.NextExpectedAt, &s.OccurrenceCount)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
