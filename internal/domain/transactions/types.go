// Package transactions persists imported transactions and keeps account
// balances and the per-day balance history in step with every insert.
package transactions

import (
	"time"

	"github.com/google/uuid"
)

// Account is the slice of an account the import flow needs.
type Account struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Name         string    `json:"name"`
	CurrencyCode string    `json:"currency_code"`
	BalanceMinor int64     `json:"balance_minor"`
}

// Transaction is a persisted ledger entry. AmountMinor is signed minor
// units: negative for debits, positive for credits.
type Transaction struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	AccountID       uuid.UUID  `json:"account_id"`
	ImportSessionID *uuid.UUID `json:"import_session_id,omitempty"`
	PostedAt        time.Time  `json:"posted_at"`
	Description     string     `json:"description"`
	Merchant        *string    `json:"merchant,omitempty"`
	AmountMinor     int64      `json:"amount_minor"`
	CurrencyCode    string     `json:"currency_code"`
	CategoryID      *uuid.UUID `json:"category_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
