// Package mapping defines the column mapping between statement file columns
// and canonical transaction fields, and validates proposed mappings against
// parsed headers. It does not invent mappings itself; candidates come from
// the user or from a Suggester.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMapping wraps all mapping validation failures.
var ErrInvalidMapping = errors.New("invalid column mapping")

// ColumnMapping maps canonical transaction fields to source column names.
// Empty string means the field is unmapped.
type ColumnMapping struct {
	Date            string `json:"date,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Description     string `json:"description,omitempty"`
	Merchant        string `json:"merchant,omitempty"`
	TransactionType string `json:"transaction_type,omitempty"`
	StartingBalance string `json:"starting_balance,omitempty"`
	EndingBalance   string `json:"ending_balance,omitempty"`

	// IsAmountSigned reports whether the amount column already carries the
	// direction: negative = expense, positive = income.
	IsAmountSigned bool `json:"is_amount_signed"`
}

// HasBalanceColumns reports whether both balance columns are mapped.
func (m *ColumnMapping) HasBalanceColumns() bool {
	return m.StartingBalance != "" && m.EndingBalance != ""
}

// HasAnyBalanceColumn reports whether at least one balance column is mapped.
func (m *ColumnMapping) HasAnyBalanceColumn() bool {
	return m.StartingBalance != "" || m.EndingBalance != ""
}

// Validate checks the mapping against the parsed headers: the required
// fields must be mapped and every mapped field must name an existing header.
func (m *ColumnMapping) Validate(headers []string) error {
	var problems []string

	if m.Date == "" {
		problems = append(problems, "date column is required")
	}
	if m.Amount == "" {
		problems = append(problems, "amount column is required")
	}
	if m.Description == "" {
		problems = append(problems, "description column is required")
	}

	known := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		known[h] = struct{}{}
	}

	for field, col := range map[string]string{
		"date":             m.Date,
		"amount":           m.Amount,
		"description":      m.Description,
		"merchant":         m.Merchant,
		"transaction_type": m.TransactionType,
		"starting_balance": m.StartingBalance,
		"ending_balance":   m.EndingBalance,
	} {
		if col == "" {
			continue
		}
		if _, ok := known[col]; !ok {
			problems = append(problems, fmt.Sprintf("%s column %q not found in headers", field, col))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(problems, "; "))
	}
	return nil
}

// Resolved holds the mapping translated to column indices for row access.
// Unmapped fields resolve to -1.
type Resolved struct {
	Date            int
	Amount          int
	Description     int
	Merchant        int
	TransactionType int
	StartingBalance int
	EndingBalance   int
	IsAmountSigned  bool
}

// Resolve translates column names to indices against the given headers.
// The mapping must have been validated first.
func (m *ColumnMapping) Resolve(headers []string) Resolved {
	idx := func(name string) int {
		if name == "" {
			return -1
		}
		for i, h := range headers {
			if h == name {
				return i
			}
		}
		return -1
	}

	return Resolved{
		Date:            idx(m.Date),
		Amount:          idx(m.Amount),
		Description:     idx(m.Description),
		Merchant:        idx(m.Merchant),
		TransactionType: idx(m.TransactionType),
		StartingBalance: idx(m.StartingBalance),
		EndingBalance:   idx(m.EndingBalance),
		IsAmountSigned:  m.IsAmountSigned,
	}
}

// Suggester proposes a candidate mapping from headers and sample rows.
// Implementations may be heuristic or AI-backed; a suggestion is always
// re-validated before acceptance, and failure to suggest is never fatal.
type Suggester interface {
	Suggest(ctx context.Context, headers []string, sampleRows [][]string) (*ColumnMapping, error)
}
