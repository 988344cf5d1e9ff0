// Package normalizer applies a column mapping to parsed statement rows and
// produces canonical preview transactions. Normalization is deterministic:
// the same row and mapping always yield the same output, so repeated preview
// calls are stable for duplicate and balance comparison.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/parser"
	"github.com/ledgerkeep/ledgerkeep/pkg/money"
)

// TransactionType is the direction of a normalized transaction.
type TransactionType string

const (
	TypeDebit  TransactionType = "debit"
	TypeCredit TransactionType = "credit"
)

// PreviewTransaction is a normalized, not-yet-persisted transaction derived
// from one file row. RowIndex is the row's stable 0-based position in the
// parsed file and is the join key the client echoes back at commit time.
// Amount is always non-negative; direction lives in Type.
type PreviewTransaction struct {
	RowIndex    int             `json:"row_index"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"transaction_type"`
	Description string          `json:"description"`
	Merchant    string          `json:"merchant,omitempty"`

	StartingBalance *decimal.Decimal `json:"starting_balance,omitempty"`
	EndingBalance   *decimal.Decimal `json:"ending_balance,omitempty"`

	IsDuplicate bool   `json:"is_duplicate"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// SignedAmount returns the amount with direction applied: credits positive,
// debits negative.
func (t *PreviewTransaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// RowError records why a single row was excluded from the commit set. It is
// never fatal to the preview as a whole.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Column   string `json:"column"`
	Message  string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %s", e.RowIndex, e.Column, e.Message)
}

// Result holds the normalized rows and the per-row failures.
type Result struct {
	Transactions []PreviewTransaction
	Errors       []RowError
}

var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
}

// Normalizer converts parsed rows into preview transactions.
type Normalizer struct{}

func New() *Normalizer { return &Normalizer{} }

// Normalize applies the mapping to every row of the table. The mapping must
// have been validated against the table's headers. Rows that fail to parse
// are reported in Result.Errors and skipped; row indices of surviving
// transactions are never reassigned.
func (n *Normalizer) Normalize(table *parser.Table, m *mapping.ColumnMapping) *Result {
	resolved := m.Resolve(table.Headers)

	// Amount format is decided once per file from the sampled column so a
	// lone ambiguous value cannot flip conventions mid-file.
	european := detectAmountConvention(table, resolved.Amount)

	result := &Result{}
	for i, row := range table.Rows {
		tx, rowErr := n.normalizeRow(i, row, resolved, european)
		if rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		if tx == nil {
			continue
		}
		result.Transactions = append(result.Transactions, *tx)
	}
	return result
}

func (n *Normalizer) normalizeRow(rowIndex int, row []string, r mapping.Resolved, european bool) (*PreviewTransaction, *RowError) {
	cell := func(idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	dateStr := cell(r.Date)
	if dateStr == "" {
		// Blank-date rows are footers or running totals, not data.
		return nil, nil
	}
	date, err := parseDate(dateStr)
	if err != nil {
		return nil, &RowError{RowIndex: rowIndex, Column: "date", Message: fmt.Sprintf("invalid date %q", dateStr)}
	}

	amountStr := cell(r.Amount)
	if amountStr == "" {
		return nil, &RowError{RowIndex: rowIndex, Column: "amount", Message: "missing amount"}
	}
	amount, err := money.ParseAmount(amountStr, european)
	if err != nil {
		return nil, &RowError{RowIndex: rowIndex, Column: "amount", Message: fmt.Sprintf("invalid amount %q", amountStr)}
	}

	desc := cell(r.Description)
	if desc == "" {
		return nil, &RowError{RowIndex: rowIndex, Column: "description", Message: "missing description"}
	}

	txType := resolveType(amount, cell(r.TransactionType), r.IsAmountSigned)

	tx := &PreviewTransaction{
		RowIndex:    rowIndex,
		Date:        date,
		Amount:      amount.Abs(),
		Type:        txType,
		Description: desc,
		Merchant:    cell(r.Merchant),
	}

	if v := cell(r.StartingBalance); v != "" {
		if bal, err := money.ParseAmount(v, european); err == nil {
			tx.StartingBalance = &bal
		}
	}
	if v := cell(r.EndingBalance); v != "" {
		if bal, err := money.ParseAmount(v, european); err == nil {
			tx.EndingBalance = &bal
		}
	}

	return tx, nil
}

// resolveType decides direction. Signed amounts carry their own direction;
// otherwise the type column decides, defaulting to debit when absent or
// ambiguous.
func resolveType(amount decimal.Decimal, typeValue string, isAmountSigned bool) TransactionType {
	if isAmountSigned {
		if amount.IsNegative() {
			return TypeDebit
		}
		return TypeCredit
	}

	switch strings.ToLower(typeValue) {
	case "credit", "cr", "crédito", "credito", "abono", "deposit", "income":
		return TypeCredit
	case "debit", "dr", "débito", "debito", "cargo", "withdrawal", "expense":
		return TypeDebit
	default:
		return TypeDebit
	}
}

func parseDate(s string) (time.Time, error) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %s", s)
}

func detectAmountConvention(table *parser.Table, amountIdx int) bool {
	if amountIdx < 0 {
		return false
	}
	samples := make([]string, 0, 20)
	for _, row := range table.Rows {
		if amountIdx < len(row) {
			samples = append(samples, row[amountIdx])
		}
		if len(samples) == 20 {
			break
		}
	}
	european, _ := money.DetectEuropeanFormat(samples)
	return european
}
