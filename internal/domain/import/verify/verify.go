// Package verify reconciles a statement file against its own balance
// columns: starting balance plus the sum of signed amounts should land on
// the ending balance. Verification covers the full normalized set for the
// file, not the subset the user selects to import.
package verify

import (
	"github.com/shopspring/decimal"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/normalizer"
)

// Report is the outcome of balance verification for one preview.
type Report struct {
	// HasBalanceData is false when the mapping carries no balance column at
	// all. CanVerify is the softer "partial" state: columns are mapped but
	// one end of the range is missing from the data.
	HasBalanceData bool `json:"has_balance_data"`
	CanVerify      bool `json:"can_verify"`

	FileStartingBalance     *decimal.Decimal `json:"file_starting_balance,omitempty"`
	FileEndingBalance       *decimal.Decimal `json:"file_ending_balance,omitempty"`
	CalculatedEndingBalance *decimal.Decimal `json:"calculated_ending_balance,omitempty"`
	Discrepancy             *decimal.Decimal `json:"discrepancy,omitempty"`
	IsVerified              bool             `json:"is_verified"`
}

// Verifier checks file-internal balance consistency.
type Verifier struct {
	epsilon decimal.Decimal
}

// New creates a verifier. epsilon is the maximum absolute discrepancy, in
// currency units, still considered reconciled.
func New(epsilon decimal.Decimal) *Verifier {
	return &Verifier{epsilon: epsilon}
}

// Verify reconciles the normalized transactions against the file's own
// balance cells. Transactions must be in file order; the first starting
// balance present and the last ending balance present bound the range.
func (v *Verifier) Verify(m *mapping.ColumnMapping, transactions []normalizer.PreviewTransaction) *Report {
	report := &Report{}

	if !m.HasAnyBalanceColumn() {
		return report
	}
	report.HasBalanceData = true

	for _, t := range transactions {
		if report.FileStartingBalance == nil && t.StartingBalance != nil {
			report.FileStartingBalance = t.StartingBalance
		}
		if t.EndingBalance != nil {
			report.FileEndingBalance = t.EndingBalance
		}
	}

	if !m.HasBalanceColumns() || report.FileStartingBalance == nil || report.FileEndingBalance == nil {
		return report
	}
	report.CanVerify = true

	calculated := *report.FileStartingBalance
	for _, t := range transactions {
		calculated = calculated.Add(t.SignedAmount())
	}
	report.CalculatedEndingBalance = &calculated

	discrepancy := report.FileEndingBalance.Sub(calculated)
	report.Discrepancy = &discrepancy
	report.IsVerified = discrepancy.Abs().LessThan(v.epsilon)

	return report
}
