package transactions

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/ledgerkeep/ledgerkeep/pkg/money"
)

// exportRow is the CSV shape of an exported transaction.
type exportRow struct {
	PostedAt    string `csv:"date"`
	Description string `csv:"description"`
	Merchant    string `csv:"merchant"`
	Amount      string `csv:"amount"`
	Currency    string `csv:"currency"`
}

// WriteCSV exports transactions as CSV with signed decimal amounts.
func WriteCSV(w io.Writer, txs []Transaction) error {
	rows := make([]exportRow, 0, len(txs))
	for _, t := range txs {
		row := exportRow{
			PostedAt:    t.PostedAt.Format("2006-01-02"),
			Description: t.Description,
			Amount:      money.DecimalFromMinor(t.AmountMinor, t.CurrencyCode).StringFixed(2),
			Currency:    t.CurrencyCode,
		}
		if t.Merchant != nil {
			row.Merchant = *t.Merchant
		}
		rows = append(rows, row)
	}

	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write CSV export: %w", err)
	}
	return nil
}
