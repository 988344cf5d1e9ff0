package mapping

import (
	"context"
	"strings"
)

// HeuristicSuggester matches headers against bank statement keywords
// (multi-language) and probes sample amounts for signedness. It never fails;
// at worst it returns a sparse mapping that won't validate.
type HeuristicSuggester struct{}

func NewHeuristicSuggester() *HeuristicSuggester { return &HeuristicSuggester{} }

func (s *HeuristicSuggester) Suggest(_ context.Context, headers []string, sampleRows [][]string) (*ColumnMapping, error) {
	m := &ColumnMapping{}

	for _, header := range headers {
		h := strings.ToLower(strings.TrimSpace(header))
		if h == "" {
			continue
		}

		if m.Date == "" {
			if strings.Contains(h, "data mov") || strings.Contains(h, "date") ||
				strings.Contains(h, "fecha") || h == "data" {
				m.Date = header
			}
		}

		if m.Description == "" {
			if strings.Contains(h, "descri") || strings.Contains(h, "description") ||
				strings.Contains(h, "memo") || h == "nome" || h == "name" {
				m.Description = header
			}
		}

		if m.Merchant == "" {
			if strings.Contains(h, "merchant") || strings.Contains(h, "payee") ||
				strings.Contains(h, "comerciante") {
				m.Merchant = header
			}
		}

		if m.Amount == "" {
			if h == "amount" || h == "valor" || h == "importe" || h == "montante" ||
				strings.Contains(h, "amount") {
				m.Amount = header
			}
		}

		if m.TransactionType == "" {
			if h == "type" || h == "tipo" || strings.Contains(h, "transaction type") ||
				strings.Contains(h, "debit/credit") || h == "dr/cr" {
				m.TransactionType = header
			}
		}

		// Balance columns: "saldo inicial" / "opening balance" style headers
		// first, then a bare balance header as the running/ending balance.
		if m.StartingBalance == "" {
			if strings.Contains(h, "saldo inicial") || strings.Contains(h, "opening balance") ||
				strings.Contains(h, "starting balance") || strings.Contains(h, "beginning balance") {
				m.StartingBalance = header
			}
		}
		if m.EndingBalance == "" {
			if strings.Contains(h, "saldo final") || strings.Contains(h, "closing balance") ||
				strings.Contains(h, "ending balance") {
				m.EndingBalance = header
			}
		}
	}

	// A bare "balance"/"saldo" column is a running balance; treat it as the
	// ending balance only if no explicit ending column matched.
	if m.EndingBalance == "" {
		for _, header := range headers {
			h := strings.ToLower(strings.TrimSpace(header))
			if header != m.StartingBalance && (strings.Contains(h, "balance") || strings.Contains(h, "saldo")) {
				m.EndingBalance = header
				break
			}
		}
	}

	m.IsAmountSigned = probeSignedness(m.Resolve(headers).Amount, sampleRows)

	return m, nil
}

// probeSignedness reports whether the sampled amount values carry their own
// sign. A single negative value is enough; all-positive samples mean the
// direction must come from a type column or default convention.
func probeSignedness(amountIdx int, sampleRows [][]string) bool {
	if amountIdx < 0 {
		return false
	}
	for _, row := range sampleRows {
		if amountIdx >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[amountIdx])
		if strings.HasPrefix(v, "-") || (strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")")) {
			return true
		}
	}
	return false
}
