// Package dedup flags preview transactions that likely already exist in the
// account's history. Detection is a pure function of its inputs: the same
// preview set, existing set, and threshold always produce the same flags.
package dedup

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/shopspring/decimal"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/normalizer"
)

// amountTolerance is the maximum absolute-amount difference for two
// transactions to be considered the same.
var amountTolerance = decimal.RequireFromString("0.01")

// ExistingTransaction is the slice of a persisted transaction the detector
// compares against. Amount may be signed; comparison uses the absolute value.
type ExistingTransaction struct {
	ID          string
	Date        string // calendar day, YYYY-MM-DD
	Amount      decimal.Decimal
	Description string
}

// Match records why a preview row was flagged.
type Match struct {
	ExistingID string
	Similarity float64
}

// Detector flags likely duplicates using normalized edit-distance similarity.
type Detector struct {
	threshold float64
}

// New creates a detector. threshold is the minimum description similarity,
// in [0,1], for a candidate to count as a duplicate.
func New(threshold float64) *Detector {
	return &Detector{threshold: threshold}
}

// Detect compares every preview transaction against the existing set and
// returns a map from rowIndex to the best match. A candidate matches only
// when it falls on the same calendar day, its absolute amount is within
// tolerance, and its description similarity meets the threshold. The highest
// similarity wins; ties keep the first-seen existing transaction in scan
// order.
func (d *Detector) Detect(previews []normalizer.PreviewTransaction, existing []ExistingTransaction) map[int]Match {
	matches := make(map[int]Match)

	for _, p := range previews {
		day := p.Date.Format("2006-01-02")

		best := Match{Similarity: -1}
		for _, e := range existing {
			if e.Date != day {
				continue
			}
			if p.Amount.Sub(e.Amount.Abs()).Abs().GreaterThanOrEqual(amountTolerance) {
				continue
			}
			score := Similarity(p.Description, e.Description)
			if score < d.threshold {
				continue
			}
			if score > best.Similarity {
				best = Match{ExistingID: e.ID, Similarity: score}
			}
		}

		if best.Similarity >= 0 {
			matches[p.RowIndex] = best
		}
	}

	return matches
}

// Apply writes the detection result back onto the preview slice.
func Apply(previews []normalizer.PreviewTransaction, matches map[int]Match) {
	for i := range previews {
		if m, ok := matches[previews[i].RowIndex]; ok {
			previews[i].IsDuplicate = true
			previews[i].DuplicateOf = m.ExistingID
		} else {
			previews[i].IsDuplicate = false
			previews[i].DuplicateOf = ""
		}
	}
}

// Similarity is normalized edit-distance similarity on case-folded, trimmed
// strings: 1 - distance/max(len). Identical strings score 1.0; an empty
// string against a non-empty one scores 0.0.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return 1.0
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1.0
	}

	distance := fuzzy.LevenshteinDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}
