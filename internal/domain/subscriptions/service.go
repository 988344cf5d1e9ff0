package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
)

// Store is the persistence the detector needs.
type Store interface {
	MerchantGroups(ctx context.Context, userID, accountID uuid.UUID, since time.Time, minOccurrences int) ([]MerchantGroup, error)
	Upsert(ctx context.Context, s *Subscription) (bool, error)
}

const (
	minOccurrences = 3
	historyWindow  = 18 * 30 * 24 * time.Hour

	// Charges whose interval or amount wanders more than this are not
	// treated as subscriptions.
	minCadenceConfidence = 0.5
	maxAmountVariance    = 0.3
)

// Service detects recurring charges from transaction history.
type Service struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Detect re-scans the account after an import and reconciles the stored
// subscriptions. Returns how many imported transactions belong to a known
// recurring merchant and how many new subscriptions were found. Individual
// merchant failures are logged and skipped; the scan keeps going.
func (s *Service) Detect(ctx context.Context, userID, accountID uuid.UUID, imported []transactions.Transaction) (int, int, error) {
	since := time.Now().Add(-historyWindow)
	groups, err := s.store.MerchantGroups(ctx, userID, accountID, since, minOccurrences)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to scan for subscriptions: %w", err)
	}

	recurring := make(map[string]bool)
	detected := 0

	for _, group := range groups {
		cadence, confidence := detectCadence(group.Dates)
		if confidence < minCadenceConfidence {
			continue
		}
		avgAmount, variance := amountStats(group.Amounts)
		if variance > maxAmountVariance {
			continue
		}

		first := group.Dates[0]
		last := group.Dates[len(group.Dates)-1]
		next := nextExpected(last, cadence)

		sub := &Subscription{
			UserID:          userID,
			AccountID:       accountID,
			MerchantName:    group.MerchantName,
			AmountMinor:     avgAmount,
			CurrencyCode:    group.CurrencyCode,
			Cadence:         cadence,
			FirstSeenAt:     &first,
			LastSeenAt:      &last,
			NextExpectedAt:  &next,
			OccurrenceCount: len(group.Dates),
		}
		inserted, err := s.store.Upsert(ctx, sub)
		if err != nil {
			s.logger.Warn("failed to store detected subscription",
				"merchant", group.MerchantName, "error", err)
			continue
		}
		recurring[group.MerchantName] = true
		if inserted {
			detected++
		}
	}

	matched := 0
	for _, t := range imported {
		name := t.Description
		if t.Merchant != nil {
			name = *t.Merchant
		}
		if recurring[name] {
			matched++
		}
	}
	return matched, detected, nil
}

// detectCadence classifies the gaps between charges and rates how regular
// they are (0..1). Intervals that fit no known rhythm halve the confidence.
func detectCadence(dates []time.Time) (Cadence, float64) {
	if len(dates) < 2 {
		return CadenceUnknown, 0
	}

	intervals := make([]float64, 0, len(dates)-1)
	var sum float64
	for i := 1; i < len(dates); i++ {
		days := dates[i].Sub(dates[i-1]).Hours() / 24
		intervals = append(intervals, days)
		sum += days
	}
	avg := sum / float64(len(intervals))
	if avg == 0 {
		return CadenceUnknown, 0
	}

	var squares float64
	for _, iv := range intervals {
		squares += math.Pow(iv-avg, 2)
	}
	stdDev := math.Sqrt(squares / float64(len(intervals)))
	confidence := 1.0 - math.Min(stdDev/avg, 1.0)

	var cadence Cadence
	switch {
	case avg >= 5 && avg <= 9:
		cadence = CadenceWeekly
	case avg >= 25 && avg <= 35:
		cadence = CadenceMonthly
	case avg >= 85 && avg <= 100:
		cadence = CadenceQuarterly
	case avg >= 350 && avg <= 380:
		cadence = CadenceAnnual
	default:
		cadence = CadenceUnknown
		confidence *= 0.5
	}
	return cadence, confidence
}

// amountStats returns the mean charge and its normalized standard deviation.
// Amounts are debits, compared by magnitude.
func amountStats(amounts []int64) (int64, float64) {
	if len(amounts) == 0 {
		return 0, 1.0
	}

	var sum int64
	for _, a := range amounts {
		if a < 0 {
			a = -a
		}
		sum += a
	}
	avg := float64(sum) / float64(len(amounts))
	if avg == 0 {
		return 0, 1.0
	}

	var squares float64
	for _, a := range amounts {
		if a < 0 {
			a = -a
		}
		squares += math.Pow(float64(a)-avg, 2)
	}
	stdDev := math.Sqrt(squares / float64(len(amounts)))
	return int64(avg), stdDev / avg
}

func nextExpected(last time.Time, cadence Cadence) time.Time {
	switch cadence {
	case CadenceWeekly:
		return last.AddDate(0, 0, 7)
	case CadenceQuarterly:
		return last.AddDate(0, 3, 0)
	case CadenceAnnual:
		return last.AddDate(1, 0, 0)
	default:
		return last.AddDate(0, 1, 0)
	}
}
