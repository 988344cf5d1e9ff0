package subscriptions

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
)

type memStore struct {
	groups    []MerchantGroup
	groupsErr error

	existing  map[string]bool
	upserted  []Subscription
	upsertErr map[string]error
}

func (m *memStore) MerchantGroups(context.Context, uuid.UUID, uuid.UUID, time.Time, int) ([]MerchantGroup, error) {
	return m.groups, m.groupsErr
}

func (m *memStore) Upsert(_ context.Context, s *Subscription) (bool, error) {
	if err := m.upsertErr[s.MerchantName]; err != nil {
		return false, err
	}
	s.ID = uuid.New()
	m.upserted = append(m.upserted, *s)
	inserted := !m.existing[s.MerchantName]
	return inserted, nil
}

func monthlyDates(start time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = start.AddDate(0, i, 0)
	}
	return dates
}

func repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func importedTx(merchant string) transactions.Transaction {
	return transactions.Transaction{ID: uuid.New(), Description: merchant + " REF 123", Merchant: &merchant}
}

func TestService_Detect(t *testing.T) {
	start := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	store := &memStore{
		groups: []MerchantGroup{
			{MerchantName: "Netflix", CurrencyCode: "EUR", Dates: monthlyDates(start, 6), Amounts: repeat(-1299, 6)},
			{MerchantName: "Groceries", CurrencyCode: "EUR",
				Dates: []time.Time{start, start.AddDate(0, 0, 3), start.AddDate(0, 0, 40), start.AddDate(0, 0, 41)},
				Amounts: []int64{-1500, -9000, -230, -4100}},
		},
	}
	svc := New(store, slog.New(slog.DiscardHandler))

	matched, detected, err := svc.Detect(context.Background(), uuid.New(), uuid.New(),
		[]transactions.Transaction{importedTx("Netflix"), importedTx("One-off Shop")})
	require.NoError(t, err)

	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, detected)

	require.Len(t, store.upserted, 1)
	sub := store.upserted[0]
	assert.Equal(t, "Netflix", sub.MerchantName)
	assert.Equal(t, CadenceMonthly, sub.Cadence)
	assert.Equal(t, int64(1299), sub.AmountMinor)
	assert.Equal(t, 6, sub.OccurrenceCount)
	require.NotNil(t, sub.NextExpectedAt)
	assert.Equal(t, start.AddDate(0, 6, 0), *sub.NextExpectedAt)
}

func TestService_Detect_KnownMerchantCountsAsMatched(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{
		groups: []MerchantGroup{
			{MerchantName: "Spotify", CurrencyCode: "EUR", Dates: monthlyDates(start, 4), Amounts: repeat(-999, 4)},
		},
		existing: map[string]bool{"Spotify": true},
	}
	svc := New(store, slog.New(slog.DiscardHandler))

	matched, detected, err := svc.Detect(context.Background(), uuid.New(), uuid.New(),
		[]transactions.Transaction{importedTx("Spotify")})
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Zero(t, detected)
}

func TestService_Detect_SkipsIrregularAmounts(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{
		groups: []MerchantGroup{
			{MerchantName: "Cafe", CurrencyCode: "EUR", Dates: monthlyDates(start, 4),
				Amounts: []int64{-500, -4200, -150, -9900}},
		},
	}
	svc := New(store, slog.New(slog.DiscardHandler))

	_, detected, err := svc.Detect(context.Background(), uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Zero(t, detected)
	assert.Empty(t, store.upserted)
}

func TestService_Detect_UpsertFailureSkipsMerchant(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{
		groups: []MerchantGroup{
			{MerchantName: "Netflix", CurrencyCode: "EUR", Dates: monthlyDates(start, 4), Amounts: repeat(-1299, 4)},
			{MerchantName: "Spotify", CurrencyCode: "EUR", Dates: monthlyDates(start, 4), Amounts: repeat(-999, 4)},
		},
		upsertErr: map[string]error{"Netflix": errors.New("constraint violation")},
	}
	svc := New(store, slog.New(slog.DiscardHandler))

	matched, detected, err := svc.Detect(context.Background(), uuid.New(), uuid.New(),
		[]transactions.Transaction{importedTx("Netflix"), importedTx("Spotify")})
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, detected)
}

func TestService_Detect_ScanFailure(t *testing.T) {
	store := &memStore{groupsErr: errors.New("connection reset")}
	svc := New(store, slog.New(slog.DiscardHandler))

	_, _, err := svc.Detect(context.Background(), uuid.New(), uuid.New(), nil)
	assert.Error(t, err)
}

func TestDetectCadence(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("monthly", func(t *testing.T) {
		cadence, confidence := detectCadence(monthlyDates(start, 6))
		assert.Equal(t, CadenceMonthly, cadence)
		assert.Greater(t, confidence, 0.9)
	})

	t.Run("weekly", func(t *testing.T) {
		dates := []time.Time{start, start.AddDate(0, 0, 7), start.AddDate(0, 0, 14), start.AddDate(0, 0, 21)}
		cadence, confidence := detectCadence(dates)
		assert.Equal(t, CadenceWeekly, cadence)
		assert.Greater(t, confidence, 0.9)
	})

	t.Run("annual", func(t *testing.T) {
		dates := []time.Time{start, start.AddDate(1, 0, 0), start.AddDate(2, 0, 0)}
		cadence, _ := detectCadence(dates)
		assert.Equal(t, CadenceAnnual, cadence)
	})

	t.Run("irregular gaps lose confidence", func(t *testing.T) {
		dates := []time.Time{start, start.AddDate(0, 0, 2), start.AddDate(0, 0, 60), start.AddDate(0, 0, 63)}
		_, confidence := detectCadence(dates)
		assert.Less(t, confidence, 0.5)
	})

	t.Run("single charge is unknown", func(t *testing.T) {
		cadence, confidence := detectCadence([]time.Time{start})
		assert.Equal(t, CadenceUnknown, cadence)
		assert.Zero(t, confidence)
	})
}

func TestAmountStats(t *testing.T) {
	avg, variance := amountStats([]int64{-1299, -1299, -1299})
	assert.Equal(t, int64(1299), avg)
	assert.Zero(t, variance)

	_, variance = amountStats([]int64{-100, -9000})
	assert.Greater(t, variance, 0.3)
}
