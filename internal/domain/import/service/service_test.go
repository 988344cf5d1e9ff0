package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/parser"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/session"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/stream"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
)

type memSessions struct {
	byID map[uuid.UUID]*session.Session
}

func newMemSessions() *memSessions {
	return &memSessions{byID: make(map[uuid.UUID]*session.Session)}
}

func (m *memSessions) Create(_ context.Context, s *session.Session) error {
	s.ID = uuid.New()
	s.Status = session.StatusPending
	s.CreatedAt = time.Now()
	m.byID[s.ID] = s
	return nil
}

func (m *memSessions) GetByID(_ context.Context, userID, id uuid.UUID) (*session.Session, error) {
	s, ok := m.byID[id]
	if !ok || s.UserID != userID {
		return nil, session.ErrNotFound
	}
	return s, nil
}

func (m *memSessions) SaveMapping(_ context.Context, userID, id uuid.UUID, cm *mapping.ColumnMapping) error {
	s, ok := m.byID[id]
	if !ok || s.UserID != userID {
		return session.ErrNotFound
	}
	s.Mapping = cm
	s.Status = session.StatusMapping
	return nil
}

func (m *memSessions) SetTotalRows(_ context.Context, userID, id uuid.UUID, total int) error {
	s, ok := m.byID[id]
	if !ok || s.UserID != userID {
		return session.ErrNotFound
	}
	s.TotalRows = total
	return nil
}

type memTxStore struct {
	account *transactions.Account
	history []transactions.Transaction
}

func (m *memTxStore) GetAccount(_ context.Context, userID, accountID uuid.UUID) (*transactions.Account, error) {
	if m.account == nil || m.account.ID != accountID || m.account.UserID != userID {
		return nil, transactions.ErrAccountNotFound
	}
	return m.account, nil
}

func (m *memTxStore) ListByAccount(context.Context, uuid.UUID, uuid.UUID) ([]transactions.Transaction, error) {
	return m.history, nil
}

type memFiles struct {
	byPath map[string][]byte
}

func newMemFiles() *memFiles { return &memFiles{byPath: make(map[string][]byte)} }

func (m *memFiles) Save(_ context.Context, userID uuid.UUID, filename string, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	path := fmt.Sprintf("%s/%s", userID, filename)
	m.byPath[path] = data
	return path, int64(len(data)), nil
}

func (m *memFiles) Open(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := m.byPath[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memFiles) Delete(_ context.Context, path string) error {
	delete(m.byPath, path)
	return nil
}

type stubSuggester struct {
	mapping *mapping.ColumnMapping
	err     error
}

func (s *stubSuggester) Suggest(context.Context, []string, [][]string) (*mapping.ColumnMapping, error) {
	return s.mapping, s.err
}

type stubEnqueuer struct {
	err      error
	selected []int
}

func (s *stubEnqueuer) Enqueue(_ context.Context, _, _ uuid.UUID, selected []int) error {
	s.selected = selected
	return s.err
}

const uploadCSV = "Date,Description,Amount\n" +
	"2026-01-15,Coffee Shop,-4.50\n" +
	"2026-01-16,Salary,5000.00\n"

type fixture struct {
	svc      *Service
	sessions *memSessions
	store    *memTxStore
	enqueuer *stubEnqueuer
	ai       *stubSuggester
	userID   uuid.UUID
	account  *transactions.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	userID := uuid.New()
	account := &transactions.Account{ID: uuid.New(), UserID: userID, Name: "Checking", CurrencyCode: "EUR"}
	sessions := newMemSessions()
	store := &memTxStore{account: account}
	enqueuer := &stubEnqueuer{}
	ai := &stubSuggester{err: errors.New("unconfigured")}

	svc := New(
		sessions, store, newMemFiles(), parser.New(0),
		ai, enqueuer, stream.NewBroker(), nil,
		Config{SampleRows: 5, DuplicateThreshold: 0.85, BalanceEpsilon: decimal.RequireFromString("0.01")},
		slog.New(slog.DiscardHandler),
	)

	return &fixture{
		svc: svc, sessions: sessions, store: store,
		enqueuer: enqueuer, ai: ai, userID: userID, account: account,
	}
}

func (f *fixture) createSession(t *testing.T) *session.Session {
	t.Helper()
	analysis, err := f.svc.CreateSession(context.Background(), f.userID, f.account.ID, "statement.csv", []byte(uploadCSV))
	require.NoError(t, err)
	return analysis.Session
}

func TestService_CreateSession(t *testing.T) {
	f := newFixture(t)

	t.Run("parses, stores and suggests", func(t *testing.T) {
		analysis, err := f.svc.CreateSession(context.Background(), f.userID, f.account.ID, "statement.csv", []byte(uploadCSV))
		require.NoError(t, err)

		assert.Equal(t, session.StatusPending, analysis.Session.Status)
		assert.Equal(t, 2, analysis.Session.TotalRows)
		assert.Equal(t, []string{"Date", "Description", "Amount"}, analysis.Headers)
		assert.Len(t, analysis.SampleRows, 2)
		require.NotNil(t, analysis.Suggested)
		assert.Equal(t, "Date", analysis.Suggested.Date)
		assert.True(t, analysis.Suggested.IsAmountSigned)
	})

	t.Run("rejects foreign account", func(t *testing.T) {
		_, err := f.svc.CreateSession(context.Background(), f.userID, uuid.New(), "statement.csv", []byte(uploadCSV))
		assert.ErrorIs(t, err, transactions.ErrAccountNotFound)
	})

	t.Run("rejects unparsable upload", func(t *testing.T) {
		_, err := f.svc.CreateSession(context.Background(), f.userID, f.account.ID, "statement.csv", nil)
		assert.ErrorIs(t, err, parser.ErrEmptyFile)
	})
}

func TestService_SaveMapping(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	t.Run("valid mapping advances session", func(t *testing.T) {
		m := &mapping.ColumnMapping{Date: "Date", Amount: "Amount", Description: "Description", IsAmountSigned: true}
		require.NoError(t, f.svc.SaveMapping(context.Background(), f.userID, sess.ID, m))
		assert.Equal(t, session.StatusMapping, sess.Status)
	})

	t.Run("mapping naming unknown columns is rejected", func(t *testing.T) {
		m := &mapping.ColumnMapping{Date: "Datum", Amount: "Amount", Description: "Description"}
		err := f.svc.SaveMapping(context.Background(), f.userID, sess.ID, m)
		assert.ErrorIs(t, err, mapping.ErrInvalidMapping)
	})

	t.Run("foreign session is not found", func(t *testing.T) {
		m := &mapping.ColumnMapping{Date: "Date", Amount: "Amount", Description: "Description"}
		err := f.svc.SaveMapping(context.Background(), uuid.New(), sess.ID, m)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})
}

func TestService_SuggestMapping(t *testing.T) {
	t.Run("valid AI suggestion wins", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createSession(t)
		f.ai.mapping = &mapping.ColumnMapping{Date: "Date", Amount: "Amount", Description: "Description"}
		f.ai.err = nil

		got, err := f.svc.SuggestMapping(context.Background(), f.userID, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, f.ai.mapping, got)
	})

	t.Run("invalid AI suggestion falls back to heuristic", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createSession(t)
		f.ai.mapping = &mapping.ColumnMapping{Date: "No Such Column", Amount: "Amount", Description: "Description"}
		f.ai.err = nil

		got, err := f.svc.SuggestMapping(context.Background(), f.userID, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "Date", got.Date)
	})

	t.Run("AI failure falls back to heuristic", func(t *testing.T) {
		f := newFixture(t)
		sess := f.createSession(t)

		got, err := f.svc.SuggestMapping(context.Background(), f.userID, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "Amount", got.Amount)
	})
}

func TestService_BuildPreview(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	t.Run("requires a saved mapping", func(t *testing.T) {
		_, err := f.svc.BuildPreview(context.Background(), f.userID, sess.ID)
		assert.ErrorIs(t, err, session.ErrInvalidState)
	})

	m := &mapping.ColumnMapping{Date: "Date", Amount: "Amount", Description: "Description", IsAmountSigned: true}
	require.NoError(t, f.svc.SaveMapping(context.Background(), f.userID, sess.ID, m))

	t.Run("normalizes and flags duplicates against history", func(t *testing.T) {
		f.store.history = []transactions.Transaction{{
			ID:           uuid.New(),
			PostedAt:     time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			Description:  "Coffee Shop",
			AmountMinor:  -450,
			CurrencyCode: "EUR",
		}}

		preview, err := f.svc.BuildPreview(context.Background(), f.userID, sess.ID)
		require.NoError(t, err)
		require.Len(t, preview.Transactions, 2)

		assert.True(t, preview.Transactions[0].IsDuplicate)
		assert.Equal(t, f.store.history[0].ID.String(), preview.Transactions[0].DuplicateOf)
		assert.False(t, preview.Transactions[1].IsDuplicate)

		assert.Equal(t, 2, preview.TotalRows)
		require.NotNil(t, preview.Balance)
		assert.False(t, preview.Balance.HasBalanceData)
	})

	t.Run("repeated previews are identical", func(t *testing.T) {
		a, err := f.svc.BuildPreview(context.Background(), f.userID, sess.ID)
		require.NoError(t, err)
		b, err := f.svc.BuildPreview(context.Background(), f.userID, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestService_Commit(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	require.NoError(t, f.svc.Commit(context.Background(), f.userID, sess.ID, []int{0, 1}))
	assert.Equal(t, []int{0, 1}, f.enqueuer.selected)

	f.enqueuer.err = session.ErrAlreadyImporting
	err := f.svc.Commit(context.Background(), f.userID, sess.ID, []int{0})
	assert.ErrorIs(t, err, session.ErrAlreadyImporting)
}

func TestService_Subscribe(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	t.Run("owner can subscribe", func(t *testing.T) {
		ch, cancel, err := f.svc.Subscribe(context.Background(), f.userID, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, ch)
		cancel()
	})

	t.Run("non-owner reads as not found", func(t *testing.T) {
		_, _, err := f.svc.Subscribe(context.Background(), uuid.New(), sess.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})
}
