// Package service orchestrates the synchronous half of the import pipeline:
// upload, mapping, preview and commit. Heavy lifting lives in the pipeline
// packages; this layer wires them to persistence and enforces ownership.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/dedup"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/normalizer"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/parser"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/session"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/stream"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/verify"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
	"github.com/ledgerkeep/ledgerkeep/pkg/metrics"
	"github.com/ledgerkeep/ledgerkeep/pkg/money"
	"github.com/ledgerkeep/ledgerkeep/pkg/storage"
)

var tracer trace.Tracer = otel.Tracer("ledgerkeep.import")

// ErrNoSuggestion means no mapping could be proposed; the user maps manually.
var ErrNoSuggestion = errors.New("no mapping suggestion available")

// SessionStore is the session persistence the service needs.
type SessionStore interface {
	Create(ctx context.Context, s *session.Session) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*session.Session, error)
	SaveMapping(ctx context.Context, userID, id uuid.UUID, m *mapping.ColumnMapping) error
	SetTotalRows(ctx context.Context, userID, id uuid.UUID, total int) error
}

// TransactionStore resolves accounts and existing history.
type TransactionStore interface {
	GetAccount(ctx context.Context, userID, accountID uuid.UUID) (*transactions.Account, error)
	ListByAccount(ctx context.Context, userID, accountID uuid.UUID) ([]transactions.Transaction, error)
}

// Enqueuer starts the background import; implemented by executor.Executor.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID, sessionID uuid.UUID, selected []int) error
}

// Analysis is returned on upload: what the file looks like and a first
// mapping guess for the mapping UI.
type Analysis struct {
	Session    *session.Session       `json:"session"`
	Headers    []string               `json:"headers"`
	SampleRows [][]string             `json:"sample_rows"`
	Suggested  *mapping.ColumnMapping `json:"suggested_mapping,omitempty"`
}

// Preview is the full dry run of an import.
type Preview struct {
	Transactions []normalizer.PreviewTransaction `json:"transactions"`
	RowErrors    []normalizer.RowError           `json:"row_errors,omitempty"`
	Balance      *verify.Report                  `json:"balance"`
	TotalRows    int                             `json:"total_rows"`
}

// Config carries the import policy knobs.
type Config struct {
	SampleRows         int
	DuplicateThreshold float64
	BalanceEpsilon     decimal.Decimal
}

// Service is the import orchestrator.
type Service struct {
	sessions  SessionStore
	store     TransactionStore
	files     storage.Store
	parser    *parser.Parser
	norm      *normalizer.Normalizer
	heuristic mapping.Suggester
	ai        mapping.Suggester
	detector  *dedup.Detector
	verifier  *verify.Verifier
	enqueuer  Enqueuer
	broker    *stream.Broker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
}

// New wires the service. ai may be nil when no AI collaborator is
// configured; suggestion then falls back to the heuristic.
func New(
	sessions SessionStore,
	store TransactionStore,
	files storage.Store,
	p *parser.Parser,
	ai mapping.Suggester,
	enqueuer Enqueuer,
	broker *stream.Broker,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		sessions:  sessions,
		store:     store,
		files:     files,
		parser:    p,
		norm:      normalizer.New(),
		heuristic: mapping.NewHeuristicSuggester(),
		ai:        ai,
		detector:  dedup.New(cfg.DuplicateThreshold),
		verifier:  verify.New(cfg.BalanceEpsilon),
		enqueuer:  enqueuer,
		broker:    broker,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// CreateSession accepts an upload: parses it, stores the raw file, creates
// the session, and returns the headers, a bounded sample, and a heuristic
// mapping guess.
func (s *Service) CreateSession(ctx context.Context, userID, accountID uuid.UUID, filename string, data []byte) (*Analysis, error) {
	ctx, span := tracer.Start(ctx, "CreateSession")
	defer span.End()

	if _, err := s.store.GetAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}

	table, err := s.parser.Parse(data, parser.DetectFormat(filename, data))
	if err != nil {
		return nil, err
	}

	path, size, err := s.files.Save(ctx, userID, filename, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	sess := &session.Session{
		UserID:    userID,
		AccountID: accountID,
		FileName:  filename,
		FilePath:  path,
		TotalRows: len(table.Rows),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		if delErr := s.files.Delete(ctx, path); delErr != nil {
			s.logger.Warn("failed to clean up orphaned upload", "path", path, "error", delErr)
		}
		return nil, err
	}

	s.logger.Info("import session created",
		"sessionID", sess.ID, "file", filename, "bytes", size, "rows", len(table.Rows))
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}

	sample := table.Sample(s.cfg.SampleRows)
	suggested, err := s.heuristic.Suggest(ctx, table.Headers, sample)
	if err != nil {
		suggested = nil
	}

	return &Analysis{
		Session:    sess,
		Headers:    table.Headers,
		SampleRows: sample,
		Suggested:  suggested,
	}, nil
}

// SuggestMapping asks the AI collaborator for a candidate mapping, falling
// back to the heuristic when no collaborator is configured or it fails.
// The candidate is validated before it is returned; failure to produce a
// valid suggestion is ErrNoSuggestion, never fatal.
func (s *Service) SuggestMapping(ctx context.Context, userID, sessionID uuid.UUID) (*mapping.ColumnMapping, error) {
	ctx, span := tracer.Start(ctx, "SuggestMapping")
	defer span.End()

	sess, err := s.sessions.GetByID(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	table, err := s.loadTable(ctx, sess)
	if err != nil {
		return nil, err
	}
	sample := table.Sample(s.cfg.SampleRows)

	if s.ai != nil {
		candidate, err := s.ai.Suggest(ctx, table.Headers, sample)
		if err == nil {
			if vErr := candidate.Validate(table.Headers); vErr == nil {
				return candidate, nil
			}
			s.logger.Warn("AI mapping suggestion failed validation", "sessionID", sessionID)
		} else {
			s.logger.Warn("AI mapping suggestion failed", "sessionID", sessionID, "error", err)
		}
	}

	candidate, err := s.heuristic.Suggest(ctx, table.Headers, sample)
	if err != nil || candidate.Validate(table.Headers) != nil {
		return nil, ErrNoSuggestion
	}
	return candidate, nil
}

// SaveMapping validates the mapping against the session's file and persists
// it, advancing the session to mapping state.
func (s *Service) SaveMapping(ctx context.Context, userID, sessionID uuid.UUID, m *mapping.ColumnMapping) error {
	ctx, span := tracer.Start(ctx, "SaveMapping")
	defer span.End()

	sess, err := s.sessions.GetByID(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	table, err := s.loadTable(ctx, sess)
	if err != nil {
		return err
	}
	if err := m.Validate(table.Headers); err != nil {
		return err
	}
	return s.sessions.SaveMapping(ctx, userID, sessionID, m)
}

// BuildPreview runs the full dry run: normalize every row, flag duplicates
// against the account's history, and reconcile the file's balance columns.
// Repeated calls for an unchanged session yield identical output.
func (s *Service) BuildPreview(ctx context.Context, userID, sessionID uuid.UUID) (*Preview, error) {
	ctx, span := tracer.Start(ctx, "BuildPreview")
	defer span.End()
	start := time.Now()

	sess, err := s.sessions.GetByID(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasMapping() {
		return nil, fmt.Errorf("%w: mapping not saved", session.ErrInvalidState)
	}

	table, err := s.loadTable(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := sess.Mapping.Validate(table.Headers); err != nil {
		return nil, err
	}
	if sess.TotalRows != len(table.Rows) {
		if err := s.sessions.SetTotalRows(ctx, userID, sessionID, len(table.Rows)); err != nil {
			s.logger.Warn("failed to refresh session row count", "sessionID", sessionID, "error", err)
		}
	}

	result := s.norm.Normalize(table, sess.Mapping)

	history, err := s.store.ListByAccount(ctx, userID, sess.AccountID)
	if err != nil {
		return nil, err
	}
	existing := make([]dedup.ExistingTransaction, 0, len(history))
	for _, t := range history {
		existing = append(existing, dedup.ExistingTransaction{
			ID:          t.ID.String(),
			Date:        t.PostedAt.Format("2006-01-02"),
			Amount:      money.DecimalFromMinor(t.AmountMinor, t.CurrencyCode),
			Description: t.Description,
		})
	}
	dedup.Apply(result.Transactions, s.detector.Detect(result.Transactions, existing))

	report := s.verifier.Verify(sess.Mapping, result.Transactions)

	if s.metrics != nil {
		s.metrics.PreviewsServed.Inc()
		s.metrics.PreviewDuration.Observe(time.Since(start).Seconds())
	}

	return &Preview{
		Transactions: result.Transactions,
		RowErrors:    result.Errors,
		Balance:      report,
		TotalRows:    len(table.Rows),
	}, nil
}

// Commit enqueues the background import for the selected row indices and
// returns as soon as the session is claimed.
func (s *Service) Commit(ctx context.Context, userID, sessionID uuid.UUID, selected []int) error {
	ctx, span := tracer.Start(ctx, "Commit")
	defer span.End()

	if err := s.enqueuer.Enqueue(ctx, userID, sessionID, selected); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ImportsEnqueued.Inc()
	}
	s.logger.Info("import enqueued", "sessionID", sessionID, "selectedRows", len(selected))
	return nil
}

// Status is the polling fallback: the persisted session projection.
func (s *Service) Status(ctx context.Context, userID, sessionID uuid.UUID) (*session.Session, error) {
	return s.sessions.GetByID(ctx, userID, sessionID)
}

// Subscribe attaches a listener to the session's progress stream. Ownership
// is checked first; foreign sessions read as not found.
func (s *Service) Subscribe(ctx context.Context, userID, sessionID uuid.UUID) (<-chan stream.Event, func(), error) {
	if _, err := s.sessions.GetByID(ctx, userID, sessionID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.broker.Subscribe(sessionID)
	return ch, cancel, nil
}

func (s *Service) loadTable(ctx context.Context, sess *session.Session) (*parser.Table, error) {
	f, err := s.files.Open(ctx, sess.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open stored file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored file: %w", err)
	}
	return s.parser.Parse(data, parser.DetectFormat(sess.FileName, data))
}
