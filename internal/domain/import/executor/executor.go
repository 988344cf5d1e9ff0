// Package executor runs the background half of an import: it re-derives the
// preview server-side from the stored file and mapping, persists the rows
// the user selected, and publishes lifecycle events. It never trusts
// client-echoed transaction payloads; only row indices cross the boundary.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/normalizer"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/parser"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/session"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/stream"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
	"github.com/ledgerkeep/ledgerkeep/pkg/metrics"
	"github.com/ledgerkeep/ledgerkeep/pkg/money"
)

// SessionStore is the session persistence the executor needs.
type SessionStore interface {
	GetByID(ctx context.Context, userID, id uuid.UUID) (*session.Session, error)
	BeginImport(ctx context.Context, userID, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, imported, skipped int) error
	Fail(ctx context.Context, id uuid.UUID, imported int, message string) error
}

// TransactionStore persists rows and resolves accounts.
type TransactionStore interface {
	GetAccount(ctx context.Context, userID, accountID uuid.UUID) (*transactions.Account, error)
	Append(ctx context.Context, t *transactions.Transaction) error
}

// FileStore reads back the originally uploaded statement.
type FileStore interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// CategorizationSummary is the token/cost accounting a categorizer reports.
type CategorizationSummary struct {
	Categorized int   `json:"categorized"`
	TokensUsed  int64 `json:"tokens_used"`
}

func (s CategorizationSummary) String() string {
	return fmt.Sprintf("%d categorized, %d tokens", s.Categorized, s.TokensUsed)
}

// Categorizer assigns categories to freshly imported transactions. Failure
// degrades to uncategorized, never to a failed import.
type Categorizer interface {
	Categorize(ctx context.Context, userID uuid.UUID, txs []transactions.Transaction) (CategorizationSummary, error)
}

// SubscriptionDetector scans newly imported transactions for recurring
// payments after the import completes.
type SubscriptionDetector interface {
	Detect(ctx context.Context, userID, accountID uuid.UUID, imported []transactions.Transaction) (matched, detected int, err error)
}

// Notifier is told about terminal import outcomes.
type Notifier interface {
	ImportFinished(ctx context.Context, userID uuid.UUID, s *session.Session)
}

// Executor is the background import worker.
type Executor struct {
	sessions      SessionStore
	store         TransactionStore
	files         FileStore
	parser        *parser.Parser
	normalizer    *normalizer.Normalizer
	broker        *stream.Broker
	categorizer   Categorizer
	subscriptions SubscriptionDetector
	notifier      Notifier
	metrics       *metrics.Metrics
	logger        *slog.Logger

	progressInterval time.Duration
}

// New wires an executor. categorizer, subscriptions and notifier may be nil;
// the corresponding steps are then skipped.
func New(
	sessions SessionStore,
	store TransactionStore,
	files FileStore,
	p *parser.Parser,
	n *normalizer.Normalizer,
	broker *stream.Broker,
	categorizer Categorizer,
	subscriptions SubscriptionDetector,
	notifier Notifier,
	m *metrics.Metrics,
	progressInterval time.Duration,
	logger *slog.Logger,
) *Executor {
	if progressInterval <= 0 {
		progressInterval = 500 * time.Millisecond
	}
	return &Executor{
		sessions:         sessions,
		store:            store,
		files:            files,
		parser:           p,
		normalizer:       n,
		broker:           broker,
		categorizer:      categorizer,
		subscriptions:    subscriptions,
		notifier:         notifier,
		metrics:          m,
		logger:           logger,
		progressInterval: progressInterval,
	}
}

// Enqueue claims the session for import and starts the run in the
// background. The claim is the single-flight guard: a session already
// importing returns session.ErrAlreadyImporting and nothing is started.
// The returned error reflects only the enqueue, never the run.
func (e *Executor) Enqueue(ctx context.Context, userID, sessionID uuid.UUID, selected []int) error {
	if len(selected) == 0 {
		return fmt.Errorf("%w: no rows selected", session.ErrInvalidState)
	}
	if err := e.sessions.BeginImport(ctx, userID, sessionID); err != nil {
		return err
	}

	rows := slices.Clone(selected)
	slices.Sort(rows)
	rows = slices.Compact(rows)

	// Detached from the request context: the run outlives the HTTP call.
	go e.Run(context.WithoutCancel(ctx), userID, sessionID, rows)
	return nil
}

// Run executes one import to completion. It assumes the session was already
// moved to importing. Exported so tests and out-of-process workers can run
// it synchronously.
func (e *Executor) Run(ctx context.Context, userID, sessionID uuid.UUID, selected []int) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ImportDuration.Observe(time.Since(start).Seconds())
		}
	}()

	sess, err := e.sessions.GetByID(ctx, userID, sessionID)
	if err != nil {
		e.logger.Error("import run could not load session", "sessionID", sessionID, "error", err)
		return
	}
	if sess.Mapping == nil {
		e.fail(ctx, sess, 0, "no column mapping saved")
		return
	}

	account, err := e.store.GetAccount(ctx, userID, sess.AccountID)
	if err != nil {
		e.fail(ctx, sess, 0, fmt.Sprintf("account lookup failed: %v", err))
		return
	}

	previews, err := e.renormalize(ctx, sess)
	if err != nil {
		e.fail(ctx, sess, 0, err.Error())
		return
	}

	byRow := make(map[int]normalizer.PreviewTransaction, len(previews))
	for _, p := range previews {
		byRow[p.RowIndex] = p
	}

	e.broker.Publish(stream.Event{
		Type:      stream.EventImportStarted,
		ImportID:  sess.ID,
		TotalRows: len(selected),
	})

	limiter := rate.NewLimiter(rate.Every(e.progressInterval), 1)
	imported := make([]transactions.Transaction, 0, len(selected))
	skipped := 0

	for i, rowIndex := range selected {
		p, ok := byRow[rowIndex]
		if !ok {
			// Selected row failed normalization or never existed.
			skipped++
			continue
		}

		t := transactions.Transaction{
			UserID:          userID,
			AccountID:       account.ID,
			ImportSessionID: &sess.ID,
			PostedAt:        p.Date,
			Description:     p.Description,
			AmountMinor:     money.MinorFromDecimal(p.SignedAmount(), account.CurrencyCode),
			CurrencyCode:    account.CurrencyCode,
		}
		if p.Merchant != "" {
			merchant := p.Merchant
			t.Merchant = &merchant
		}

		if err := e.store.Append(ctx, &t); err != nil {
			// Rows already written stay written; the session records how
			// far we got.
			e.fail(ctx, sess, len(imported), fmt.Sprintf("failed to persist row %d: %v", rowIndex, err))
			return
		}
		imported = append(imported, t)

		if limiter.Allow() {
			e.broker.Publish(stream.Event{
				Type:          stream.EventImportProgress,
				ImportID:      sess.ID,
				ProcessedRows: i + 1,
				TotalRows:     len(selected),
				Percentage:    float64(i+1) / float64(len(selected)) * 100,
			})
		}
	}

	summary := e.categorize(ctx, userID, imported)

	if err := e.sessions.Complete(ctx, sess.ID, len(imported), skipped); err != nil {
		e.logger.Error("failed to mark import completed", "sessionID", sess.ID, "error", err)
	}
	sess.Status = session.StatusCompleted
	sess.ImportedRows = len(imported)
	sess.SkippedRows = skipped

	if e.metrics != nil {
		e.metrics.ImportsCompleted.Inc()
		e.metrics.RowsImported.Add(float64(len(imported)))
		e.metrics.RowsSkipped.Add(float64(skipped))
	}

	e.broker.Publish(stream.Event{
		Type:                  stream.EventImportCompleted,
		ImportID:              sess.ID,
		ImportedCount:         len(imported),
		SkippedCount:          skipped,
		CategorizationSummary: summary.String(),
	})

	e.detectSubscriptions(ctx, userID, sess, imported)

	if e.notifier != nil {
		e.notifier.ImportFinished(ctx, userID, sess)
	}
}

// renormalize re-derives the preview set from the stored file and mapping.
func (e *Executor) renormalize(ctx context.Context, sess *session.Session) ([]normalizer.PreviewTransaction, error) {
	f, err := e.files.Open(ctx, sess.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open stored file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored file: %w", err)
	}

	table, err := e.parser.Parse(data, parser.DetectFormat(sess.FileName, data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored file: %w", err)
	}
	if err := sess.Mapping.Validate(table.Headers); err != nil {
		return nil, fmt.Errorf("stored mapping no longer matches file: %w", err)
	}

	return e.normalizer.Normalize(table, sess.Mapping).Transactions, nil
}

func (e *Executor) categorize(ctx context.Context, userID uuid.UUID, imported []transactions.Transaction) CategorizationSummary {
	if e.categorizer == nil || len(imported) == 0 {
		return CategorizationSummary{}
	}
	summary, err := e.categorizer.Categorize(ctx, userID, imported)
	if err != nil {
		e.logger.Warn("categorization failed, leaving transactions uncategorized", "error", err)
		return CategorizationSummary{}
	}
	return summary
}

func (e *Executor) detectSubscriptions(ctx context.Context, userID uuid.UUID, sess *session.Session, imported []transactions.Transaction) {
	if e.subscriptions == nil {
		return
	}

	e.broker.Publish(stream.Event{Type: stream.EventSubscriptionsStarted, ImportID: sess.ID})

	matched, detected, err := e.subscriptions.Detect(ctx, userID, sess.AccountID, imported)
	if err != nil {
		e.logger.Warn("subscription detection failed", "sessionID", sess.ID, "error", err)
	}
	e.broker.Publish(stream.Event{
		Type:          stream.EventSubscriptionsCompleted,
		ImportID:      sess.ID,
		MatchedCount:  matched,
		DetectedCount: detected,
	})
}

func (e *Executor) fail(ctx context.Context, sess *session.Session, imported int, message string) {
	e.logger.Error("import failed", "sessionID", sess.ID, "importedBeforeFailure", imported, "reason", message)

	if err := e.sessions.Fail(ctx, sess.ID, imported, message); err != nil {
		e.logger.Error("failed to mark session failed", "sessionID", sess.ID, "error", err)
	}
	sess.Status = session.StatusFailed
	sess.ImportedRows = imported
	sess.ErrorMessage = &message

	if e.metrics != nil {
		e.metrics.ImportsFailed.Inc()
		e.metrics.RowsImported.Add(float64(imported))
	}

	e.broker.Publish(stream.Event{
		Type:     stream.EventImportFailed,
		ImportID: sess.ID,
		Error:    message,
	})

	if e.notifier != nil {
		e.notifier.ImportFinished(ctx, sess.UserID, sess)
	}
}
