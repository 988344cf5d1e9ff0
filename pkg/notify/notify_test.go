package notify

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/session"
)

func TestComposeImportEmail(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		sess := &session.Session{
			ID:           uuid.New(),
			FileName:     "statement.csv",
			Status:       session.StatusCompleted,
			ImportedRows: 42,
			SkippedRows:  3,
		}
		subject, html := composeImportEmail(sess)
		assert.Equal(t, "Import of statement.csv completed", subject)
		assert.Contains(t, html, "42 transactions imported")
		assert.Contains(t, html, "3 rows skipped")
	})

	t.Run("failed includes reason and partial count", func(t *testing.T) {
		reason := "disk full"
		sess := &session.Session{
			ID:           uuid.New(),
			FileName:     "statement.csv",
			Status:       session.StatusFailed,
			ImportedRows: 7,
			ErrorMessage: &reason,
		}
		subject, html := composeImportEmail(sess)
		assert.Equal(t, "Import of statement.csv failed", subject)
		assert.Contains(t, html, "disk full")
		assert.Contains(t, html, "7 rows were imported")
	})
}

func TestMailer_Unconfigured(t *testing.T) {
	m, err := New("", "imports@ledgerkeep.app", nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	sess := &session.Session{ID: uuid.New(), FileName: "statement.csv", Status: session.StatusCompleted}
	m.ImportFinished(context.Background(), uuid.New(), sess)
}

func TestStaticRecipient(t *testing.T) {
	resolve := StaticRecipient("owner@example.com")
	to, err := resolve(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", to)
}
