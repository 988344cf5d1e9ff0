package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func sessionRows(s *Session, mappingJSON []byte) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "account_id", "file_name", "file_path", "status", "column_mapping",
		"total_rows", "imported_rows", "skipped_rows", "error_message", "created_at", "completed_at",
	}).AddRow(
		s.ID, s.UserID, s.AccountID, s.FileName, s.FilePath, s.Status, mappingJSON,
		s.TotalRows, s.ImportedRows, s.SkippedRows, s.ErrorMessage, s.CreatedAt, s.CompletedAt,
	)
}

func TestRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)

	s := &Session{
		UserID:    uuid.New(),
		AccountID: uuid.New(),
		FileName:  "statement.csv",
		FilePath:  "user/abc_statement.csv",
	}

	mock.ExpectQuery(`INSERT INTO import_sessions`).
		WithArgs(s.UserID, s.AccountID, s.FileName, s.FilePath, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "created_at"}).
			AddRow(uuid.New(), StatusPending, time.Now()))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, StatusPending, s.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, sessionID := uuid.New(), uuid.New()

	t.Run("returns owned session with mapping", func(t *testing.T) {
		m := &mapping.ColumnMapping{Date: "Date", Amount: "Amount", Description: "Desc"}
		mappingJSON, err := json.Marshal(m)
		require.NoError(t, err)

		stored := &Session{
			ID: sessionID, UserID: userID, AccountID: uuid.New(),
			FileName: "statement.csv", FilePath: "p", Status: StatusMapping,
			TotalRows: 10, CreatedAt: time.Now(),
		}
		mock.ExpectQuery(`SELECT (.+) FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnRows(sessionRows(stored, mappingJSON))

		got, err := repo.GetByID(context.Background(), userID, sessionID)
		require.NoError(t, err)
		assert.Equal(t, StatusMapping, got.Status)
		require.NotNil(t, got.Mapping)
		assert.Equal(t, "Date", got.Mapping.Date)
	})

	t.Run("missing session yields not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "user_id", "account_id", "file_name", "file_path", "status", "column_mapping",
				"total_rows", "imported_rows", "skipped_rows", "error_message", "created_at", "completed_at",
			}))

		_, err := repo.GetByID(context.Background(), userID, sessionID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepository_SaveMapping(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, sessionID := uuid.New(), uuid.New()
	m := &mapping.ColumnMapping{Date: "Date", Amount: "Amount", Description: "Desc"}
	payload, err := json.Marshal(m)
	require.NoError(t, err)

	t.Run("updates pre-import session", func(t *testing.T) {
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, userID, payload, StatusMapping, StatusPending, StatusMapping, StatusPreviewing).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.SaveMapping(context.Background(), userID, sessionID, m))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session already importing is rejected", func(t *testing.T) {
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, userID, payload, StatusMapping, StatusPending, StatusMapping, StatusPreviewing).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		importing := &Session{
			ID: sessionID, UserID: userID, AccountID: uuid.New(),
			FileName: "f", FilePath: "p", Status: StatusImporting, CreatedAt: time.Now(),
		}
		mock.ExpectQuery(`SELECT (.+) FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnRows(sessionRows(importing, nil))

		err := repo.SaveMapping(context.Background(), userID, sessionID, m)
		assert.ErrorIs(t, err, ErrAlreadyImporting)
	})
}

func TestRepository_BeginImport(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, sessionID := uuid.New(), uuid.New()

	t.Run("wins the single-flight transition", func(t *testing.T) {
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, userID, StatusImporting, StatusMapping, StatusPreviewing).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.BeginImport(context.Background(), userID, sessionID))
	})

	t.Run("second enqueue loses", func(t *testing.T) {
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, userID, StatusImporting, StatusMapping, StatusPreviewing).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		importing := &Session{
			ID: sessionID, UserID: userID, AccountID: uuid.New(),
			FileName: "f", FilePath: "p", Status: StatusImporting, CreatedAt: time.Now(),
		}
		mock.ExpectQuery(`SELECT (.+) FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnRows(sessionRows(importing, nil))

		err := repo.BeginImport(context.Background(), userID, sessionID)
		assert.ErrorIs(t, err, ErrAlreadyImporting)
	})

	t.Run("terminal session is invalid state", func(t *testing.T) {
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, userID, StatusImporting, StatusMapping, StatusPreviewing).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		done := &Session{
			ID: sessionID, UserID: userID, AccountID: uuid.New(),
			FileName: "f", FilePath: "p", Status: StatusCompleted, CreatedAt: time.Now(),
		}
		mock.ExpectQuery(`SELECT (.+) FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnRows(sessionRows(done, nil))

		err := repo.BeginImport(context.Background(), userID, sessionID)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestRepository_CompleteAndFail(t *testing.T) {
	repo, mock := newMockRepo(t)
	sessionID := uuid.New()

	t.Run("complete records counts", func(t *testing.T) {
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, StatusCompleted, 42, 3, StatusImporting).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.Complete(context.Background(), sessionID, 42, 3))
	})

	t.Run("fail keeps partial count", func(t *testing.T) {
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, StatusFailed, 17, "insert failed", StatusImporting).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.Fail(context.Background(), sessionID, 17, "insert failed"))
	})

	t.Run("complete outside importing is invalid", func(t *testing.T) {
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, StatusCompleted, 1, 0, StatusImporting).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, repo.Complete(context.Background(), sessionID, 1, 0), ErrInvalidState)
	})
}

func TestRepository_ExpireStale(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Now().Add(-24 * time.Hour)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE import_sessions`).
		WithArgs(StatusFailed, StatusPending, StatusMapping, StatusPreviewing, cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"id", "file_path"}).AddRow(id, "user/abc.csv"))

	expired, err := repo.ExpireStale(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, id, expired[0].ID)
	assert.Equal(t, "user/abc.csv", expired[0].FilePath)
}
