package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
)

// DB is the subset of pgxpool.Pool the repository needs; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores import sessions in Postgres.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, user_id, account_id, file_name, file_path, status, column_mapping,
		total_rows, imported_rows, skipped_rows, error_message, created_at, completed_at`

// Create persists a new session in pending state and fills in the generated
// id and timestamp.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO import_sessions (user_id, account_id, file_name, file_path, total_rows)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, status, created_at
	`
	err := r.db.QueryRow(ctx, query, s.UserID, s.AccountID, s.FileName, s.FilePath, s.TotalRows).
		Scan(&s.ID, &s.Status, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create import session: %w", err)
	}
	return nil
}

// GetByID loads a session scoped to its owner. A session owned by another
// user is indistinguishable from a missing one.
func (r *Repository) GetByID(ctx context.Context, userID, id uuid.UUID) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM import_sessions
		WHERE id = $1 AND user_id = $2
	`
	row := r.db.QueryRow(ctx, query, id, userID)
	return scanSession(row)
}

// SaveMapping stores a validated mapping and moves the session to mapping
// state. Allowed until the import starts; saving again overwrites.
func (r *Repository) SaveMapping(ctx context.Context, userID, id uuid.UUID, m *mapping.ColumnMapping) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode column mapping: %w", err)
	}

	query := `
		UPDATE import_sessions
		SET column_mapping = $3, status = $4
		WHERE id = $1 AND user_id = $2 AND status IN ($5, $6, $7)
	`
	tag, err := r.db.Exec(ctx, query, id, userID, payload, StatusMapping,
		StatusPending, StatusMapping, StatusPreviewing)
	if err != nil {
		return fmt.Errorf("failed to save column mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, userID, id)
	}
	return nil
}

// SetTotalRows records the parsed row count once the file has been read.
func (r *Repository) SetTotalRows(ctx context.Context, userID, id uuid.UUID, total int) error {
	query := `UPDATE import_sessions SET total_rows = $3 WHERE id = $1 AND user_id = $2`
	tag, err := r.db.Exec(ctx, query, id, userID, total)
	if err != nil {
		return fmt.Errorf("failed to update row count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BeginImport atomically moves the session into importing. The conditional
// update is the single-flight guard: only one caller can win the
// transition, any concurrent enqueue for the same session loses.
func (r *Repository) BeginImport(ctx context.Context, userID, id uuid.UUID) error {
	query := `
		UPDATE import_sessions
		SET status = $3
		WHERE id = $1 AND user_id = $2
		  AND status IN ($4, $5)
		  AND column_mapping IS NOT NULL
	`
	tag, err := r.db.Exec(ctx, query, id, userID, StatusImporting, StatusMapping, StatusPreviewing)
	if err != nil {
		return fmt.Errorf("failed to start import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, userID, id)
	}
	return nil
}

// Complete records the final counts and marks the session completed.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, imported, skipped int) error {
	query := `
		UPDATE import_sessions
		SET status = $2, imported_rows = $3, skipped_rows = $4, completed_at = NOW()
		WHERE id = $1 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, id, StatusCompleted, imported, skipped, StatusImporting)
	if err != nil {
		return fmt.Errorf("failed to complete import session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Fail marks the session failed. Rows persisted before the failure stay
// persisted; imported counts reflect what actually landed.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, imported int, message string) error {
	query := `
		UPDATE import_sessions
		SET status = $2, imported_rows = $3, error_message = $4, completed_at = NOW()
		WHERE id = $1 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, id, StatusFailed, imported, message, StatusImporting)
	if err != nil {
		return fmt.Errorf("failed to mark import session failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ExpiredSession identifies a session expired by the cleanup job, with the
// stored file that can now be removed.
type ExpiredSession struct {
	ID       uuid.UUID
	FilePath string
}

// ExpireStale fails sessions that never reached importing before the
// cutoff and returns their stored file paths for cleanup.
func (r *Repository) ExpireStale(ctx context.Context, cutoff time.Time) ([]ExpiredSession, error) {
	query := `
		UPDATE import_sessions
		SET status = $1, error_message = 'session expired', completed_at = NOW()
		WHERE status IN ($2, $3, $4) AND created_at < $5
		RETURNING id, file_path
	`
	rows, err := r.db.Query(ctx, query, StatusFailed, StatusPending, StatusMapping, StatusPreviewing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale sessions: %w", err)
	}
	defer rows.Close()

	var expired []ExpiredSession
	for rows.Next() {
		var e ExpiredSession
		if err := rows.Scan(&e.ID, &e.FilePath); err != nil {
			return nil, err
		}
		expired = append(expired, e)
	}
	return expired, rows.Err()
}

// classifyMiss turns a zero-row conditional update into the precise error:
// missing session, duplicate enqueue, or wrong state.
func (r *Repository) classifyMiss(ctx context.Context, userID, id uuid.UUID) error {
	current, err := r.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if current.Status == StatusImporting {
		return ErrAlreadyImporting
	}
	return ErrInvalidState
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var mappingJSON []byte
	err := row.Scan(
		&s.ID, &s.UserID, &s.AccountID, &s.FileName, &s.FilePath, &s.Status, &mappingJSON,
		&s.TotalRows, &s.ImportedRows, &s.SkippedRows, &s.ErrorMessage, &s.CreatedAt, &s.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load import session: %w", err)
	}

	if len(mappingJSON) > 0 {
		var m mapping.ColumnMapping
		if err := json.Unmarshal(mappingJSON, &m); err != nil {
			return nil, fmt.Errorf("failed to decode column mapping: %w", err)
		}
		s.Mapping = &m
	}
	return &s, nil
}
