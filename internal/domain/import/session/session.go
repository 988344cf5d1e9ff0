// Package session persists import sessions and enforces their lifecycle:
// pending -> mapping -> previewing -> importing -> completed | failed.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
)

var (
	// ErrNotFound covers both a missing session and a session owned by
	// someone else; callers cannot tell the two apart.
	ErrNotFound = errors.New("import session not found")

	// ErrAlreadyImporting means an executor run is already active for the
	// session; a second enqueue is rejected.
	ErrAlreadyImporting = errors.New("import already in progress for this session")

	// ErrInvalidState means the session is not in a state that allows the
	// requested operation.
	ErrInvalidState = errors.New("operation not allowed in current session state")
)

// Status is the persisted lifecycle state of an import session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusMapping    Status = "mapping"
	StatusPreviewing Status = "previewing"
	StatusImporting  Status = "importing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo encodes the allowed state machine edges. Mapping is
// re-entrant until the import starts; previewing is implied by a saved
// mapping rather than separately persisted, so importing is reachable from
// both mapping and previewing.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusMapping
	case StatusMapping:
		return next == StatusMapping || next == StatusPreviewing || next == StatusImporting
	case StatusPreviewing:
		return next == StatusMapping || next == StatusImporting
	case StatusImporting:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Session is one import attempt for one uploaded file.
type Session struct {
	ID            uuid.UUID              `json:"id"`
	UserID        uuid.UUID              `json:"user_id"`
	AccountID     uuid.UUID              `json:"account_id"`
	FileName      string                 `json:"file_name"`
	FilePath      string                 `json:"-"`
	Status        Status                 `json:"status"`
	Mapping       *mapping.ColumnMapping `json:"column_mapping,omitempty"`
	TotalRows     int                    `json:"total_rows"`
	ImportedRows  int                    `json:"imported_rows"`
	SkippedRows   int                    `json:"skipped_rows"`
	ErrorMessage  *string                `json:"error_message,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// HasMapping reports whether a validated mapping has been saved, which is
// the precondition for preview and commit.
func (s *Session) HasMapping() bool {
	return s.Mapping != nil
}
