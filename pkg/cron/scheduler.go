// Package cron runs the scheduled housekeeping jobs.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/session"
	"github.com/ledgerkeep/ledgerkeep/pkg/storage"
)

// SessionExpirer fails abandoned sessions and hands back their stored file
// paths; implemented by the session repository.
type SessionExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time) ([]session.ExpiredSession, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron       *cron.Cron
	sessions   SessionExpirer
	files      storage.Store
	sessionAge time.Duration
	logger     *slog.Logger
}

// NewScheduler wires the scheduler. sessionAge is how long a session may
// sit without reaching importing before it is expired.
func NewScheduler(sessions SessionExpirer, files storage.Store, sessionAge time.Duration, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:       c,
		sessions:   sessions,
		files:      files,
		sessionAge: sessionAge,
		logger:     logger,
	}
}

// Start begins the scheduled jobs. Session expiry runs hourly.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 * * * *", s.expireStaleSessions); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers the expiry job out of schedule.
func (s *Scheduler) RunNow() {
	go s.expireStaleSessions()
}

// expireStaleSessions fails sessions that never reached importing within
// the configured age and deletes their uploaded files.
func (s *Scheduler) expireStaleSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.sessionAge)
	expired, err := s.sessions.ExpireStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to expire stale import sessions", slog.Any("error", err))
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, e := range expired {
		if err := s.files.Delete(ctx, e.FilePath); err != nil {
			s.logger.Warn("failed to delete expired upload",
				slog.String("sessionID", e.ID.String()), slog.Any("error", err))
		}
	}

	s.logger.Info("expired stale import sessions",
		slog.Int("count", len(expired)), slog.Time("cutoff", cutoff))
}
