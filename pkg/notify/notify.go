// Package notify emails the account owner when a background import
// finishes. Delivery is best-effort; import results never depend on it.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/resend/resend-go/v2"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/session"
)

// RecipientResolver maps a user id to an email address. Auth lives outside
// this service, so the address has to come from the caller's directory.
type RecipientResolver func(ctx context.Context, userID uuid.UUID) (string, error)

// StaticRecipient sends every notification to one address; used in small
// single-tenant deployments.
func StaticRecipient(email string) RecipientResolver {
	return func(context.Context, uuid.UUID) (string, error) {
		return email, nil
	}
}

const dedupeCacheSize = 1024

// Mailer sends import completion/failure emails through Resend. A small
// cache keyed by import id and final status suppresses duplicate sends when
// a finished session is re-notified.
type Mailer struct {
	client   *resend.Client
	from     string
	resolver RecipientResolver
	sent     *lru.Cache[string, struct{}]
	logger   *slog.Logger
}

// New builds the mailer. An empty apiKey or nil resolver disables sending;
// the mailer then just logs.
func New(apiKey, from string, resolver RecipientResolver, logger *slog.Logger) (*Mailer, error) {
	sent, err := lru.New[string, struct{}](dedupeCacheSize)
	if err != nil {
		return nil, err
	}

	var client *resend.Client
	if apiKey != "" {
		client = resend.NewClient(apiKey)
	}
	return &Mailer{client: client, from: from, resolver: resolver, sent: sent, logger: logger}, nil
}

// ImportFinished notifies the owner that their import completed or failed.
func (m *Mailer) ImportFinished(ctx context.Context, userID uuid.UUID, sess *session.Session) {
	key := fmt.Sprintf("%s:%s", sess.ID, sess.Status)
	if _, dup := m.sent.Get(key); dup {
		return
	}

	if m.client == nil || m.resolver == nil {
		m.logger.Debug("email notifications not configured, skipping",
			"sessionID", sess.ID, "status", sess.Status)
		return
	}

	to, err := m.resolver(ctx, userID)
	if err != nil || to == "" {
		m.logger.Warn("could not resolve notification recipient", "userID", userID, "error", err)
		return
	}

	subject, html := composeImportEmail(sess)
	_, err = m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		m.logger.Warn("failed to send import notification",
			"sessionID", sess.ID, "error", err)
		return
	}

	m.sent.Add(key, struct{}{})
	m.logger.Info("import notification sent", "sessionID", sess.ID, "status", sess.Status)
}

func composeImportEmail(sess *session.Session) (string, string) {
	if sess.Status == session.StatusFailed {
		reason := "unknown error"
		if sess.ErrorMessage != nil {
			reason = *sess.ErrorMessage
		}
		subject := fmt.Sprintf("Import of %s failed", sess.FileName)
		html := fmt.Sprintf(
			"<p>Your import of <strong>%s</strong> failed: %s.</p>"+
				"<p>%d rows were imported before the failure and have been kept.</p>",
			sess.FileName, reason, sess.ImportedRows)
		return subject, html
	}

	subject := fmt.Sprintf("Import of %s completed", sess.FileName)
	html := fmt.Sprintf(
		"<p>Your import of <strong>%s</strong> is done.</p>"+
			"<p>%d transactions imported, %d rows skipped.</p>",
		sess.FileName, sess.ImportedRows, sess.SkippedRows)
	return subject, html
}
