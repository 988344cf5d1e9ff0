package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/categorization"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/executor"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
)

// categorizationAdapter adapts categorization.Service to the executor's
// Categorizer interface.
type categorizationAdapter struct {
	svc *categorization.Service
}

func newCategorizationAdapter(svc *categorization.Service) executor.Categorizer {
	return &categorizationAdapter{svc: svc}
}

func (a *categorizationAdapter) Categorize(ctx context.Context, userID uuid.UUID, txs []transactions.Transaction) (executor.CategorizationSummary, error) {
	summary, err := a.svc.Categorize(ctx, userID, txs)
	if err != nil {
		return executor.CategorizationSummary{}, err
	}
	return executor.CategorizationSummary{
		Categorized: summary.Categorized,
		TokensUsed:  int64(summary.TokensUsed),
	}, nil
}
