package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
)

// Classifier is the optional AI fallback for descriptions no pattern covers.
// It returns category names keyed by input index, plus the tokens spent.
type Classifier interface {
	Classify(ctx context.Context, descriptions []string, categories []string) (map[int]string, int, error)
}

// Summary reports one categorization run.
type Summary struct {
	Categorized int `json:"categorized"`
	TokensUsed  int `json:"tokens_used"`
}

// Store is the persistence the service needs.
type Store interface {
	ListPatterns(ctx context.Context, userID uuid.UUID) ([]Pattern, error)
	ListCategories(ctx context.Context) ([]Category, error)
	CreatePattern(ctx context.Context, p *Pattern) error
	TagTransaction(ctx context.Context, transactionID uuid.UUID, cleanName *string, categoryID *uuid.UUID) error
}

// userMatchers bundles the per-user matching structures built from one
// pattern snapshot.
type userMatchers struct {
	engine *Engine
	fuzzy  *FuzzyMatcher
	index  *SearchIndex
}

const (
	matcherCacheSize = 256
	matcherCacheTTL  = 5 * time.Minute

	fuzzyThreshold = 70
	minSearchScore = 0.5
)

// Service categorizes imported transactions in three passes: exact
// substring match, fuzzy match, then full-text search. Whatever is still
// unmatched goes to the AI classifier when one is configured.
type Service struct {
	store      Store
	classifier Classifier
	matchers   *expirable.LRU[uuid.UUID, *userMatchers]
	logger     *slog.Logger
}

// New wires the service. classifier may be nil; the AI pass is then skipped.
func New(store Store, classifier Classifier, logger *slog.Logger) *Service {
	onEvict := func(_ uuid.UUID, m *userMatchers) {
		if err := m.index.Close(); err != nil {
			logger.Warn("failed to close evicted search index", "error", err)
		}
	}
	return &Service{
		store:      store,
		classifier: classifier,
		matchers:   expirable.NewLRU[uuid.UUID, *userMatchers](matcherCacheSize, onEvict, matcherCacheTTL),
		logger:     logger,
	}
}

// Categorize tags the given transactions in the database and reports how
// many were categorized.
func (s *Service) Categorize(ctx context.Context, userID uuid.UUID, txs []transactions.Transaction) (Summary, error) {
	if len(txs) == 0 {
		return Summary{}, nil
	}

	m, err := s.matchersFor(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	var unmatched []int

	for i := range txs {
		match := s.resolve(m, txs[i].Description)
		if match == nil {
			unmatched = append(unmatched, i)
			continue
		}
		if err := s.store.TagTransaction(ctx, txs[i].ID, &match.CleanName, match.CategoryID); err != nil {
			return summary, err
		}
		summary.Categorized++
	}

	if s.classifier != nil && len(unmatched) > 0 {
		tokens, tagged, err := s.classifyRest(ctx, txs, unmatched)
		summary.TokensUsed += tokens
		summary.Categorized += tagged
		if err != nil {
			s.logger.Warn("AI categorization pass failed", "userID", userID, "error", err)
		}
	}

	return summary, nil
}

// resolve tries the three local passes in order of confidence.
func (s *Service) resolve(m *userMatchers, description string) *Match {
	if match := m.engine.Match(description); match != nil {
		return match
	}
	if match := m.fuzzy.Match(description, fuzzyThreshold); match != nil {
		return &match.Match
	}

	hits, err := m.index.Search(description, 1)
	if err != nil || len(hits) == 0 || hits[0].Score < minSearchScore {
		return nil
	}
	return &Match{
		PatternID:  hits[0].PatternID,
		CleanName:  hits[0].CleanName,
		CategoryID: hits[0].CategoryID,
	}
}

// classifyRest sends the remaining descriptions to the classifier and tags
// transactions whose returned category name resolves. Partial results still
// count; the returned error is informational.
func (s *Service) classifyRest(ctx context.Context, txs []transactions.Transaction, unmatched []int) (int, int, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return 0, 0, err
	}
	names := make([]string, len(categories))
	idByName := make(map[string]uuid.UUID, len(categories))
	for i, c := range categories {
		names[i] = c.Name
		idByName[c.Name] = c.ID
	}

	descriptions := make([]string, len(unmatched))
	for i, idx := range unmatched {
		descriptions[i] = txs[idx].Description
	}

	assignments, tokens, err := s.classifier.Classify(ctx, descriptions, names)
	if err != nil {
		return tokens, 0, err
	}

	tagged := 0
	for i, name := range assignments {
		if i < 0 || i >= len(unmatched) {
			continue
		}
		categoryID, ok := idByName[name]
		if !ok {
			continue
		}
		tx := txs[unmatched[i]]
		if err := s.store.TagTransaction(ctx, tx.ID, nil, &categoryID); err != nil {
			return tokens, tagged, err
		}
		tagged++
	}
	return tokens, tagged, nil
}

// SearchPatterns serves merchant search over the user's pattern set.
func (s *Service) SearchPatterns(ctx context.Context, userID uuid.UUID, query string, limit int) ([]SearchHit, error) {
	m, err := s.matchersFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.index.Search(query, limit)
}

// CreatePattern stores a new user pattern and drops the cached matchers so
// the next run picks it up.
func (s *Service) CreatePattern(ctx context.Context, userID uuid.UUID, p *Pattern) error {
	p.UserID = &userID
	if err := s.store.CreatePattern(ctx, p); err != nil {
		return err
	}
	s.matchers.Remove(userID)
	return nil
}

func (s *Service) matchersFor(ctx context.Context, userID uuid.UUID) (*userMatchers, error) {
	if m, ok := s.matchers.Get(userID); ok {
		return m, nil
	}

	patterns, err := s.store.ListPatterns(ctx, userID)
	if err != nil {
		return nil, err
	}

	index, err := NewSearchIndex()
	if err != nil {
		return nil, err
	}
	if err := index.IndexPatterns(patterns); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to index patterns: %w", err)
	}

	m := &userMatchers{
		engine: NewEngine(patterns),
		fuzzy:  NewFuzzyMatcher(patterns),
		index:  index,
	}
	s.matchers.Add(userID, m)
	return m, nil
}
