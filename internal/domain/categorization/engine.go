package categorization

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"github.com/google/uuid"
)

// Match is one pattern hit on a description.
type Match struct {
	PatternID  uuid.UUID
	CleanName  string
	CategoryID *uuid.UUID
	Priority   int
}

// Engine matches descriptions against all loaded patterns in a single pass
// using Aho-Corasick. Matching cost depends on the description length, not
// on the number of patterns.
type Engine struct {
	mu       sync.RWMutex
	matcher  *ahocorasick.Matcher
	metadata [][]Match
}

func NewEngine(patterns []Pattern) *Engine {
	e := &Engine{}
	e.Build(patterns)
	return e
}

// Build rebuilds the matcher; called whenever the pattern set changes.
// Identical normalized patterns share one trie node and keep all their
// metadata entries.
func (e *Engine) Build(patterns []Pattern) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(patterns) == 0 {
		e.matcher = nil
		e.metadata = nil
		return
	}

	indexByNeedle := make(map[string]int, len(patterns))
	var needles [][]byte
	var metadata [][]Match

	for _, p := range patterns {
		needle := strings.ToUpper(strings.TrimSpace(p.RawPattern))
		if needle == "" {
			continue
		}

		m := Match{
			PatternID:  p.ID,
			CleanName:  p.CleanName,
			CategoryID: p.CategoryID,
			Priority:   p.Priority,
		}
		if p.UserID != nil {
			// User patterns beat built-ins regardless of priority column.
			m.Priority += 1000
		}

		if idx, ok := indexByNeedle[needle]; ok {
			metadata[idx] = append(metadata[idx], m)
			continue
		}
		indexByNeedle[needle] = len(needles)
		needles = append(needles, []byte(needle))
		metadata = append(metadata, []Match{m})
	}

	e.metadata = metadata
	if len(needles) == 0 {
		e.matcher = nil
		return
	}
	e.matcher = ahocorasick.NewMatcher(needles)
}

// Match returns the highest-priority pattern found in the description, or
// nil when nothing matches.
func (e *Engine) Match(description string) *Match {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.matcher == nil {
		return nil
	}

	hits := e.matcher.Match([]byte(strings.ToUpper(description)))
	var best *Match
	for _, idx := range hits {
		if idx < 0 || idx >= len(e.metadata) {
			continue
		}
		for i := range e.metadata[idx] {
			m := e.metadata[idx][i]
			if best == nil || m.Priority > best.Priority {
				best = &m
			}
		}
	}
	return best
}

// MatchBatch matches many descriptions under one lock; entries with no
// match are nil.
func (e *Engine) MatchBatch(descriptions []string) []*Match {
	results := make([]*Match, len(descriptions))
	for i, d := range descriptions {
		results[i] = e.Match(d)
	}
	return results
}

func (e *Engine) IsEmpty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.matcher == nil
}
