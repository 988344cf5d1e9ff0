package categorization

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// FuzzyMatch is a near match produced when no pattern appears verbatim in
// the description, typically bank noise like "STARBUCKS 0147 LISBOA" against
// the pattern "STARBUCKS".
type FuzzyMatch struct {
	Match
	Score int
}

// FuzzyMatcher scores descriptions against patterns by edit distance and
// containment. It is the second pass after the exact engine; keep the
// pattern set small enough that a linear scan is fine.
type FuzzyMatcher struct {
	entries []fuzzyEntry
}

type fuzzyEntry struct {
	needle string
	match  Match
}

func NewFuzzyMatcher(patterns []Pattern) *FuzzyMatcher {
	fm := &FuzzyMatcher{entries: make([]fuzzyEntry, 0, len(patterns))}
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
			m.Priority += 1000
		}
		fm.entries = append(fm.entries, fuzzyEntry{needle: needle, match: m})
	}
	return fm
}

// Match returns the best entry scoring at or above threshold (0-100), or
// nil. Priority breaks score ties.
func (fm *FuzzyMatcher) Match(description string, threshold int) *FuzzyMatch {
	normalized := strings.ToUpper(description)

	var best *FuzzyMatch
	for _, entry := range fm.entries {
		score := similarityScore(normalized, entry.needle)
		if score < threshold {
			continue
		}
		if best == nil || score > best.Score ||
			(score == best.Score && entry.match.Priority > best.Priority) {
			best = &FuzzyMatch{Match: entry.match, Score: score}
		}
	}
	return best
}

// similarityScore rates how well needle describes text on a 0-100 scale.
// Containment scores high because bank descriptions wrap merchant names in
// reference noise; otherwise the score degrades with edit distance.
func similarityScore(text, needle string) int {
	if text == needle {
		return 100
	}
	if strings.Contains(text, needle) {
		return 75 + 25*len(needle)/len(text)
	}

	distance := fuzzy.LevenshteinDistance(text, needle)
	maxLen := max(len([]rune(text)), len([]rune(needle)))
	if maxLen == 0 {
		return 0
	}
	score := 100 * (maxLen - distance) / maxLen

	// Subsequence rank catches abbreviated forms the distance misses.
	if rank := fuzzy.RankMatchFold(needle, text); rank >= 0 && rank < len(text) {
		if sub := 60 - 40*rank/len(text); sub > score {
			score = sub
		}
	}
	return score
}
