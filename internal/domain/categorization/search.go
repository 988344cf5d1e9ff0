package categorization

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
)

// patternDocument is the indexed shape of a Pattern.
type patternDocument struct {
	Pattern    string  `json:"pattern"`
	CleanName  string  `json:"clean_name"`
	Text       string  `json:"text"`
	CategoryID string  `json:"category_id"`
	Priority   float64 `json:"priority"`
}

// SearchHit is one index result.
type SearchHit struct {
	PatternID  uuid.UUID
	Pattern    string
	CleanName  string
	CategoryID *uuid.UUID
	Score      float64
}

// SearchIndex is an in-memory full-text index over merchant patterns. It
// backs the merchant search endpoint and the last categorization pass,
// where tokenized matching picks up descriptions the exact and fuzzy
// passes both missed.
type SearchIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

func NewSearchIndex() (*SearchIndex, error) {
	index, err := bleve.NewMemOnly(patternIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &SearchIndex{index: index}, nil
}

func patternIndexMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = simple.Name

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("pattern", keywordField)
	doc.AddFieldMappingsAt("clean_name", textField)
	doc.AddFieldMappingsAt("text", textField)
	doc.AddFieldMappingsAt("category_id", keywordField)
	doc.AddFieldMappingsAt("priority", bleve.NewNumericFieldMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = simple.Name
	return im
}

// IndexPatterns replaces the indexed documents for the given patterns.
func (si *SearchIndex) IndexPatterns(patterns []Pattern) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	batch := si.index.NewBatch()
	for _, p := range patterns {
		categoryID := ""
		if p.CategoryID != nil {
			categoryID = p.CategoryID.String()
		}
		doc := patternDocument{
			Pattern:    p.RawPattern,
			CleanName:  p.CleanName,
			Text:       p.RawPattern + " " + p.CleanName,
			CategoryID: categoryID,
			Priority:   float64(p.Priority),
		}
		if err := batch.Index(p.ID.String(), doc); err != nil {
			return fmt.Errorf("failed to index pattern %s: %w", p.ID, err)
		}
	}
	if err := si.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to apply index batch: %w", err)
	}
	return nil
}

// Search runs a tokenized match query with typo tolerance of one edit.
func (si *SearchIndex) Search(query string, limit int) ([]SearchHit, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetFuzziness(1)

	request := bleve.NewSearchRequest(matchQuery)
	request.Size = limit
	request.Fields = []string{"pattern", "clean_name", "category_id"}

	results, err := si.index.Search(request)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		h := SearchHit{PatternID: id, Score: hit.Score}
		if s, ok := hit.Fields["pattern"].(string); ok {
			h.Pattern = s
		}
		if s, ok := hit.Fields["clean_name"].(string); ok {
			h.CleanName = s
		}
		if s, ok := hit.Fields["category_id"].(string); ok && s != "" {
			if catID, err := uuid.Parse(s); err == nil {
				h.CategoryID = &catID
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (si *SearchIndex) Close() error {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.index.Close()
}
