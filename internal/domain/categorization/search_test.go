package categorization

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, patterns []Pattern) *SearchIndex {
	t.Helper()
	index, err := NewSearchIndex()
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	require.NoError(t, index.IndexPatterns(patterns))
	return index
}

func TestSearchIndex_Search(t *testing.T) {
	groceries := uuid.New()
	index := newTestIndex(t, []Pattern{
		{ID: uuid.New(), RawPattern: "MERCADONA", CleanName: "Mercadona", CategoryID: &groceries},
		{ID: uuid.New(), RawPattern: "CONTINENTE", CleanName: "Continente"},
		{ID: uuid.New(), RawPattern: "NETFLIX", CleanName: "Netflix"},
	})

	t.Run("matches by clean name", func(t *testing.T) {
		hits, err := index.Search("mercadona", 5)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "Mercadona", hits[0].CleanName)
		assert.Equal(t, &groceries, hits[0].CategoryID)
	})

	t.Run("tolerates one typo", func(t *testing.T) {
		hits, err := index.Search("continento", 5)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "Continente", hits[0].CleanName)
	})

	t.Run("no hits for unrelated query", func(t *testing.T) {
		hits, err := index.Search("plumbing", 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("limit caps results", func(t *testing.T) {
		hits, err := index.Search("mercadona continente netflix", 1)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(hits), 1)
	})
}

func TestSearchIndex_Reindex(t *testing.T) {
	index := newTestIndex(t, nil)

	hits, err := index.Search("spotify", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, index.IndexPatterns([]Pattern{
		{ID: uuid.New(), RawPattern: "SPOTIFY", CleanName: "Spotify"},
	}))

	hits, err = index.Search("spotify", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Spotify", hits[0].CleanName)
}
