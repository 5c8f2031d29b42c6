package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Rebuild replaces prior contents and Query finds matches.
func TestBleveLexicalStore_RebuildAndQuery(t *testing.T) {
	s, err := NewBleveLexicalStore()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	docs := []Document{
		{ID: "a", Content: "the quick brown fox jumps over the lazy dog"},
		{ID: "b", Content: "notes about gardening and tomatoes"},
	}
	require.NoError(t, s.Rebuild(context.Background(), docs))

	results, err := s.Query(context.Background(), "fox", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].DocID)
}

// TS02: Rebuild drops documents from a previous rebuild.
func TestBleveLexicalStore_RebuildDropsStaleDocuments(t *testing.T) {
	s, err := NewBleveLexicalStore()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Rebuild(context.Background(), []Document{{ID: "a", Content: "alpha beta gamma"}}))
	require.NoError(t, s.Rebuild(context.Background(), []Document{{ID: "b", Content: "delta epsilon"}}))

	assert.Equal(t, 1, s.Stats().DocumentCount)

	results, err := s.Query(context.Background(), "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS03: Index incrementally adds a document without rebuilding.
func TestBleveLexicalStore_IndexIsIncremental(t *testing.T) {
	s, err := NewBleveLexicalStore()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Rebuild(context.Background(), []Document{{ID: "a", Content: "alpha beta"}}))
	require.NoError(t, s.Index(context.Background(), []Document{{ID: "b", Content: "gamma delta"}}))

	assert.Equal(t, 2, s.Stats().DocumentCount)

	results, err := s.Query(context.Background(), "gamma", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].DocID)
}

// TS04: Delete removes a document from the index.
func TestBleveLexicalStore_Delete(t *testing.T) {
	s, err := NewBleveLexicalStore()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Index(context.Background(), []Document{{ID: "a", Content: "alpha beta"}}))
	require.NoError(t, s.Delete(context.Background(), []string{"a"}))

	assert.Equal(t, 0, s.Stats().DocumentCount)
}

// TS05: stop words never match a query.
func TestBleveLexicalStore_StopWordsAreFiltered(t *testing.T) {
	s, err := NewBleveLexicalStore()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Index(context.Background(), []Document{{ID: "a", Content: "the the the"}}))

	results, err := s.Query(context.Background(), "the", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS06: blank query text returns no results without error.
func TestBleveLexicalStore_BlankQueryReturnsNoResults(t *testing.T) {
	s, err := NewBleveLexicalStore()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	results, err := s.Query(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS07: operations after Close fail instead of panicking.
func TestBleveLexicalStore_OperationsAfterCloseFail(t *testing.T) {
	s, err := NewBleveLexicalStore()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.Index(context.Background(), []Document{{ID: "a", Content: "alpha"}}))
	_, err = s.Query(context.Background(), "alpha", 5)
	assert.Error(t, err)
}

func TestTokenizeProse_LowercasesAndFiltersShortTokens(t *testing.T) {
	tokens := TokenizeProse("The Vault's daily-note is a Go journal")
	assert.Contains(t, tokens, "vault's")
	assert.Contains(t, tokens, "daily-note")
	assert.Contains(t, tokens, "journal")
	assert.NotContains(t, tokens, "a")
}
