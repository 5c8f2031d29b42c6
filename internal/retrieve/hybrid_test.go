package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

func newTestRetriever(t *testing.T) (*HybridRetriever, embed.Embedder, store.VectorStore, store.LexicalStore) {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	vectorStore, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	lexicalStore, err := store.NewBleveLexicalStore()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = vectorStore.Close()
		_ = lexicalStore.Close()
	})

	retriever := NewHybridRetriever(embedder, vectorStore, lexicalStore, DefaultFusionConfig())
	return retriever, embedder, vectorStore, lexicalStore
}

func mustEmbed(t *testing.T, embedder embed.Embedder, text string) []float32 {
	t.Helper()
	v, err := embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

// TS01: a candidate present in both sources is tagged vector and has
// a fused score contributed by both weights.
func TestHybridRetriever_FusesBothSources(t *testing.T) {
	retriever, embedder, vectorStore, lexicalStore := newTestRetriever(t)

	vec := mustEmbed(t, embedder, "garden tomatoes")
	require.NoError(t, vectorStore.Upsert(context.Background(), []store.Record{
		{ID: "a", SourcePath: "a.md", Text: "garden tomatoes grow well in summer", Vector: vec},
	}))
	require.NoError(t, lexicalStore.Index(context.Background(), []store.Document{
		{ID: "a", Content: "garden tomatoes grow well in summer"},
	}))

	results, err := retriever.Retrieve(context.Background(), "garden tomatoes")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Greater(t, results[0].FusedScore, 0.0)
}

// TS02: a lexical-only hit still carries text resolved from the
// Vector Store.
func TestHybridRetriever_ResolvesLexicalOnlyText(t *testing.T) {
	retriever, embedder, vectorStore, lexicalStore := newTestRetriever(t)

	// Unrelated vector so the vector query doesn't surface this ID.
	unrelated := mustEmbed(t, embedder, "completely different content about rocks")
	require.NoError(t, vectorStore.Upsert(context.Background(), []store.Record{
		{ID: "only-lexical", SourcePath: "b.md", Text: "unique keyword xylophone appears here", Vector: unrelated},
	}))
	require.NoError(t, lexicalStore.Index(context.Background(), []store.Document{
		{ID: "only-lexical", Content: "unique keyword xylophone appears here"},
	}))

	results, err := retriever.Retrieve(context.Background(), "xylophone")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b.md", results[0].SourcePath)
	assert.Contains(t, results[0].Text, "xylophone")
}

// TS03: results are sorted deterministically by fused score then
// Chunk ID.
func TestHybridRetriever_DeterministicOrdering(t *testing.T) {
	retriever, embedder, vectorStore, lexicalStore := newTestRetriever(t)

	records := []store.Record{
		{ID: "z", SourcePath: "z.md", Text: "alpha beta gamma", Vector: mustEmbed(t, embedder, "alpha beta gamma")},
		{ID: "a", SourcePath: "a.md", Text: "alpha beta gamma", Vector: mustEmbed(t, embedder, "alpha beta gamma")},
	}
	require.NoError(t, vectorStore.Upsert(context.Background(), records))
	require.NoError(t, lexicalStore.Index(context.Background(), []store.Document{
		{ID: "z", Content: "alpha beta gamma"},
		{ID: "a", Content: "alpha beta gamma"},
	}))

	results, err := retriever.Retrieve(context.Background(), "alpha beta gamma")
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Equal fused and vector scores (identical text/vector) -> tie-break by Chunk ID ascending.
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "z", results[1].ChunkID)
}

// TS04: an empty store returns an empty candidate list without error.
func TestHybridRetriever_EmptyStoresReturnsNoCandidates(t *testing.T) {
	retriever, _, _, _ := newTestRetriever(t)

	results, err := retriever.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
}
