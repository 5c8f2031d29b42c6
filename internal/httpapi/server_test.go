package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianrag/obsidianrag/internal/chunk"
	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/index"
	"github.com/obsidianrag/obsidianrag/internal/qa"
	"github.com/obsidianrag/obsidianrag/internal/retrieve"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

type fakeGenerator struct {
	tokens []string
}

func (f *fakeGenerator) Generate(_ context.Context, _, _ string, _ float64, onToken func(string) error) error {
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGenerator) Available(context.Context) bool { return true }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	vaultDir := t.TempDir()
	dataDir := filepath.Join(vaultDir, ".obsidianrag")

	embedder := embed.NewStaticEmbedder()
	vectorStore, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	lexicalStore, err := store.NewBleveLexicalStore()
	require.NoError(t, err)
	manifest := store.NewManifest(filepath.Join(dataDir, "manifest.json"))

	t.Cleanup(func() {
		_ = vectorStore.Close()
		_ = lexicalStore.Close()
	})

	ix, err := index.New(index.Config{
		VaultPath:    vaultDir,
		DataDir:      dataDir,
		Extensions:   []string{".md"},
		VectorStore:  vectorStore,
		LexicalStore: lexicalStore,
		Manifest:     manifest,
		Chunker:      chunk.New(chunk.DefaultOptions()),
		Embedder:     embedder,
	})
	require.NoError(t, err)

	vec, err := embedder.Embed(context.Background(), "garden tomatoes grow in summer")
	require.NoError(t, err)
	require.NoError(t, vectorStore.Upsert(context.Background(), []store.Record{
		{ID: "a-0", SourcePath: "a.md", Text: "garden tomatoes grow in summer", Vector: vec},
	}))
	require.NoError(t, lexicalStore.Index(context.Background(), []store.Document{
		{ID: "a-0", Content: "garden tomatoes grow in summer"},
	}))
	manifest.Set("a.md", store.ManifestEntry{ContentHash: "x", ChunkIDs: []string{"a-0"}})

	retriever := retrieve.NewHybridRetriever(embedder, vectorStore, lexicalStore, retrieve.DefaultFusionConfig())
	orchestrator := qa.New(qa.Config{
		Retriever: retriever,
		Generator: &fakeGenerator{tokens: []string{"The ", "answer."}},
		Model:     "test-model",
	})

	return New(Config{
		Orchestrator: orchestrator,
		Indexer:      ix,
		VectorStore:  vectorStore,
		Manifest:     manifest,
		VaultPath:    vaultDir,
		Model:        "test-model",
		Version:      "test",
	}, nil)
}

// TS01: /health reports ok with version and model.
func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test-model", body.Model)
}

// TS02: /stats reflects the indexed content.
func TestServer_Stats(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body VaultStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.TotalNotes)
	assert.Equal(t, 1, body.TotalChunks)
	assert.Greater(t, body.TotalWords, 0)
}

// TS03: /ask returns the concatenated answer and sources.
func TestServer_Ask(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"text":"garden tomatoes"}`)
	req := httptest.NewRequest(http.MethodPost, "/ask", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "The answer.", resp.Result)
	assert.Len(t, resp.Sources, 1)
	assert.NotEmpty(t, resp.SessionID)
}

// TS04: /ask rejects an empty question with 400.
func TestServer_AskRejectsEmptyText(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"text":"  "}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TS05: /ask/stream emits SSE frames opening with start and closing with done.
func TestServer_AskStream(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/ask/stream", strings.NewReader(`{"text":"garden tomatoes"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var eventNames []string
	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventNames = append(eventNames, strings.TrimPrefix(line, "event: "))
		}
	}

	require.NotEmpty(t, eventNames)
	assert.Equal(t, "start", eventNames[0])
	assert.Equal(t, "done", eventNames[len(eventNames)-1])
}

// TS06: /rebuild_db runs a forced reindex and reports total chunks.
func TestServer_RebuildDB(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/rebuild_db", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp rebuildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
