// Package app assembles the process-wide state a running server needs:
// the frozen Config, the Vector Store and Lexical Store handles, the
// Manifest, the Indexer, and the Hybrid Retriever / Reranker / Graph
// Expander / QA Orchestrator built on top of them. It is the one place
// that wires every component together, grounded on the teacher's
// cmd/amanmcp/cmd/init.go startup sequence (config load, embedder
// construction, store open) generalized into a single constructor
// instead of scattering it across CLI command bodies.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/obsidianrag/obsidianrag/internal/chunk"
	"github.com/obsidianrag/obsidianrag/internal/config"
	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/index"
	"github.com/obsidianrag/obsidianrag/internal/ollamaclient"
	"github.com/obsidianrag/obsidianrag/internal/qa"
	"github.com/obsidianrag/obsidianrag/internal/retrieve"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

const (
	dataDirName     = ".obsidianrag"
	vectorDBDirName = "db"
	manifestName    = "manifest.json"
	embedCacheSize  = 1024
)

// App holds every long-lived component a running server depends on.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Embedder     embed.Embedder
	VectorStore  store.VectorStore
	LexicalStore store.LexicalStore
	Manifest     *store.Manifest
	Indexer      *index.Indexer

	Generator    ollamaclient.Client
	Orchestrator *qa.Orchestrator

	dataDir string
}

// New builds and wires an App from cfg. It loads any persisted Vector
// Store and Manifest from disk, then rebuilds the in-memory Lexical
// Store from the Vector Store's records (spec.md §4.4, since bleve's
// MemOnly index carries nothing across restarts).
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dataDir := filepath.Join(cfg.VaultPath, dataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create data dir: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.EmbedderProvider), cfg.EmbedderModel, cfg.OllamaBaseURL, embedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("app: build embedder: %w", err)
	}

	vectorStore, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return nil, fmt.Errorf("app: build vector store: %w", err)
	}

	dbPath := filepath.Join(dataDir, vectorDBDirName)
	if _, statErr := os.Stat(dbPath); statErr == nil {
		if err := vectorStore.Load(dbPath); err != nil {
			_ = vectorStore.Close()
			return nil, fmt.Errorf("app: load vector store: %w", err)
		}
	}

	lexicalStore, err := store.NewBleveLexicalStore()
	if err != nil {
		_ = vectorStore.Close()
		return nil, fmt.Errorf("app: build lexical store: %w", err)
	}
	records := vectorStore.AllRecords()
	docs := make([]store.Document, len(records))
	for i, r := range records {
		docs[i] = store.Document{ID: r.ID, Content: r.Text}
	}
	if err := lexicalStore.Rebuild(ctx, docs); err != nil {
		_ = vectorStore.Close()
		_ = lexicalStore.Close()
		return nil, fmt.Errorf("app: rebuild lexical store from vector store: %w", err)
	}

	manifest, err := store.LoadManifest(filepath.Join(dataDir, manifestName))
	if err != nil {
		_ = vectorStore.Close()
		_ = lexicalStore.Close()
		return nil, fmt.Errorf("app: load manifest: %w", err)
	}

	indexer, err := index.New(index.Config{
		VaultPath:    cfg.VaultPath,
		DataDir:      dataDir,
		Extensions:   cfg.VaultExtensions,
		VectorStore:  vectorStore,
		LexicalStore: lexicalStore,
		Manifest:     manifest,
		Chunker:      chunk.New(chunk.Options{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}),
		Embedder:     embedder,
	})
	if err != nil {
		_ = vectorStore.Close()
		_ = lexicalStore.Close()
		return nil, fmt.Errorf("app: build indexer: %w", err)
	}

	generator := ollamaclient.NewClient(cfg.OllamaBaseURL)

	retriever := retrieve.NewHybridRetriever(embedder, vectorStore, lexicalStore, retrieve.FusionConfig{
		RetrievalK:   cfg.RetrievalK,
		BM25K:        cfg.BM25K,
		VectorWeight: cfg.VectorWeight,
		BM25Weight:   cfg.BM25Weight,
	})

	var reranker retrieve.Reranker
	if cfg.UseReranker {
		reranker = retrieve.NewFallbackReranker()
	}

	graphExpander := retrieve.NewGraphExpander(retrieve.NewVaultDocumentResolver(cfg.VaultPath, cfg.VaultExtensions))

	orchestrator := qa.New(qa.Config{
		Retriever:     retriever,
		Reranker:      reranker,
		UseReranker:   cfg.UseReranker,
		RerankerTopN:  cfg.RerankerTopN,
		MinScore:      cfg.MinScore,
		GraphExpander: graphExpander,
		Generator:     generator,
		Model:         cfg.LLMModel,
		IdleTimeout:   time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Embedder:     embedder,
		VectorStore:  vectorStore,
		LexicalStore: lexicalStore,
		Manifest:     manifest,
		Indexer:      indexer,
		Generator:    generator,
		Orchestrator: orchestrator,
		dataDir:      dataDir,
	}, nil
}

// EnsureIndexed runs a non-forced indexing pass so the server starts
// with an up-to-date index, then persists the Vector Store and
// Manifest (spec.md §6.5).
func (a *App) EnsureIndexed(ctx context.Context) error {
	stats, err := a.Indexer.Index(ctx, false)
	if err != nil {
		return fmt.Errorf("app: initial index: %w", err)
	}
	a.Logger.Info("startup index complete",
		"files_walked", stats.FilesWalked,
		"files_reprocessed", stats.FilesReprocessed,
		"files_deleted", stats.FilesDeleted,
		"duration", stats.Duration)
	return a.persist()
}

func (a *App) persist() error {
	dbPath := filepath.Join(a.dataDir, vectorDBDirName)
	if err := a.VectorStore.Save(dbPath); err != nil {
		return fmt.Errorf("app: save vector store: %w", err)
	}
	if err := a.Manifest.Save(); err != nil {
		return fmt.Errorf("app: save manifest: %w", err)
	}
	return nil
}

// Close releases every long-lived resource. Vector Store and Manifest
// state is persisted first so a clean shutdown never loses an
// in-memory-only write.
func (a *App) Close() error {
	saveErr := a.persist()
	closeErr := a.VectorStore.Close()
	lexErr := a.LexicalStore.Close()

	if saveErr != nil {
		return saveErr
	}
	if closeErr != nil {
		return closeErr
	}
	return lexErr
}
