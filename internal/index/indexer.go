// Package index implements the Indexer: the component that walks a
// vault, reconciles it against the Manifest, and drives add/update/
// delete operations through the Vector Store and Lexical Store
// (spec.md §4.6).
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/obsidianrag/obsidianrag/internal/chunk"
	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

// lockFileName is the cross-process vault lock (spec.md §4.6
// "concurrent indexing attempts are serialized"), supplementing the
// in-process mutex below for the case of two server processes
// pointed at the same vault.
const lockFileName = ".obsidianrag.lock"

// Config configures one Indexer.
type Config struct {
	VaultPath  string
	DataDir    string
	Extensions []string

	VectorStore  store.VectorStore
	LexicalStore store.LexicalStore
	Manifest     *store.Manifest
	Chunker      *chunk.Chunker
	Embedder     embed.Embedder

	// EmbedBatchSize bounds how many chunks are embedded per
	// EmbedBatch call during reconciliation.
	EmbedBatchSize int
}

// Stats summarizes one completed indexing pass.
type Stats struct {
	FilesWalked     int
	FilesReprocessed int
	FilesDeleted    int
	FilesFailed     int
	ChunksUpserted  int
	Duration        time.Duration
}

// Indexer reconciles the vault's Markdown files with the Manifest and
// the stores. All passes are serialized by a single in-process mutex,
// plus a cross-process file lock for two server instances sharing one
// vault.
type Indexer struct {
	config Config
	mu     sync.Mutex
	flock  *flock.Flock
}

// New creates an Indexer. cfg.Manifest must already be loaded (see
// store.LoadManifest).
func New(cfg Config) (*Indexer, error) {
	if cfg.VaultPath == "" {
		return nil, fmt.Errorf("index: vault path is required")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".md"}
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = embed.DefaultBatchSize
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.VaultPath, ".obsidianrag")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("index: create data directory: %w", err)
	}

	return &Indexer{
		config: cfg,
		flock:  flock.New(filepath.Join(cfg.DataDir, lockFileName)),
	}, nil
}

// Index reconciles the vault against the stores (spec.md §4.6). force
// re-processes every file regardless of its recorded content hash.
func (ix *Indexer) Index(ctx context.Context, force bool) (Stats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.flock.Lock(); err != nil {
		return Stats{}, fmt.Errorf("index: acquire vault lock: %w", err)
	}
	defer func() {
		if err := ix.flock.Unlock(); err != nil {
			slog.Warn("index: release vault lock", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	var stats Stats

	// Step 1: walk the vault for files with a configured extension.
	discovered, err := ix.walk()
	if err != nil {
		return stats, fmt.Errorf("index: walk vault: %w", err)
	}
	stats.FilesWalked = len(discovered)

	// Step 2: decide which discovered files need (re)processing.
	toProcess := make([]string, 0, len(discovered))
	for relPath, hash := range discovered {
		entry, exists := ix.config.Manifest.Get(relPath)
		if force || !exists || entry.ContentHash != hash {
			toProcess = append(toProcess, relPath)
		}
	}
	sort.Strings(toProcess) // deterministic processing order for tests; spec leaves discovery order unspecified

	// Step 3: paths in the Manifest but absent from the walk are deletions.
	var toDelete []string
	for _, relPath := range ix.config.Manifest.Paths() {
		if _, stillExists := discovered[relPath]; !stillExists {
			toDelete = append(toDelete, relPath)
		}
	}

	// Step 4: apply deletions.
	for _, relPath := range toDelete {
		if err := ix.deleteFile(ctx, relPath); err != nil {
			slog.Warn("index: delete file", slog.String("path", relPath), slog.String("error", err.Error()))
			continue
		}
		stats.FilesDeleted++
	}

	// Step 5: (re)process each marked file.
	for _, relPath := range toProcess {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		chunkCount, err := ix.processFile(ctx, relPath, discovered[relPath])
		if err != nil {
			slog.Warn("index: process file", slog.String("path", relPath), slog.String("error", err.Error()))
			stats.FilesFailed++
			continue // Manifest untouched for this file; retried next pass
		}
		stats.FilesReprocessed++
		stats.ChunksUpserted += chunkCount
	}

	// Step 6: the Lexical Store is kept incrementally in sync by
	// processFile/deleteFile above (spec.md §4.4); a forced pass
	// instead rebuilds it wholesale from the Vector Store's current
	// contents, since force re-derives every chunk ID and a pure
	// incremental diff could leave orphaned terms behind.
	if force {
		if err := ix.rebuildLexicalStore(ctx); err != nil {
			return stats, fmt.Errorf("index: rebuild lexical store: %w", err)
		}
	}

	if err := ix.config.Manifest.Save(); err != nil {
		return stats, fmt.Errorf("index: save manifest: %w", err)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// walk collects every file under the vault root matching a configured
// extension, keyed by vault-relative path, with each file's content
// hash.
func (ix *Indexer) walk() (map[string]string, error) {
	discovered := make(map[string]string)

	err := filepath.WalkDir(ix.config.VaultPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".obsidianrag" || strings.HasPrefix(d.Name(), ".git") {
				return filepath.SkipDir
			}
			return nil
		}
		if !ix.hasConfiguredExtension(path) {
			return nil
		}

		relPath, err := filepath.Rel(ix.config.VaultPath, path)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("index: read file during walk", slog.String("path", relPath), slog.String("error", err.Error()))
			return nil // skip, don't fail the whole walk
		}

		discovered[relPath] = contentHash(content)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return discovered, nil
}

func (ix *Indexer) hasConfiguredExtension(path string) bool {
	ext := filepath.Ext(path)
	for _, configured := range ix.config.Extensions {
		if strings.EqualFold(ext, configured) {
			return true
		}
	}
	return false
}

// processFile chunks, embeds, and upserts one file, then updates its
// Manifest entry. The old entry's chunk IDs are superseded naturally:
// unchanged chunks re-derive the same deterministic ID and the upsert
// is a no-op write for them.
func (ix *Indexer) processFile(ctx context.Context, relPath, contentHash string) (int, error) {
	absPath := filepath.Join(ix.config.VaultPath, relPath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	oldEntry, hadOldEntry := ix.config.Manifest.Get(relPath)

	chunks := ix.config.Chunker.Chunk(relPath, content)
	if len(chunks) == 0 {
		ix.config.Manifest.Set(relPath, store.ManifestEntry{ContentHash: contentHash, IndexedAt: time.Now()})
		return 0, nil
	}

	records, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	if err := ix.config.VectorStore.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upsert records: %w", err)
	}

	docs := make([]store.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = store.Document{ID: c.ID, Content: c.Content}
	}
	if err := ix.config.LexicalStore.Index(ctx, docs); err != nil {
		return 0, fmt.Errorf("lexical index: %w", err)
	}

	newChunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		newChunkIDs[i] = c.ID
	}

	// Drop any chunk IDs the previous version produced but the new
	// version no longer does (a file shrank, or chunk boundaries moved).
	if hadOldEntry {
		stale := staleChunkIDs(oldEntry.ChunkIDs, newChunkIDs)
		if len(stale) > 0 {
			if err := ix.config.VectorStore.Delete(ctx, stale); err != nil {
				slog.Warn("index: delete stale chunks", slog.String("path", relPath), slog.String("error", err.Error()))
			}
			if err := ix.config.LexicalStore.Delete(ctx, stale); err != nil {
				slog.Warn("index: delete stale lexical entries", slog.String("path", relPath), slog.String("error", err.Error()))
			}
		}
	}

	ix.config.Manifest.Set(relPath, store.ManifestEntry{
		ContentHash: contentHash,
		IndexedAt:   time.Now(),
		ChunkIDs:    newChunkIDs,
	})

	return len(chunks), nil
}

// embedChunks batch-embeds chunk text in EmbedBatchSize-sized groups
// and pairs each embedding with its Vector Record.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []*chunk.Chunk) ([]store.Record, error) {
	records := make([]store.Record, 0, len(chunks))

	for start := 0; start < len(chunks); start += ix.config.EmbedBatchSize {
		end := min(start+ix.config.EmbedBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := ix.config.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}

		for i, c := range batch {
			records = append(records, store.Record{
				ID:         c.ID,
				SourcePath: c.SourcePath,
				Ordinal:    c.Ordinal,
				Text:       c.Content,
				Links:      c.Links,
				Metadata:   c.Metadata,
				Vector:     vectors[i],
			})
		}
	}

	return records, nil
}

// deleteFile removes a file's tracked chunks from the Vector Store and
// Lexical Store and drops its Manifest entry (spec.md §4.6 step 4).
func (ix *Indexer) deleteFile(ctx context.Context, relPath string) error {
	entry, exists := ix.config.Manifest.Get(relPath)
	if exists && len(entry.ChunkIDs) > 0 {
		if err := ix.config.VectorStore.Delete(ctx, entry.ChunkIDs); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if err := ix.config.LexicalStore.Delete(ctx, entry.ChunkIDs); err != nil {
			return fmt.Errorf("delete lexical entries: %w", err)
		}
	}
	ix.config.Manifest.Delete(relPath)
	return nil
}

// rebuildLexicalStore rebuilds the BM25 index from the Vector Store's
// current contents (spec.md §4.4, §4.6 step 6).
func (ix *Indexer) rebuildLexicalStore(ctx context.Context) error {
	records := ix.config.VectorStore.AllRecords()
	docs := make([]store.Document, len(records))
	for i, r := range records {
		docs[i] = store.Document{ID: r.ID, Content: r.Text}
	}
	return ix.config.LexicalStore.Rebuild(ctx, docs)
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// staleChunkIDs returns entries in oldIDs that do not appear in
// newIDs.
func staleChunkIDs(oldIDs, newIDs []string) []string {
	current := make(map[string]struct{}, len(newIDs))
	for _, id := range newIDs {
		current[id] = struct{}{}
	}

	var stale []string
	for _, id := range oldIDs {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}
