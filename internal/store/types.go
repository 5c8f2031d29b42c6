// Package store provides the Vector Store (dense similarity search) and
// Lexical Store (BM25 keyword search) that back hybrid retrieval, plus
// the shared tokenizer both the Lexical Store and the Reranker's
// fallback scorer use.
package store

import (
	"context"
	"fmt"
)

// Record is a Vector Record (spec.md §3): a Chunk ID paired with its
// embedding and a cached copy of the chunk's text and metadata,
// sufficient to reconstruct retrieval results without re-reading the
// vault.
type Record struct {
	ID         string
	SourcePath string
	Ordinal    int
	Text       string
	Links      []string
	Metadata   map[string]string
	Vector     []float32
}

// VectorResult is one hit from a Vector Store query.
type VectorResult struct {
	ID       string
	Record   Record
	Distance float32 // lower is more similar
	Score    float32 // normalized similarity, 0-1
}

// VectorStoreConfig configures the Vector Store's HNSW graph.
type VectorStoreConfig struct {
	// Dimensions is the embedding width; fixed for the life of the
	// store (spec.md §3: "changing the embedder requires a full
	// rebuild").
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW's max connections per layer.
	M int

	// EfSearch is HNSW's query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible HNSW defaults for the given
// embedding dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore implements spec.md §4.3's contract: upsert, delete,
// similarity query, and count, backed by on-disk persistence under
// `<vault>/.obsidianrag/db`.
type VectorStore interface {
	// Upsert adds or replaces records by Chunk ID, atomically per call.
	Upsert(ctx context.Context, records []Record) error

	// Query returns the k records with greatest similarity to the
	// given vector, in descending score order.
	Query(ctx context.Context, vector []float32, k int) ([]VectorResult, error)

	// Delete removes records by Chunk ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored records.
	Count() int

	// AllRecords returns every stored record, used to rebuild the
	// Lexical Store at startup (spec.md §4.4).
	AllRecords() []Record

	// Get returns the record for id, used by the Hybrid Retriever to
	// resolve text/metadata for a Lexical-Store-only hit, whose
	// BM25Result carries no cached text of its own.
	Get(id string) (Record, bool)

	// Persistence.
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector's width does not match the
// store's fixed dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (vault must be reindexed with --force after an embedder change)", e.Expected, e.Got)
}

// BM25Config configures the Lexical Store's scoring and tokenization.
type BM25Config struct {
	// StopWords filters common words out of the index.
	StopWords []string
}

// DefaultBM25Config returns default BM25 configuration for prose.
func DefaultBM25Config() BM25Config {
	return BM25Config{StopWords: DefaultProseStopWords}
}

// DefaultProseStopWords contains common English words filtered from
// the Lexical Store's index.
var DefaultProseStopWords = []string{
	"the", "a", "an", "and", "or", "but", "of", "to", "in", "on", "at",
	"for", "with", "is", "are", "was", "were", "be", "been", "this",
	"that", "these", "those", "it", "its", "as", "by", "from",
}

// Document is one unit indexed by the Lexical Store: a Chunk ID and
// its text.
type Document struct {
	ID      string
	Content string
}

// BM25Result is a single Lexical Store match.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats reports Lexical Store size.
type IndexStats struct {
	DocumentCount int
}

// LexicalStore implements spec.md §4.4's contract: full rebuild from
// the current corpus, BM25 query, and incremental sync on upsert/delete.
type LexicalStore interface {
	// Rebuild replaces the entire index with docs.
	Rebuild(ctx context.Context, docs []Document) error

	// Index incrementally adds or replaces docs.
	Index(ctx context.Context, docs []Document) error

	// Delete removes documents by ID.
	Delete(ctx context.Context, ids []string) error

	// Query returns the top `limit` BM25 matches for text.
	Query(ctx context.Context, text string, limit int) ([]BM25Result, error)

	// Stats reports index size.
	Stats() IndexStats

	Close() error
}
