// Package embed provides pluggable text embedding for the indexing and
// retrieval pipeline: a batching interface, an Ollama-backed provider, a
// dependency-free hash-based provider, and an LRU cache decorator.
package embed

import (
	"context"
	"math"
	"time"
)

// Batch size bounds for embedding requests.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
)

// Timeout and retry defaults for the HTTP-backed provider.
const (
	DefaultWarmTimeout    = 30 * time.Second
	DefaultColdTimeout    = 60 * time.Second
	ModelUnloadThreshold  = 5 * time.Minute
	DefaultMaxRetries     = 3
)

// DefaultDimensions is used when a provider cannot report its own
// dimensionality ahead of the first call.
const DefaultDimensions = 768

// StaticDimensions is the embedding dimension produced by StaticEmbedder.
const StaticDimensions = 256

// Embedder generates vector embeddings for text (spec.md §4.2). All
// implementations must be safe for concurrent use.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases resources held by the embedder.
	Close() error
}

// normalizeVector scales v to unit length. A zero vector is returned
// unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
