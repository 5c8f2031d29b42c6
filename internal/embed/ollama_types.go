package embed

import "time"

// Ollama API constants.
const (
	// DefaultOllamaModel is the default embedding model (spec.md §9).
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout is a 5s connect bound. NewOllamaEmbedder does
	// not use it: its startup check runs under DefaultColdTimeout.
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize is the HTTP connection pool size.
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if the configured model is not
// installed on the host.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"all-minilm",
}

// OllamaConfig configures the Ollama-backed embedder.
type OllamaConfig struct {
	// Host is the Ollama base URL (spec.md §9 ollama_base_url).
	Host string

	// Model is the embedding model to request.
	Model string

	// FallbackModels are tried in order if Model is not installed.
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize bounds how many texts are sent per embedding request.
	BatchSize int

	// MaxRetries is the number of embedding attempts before giving up
	// (spec.md §4.2: 3 attempts, base 1s exponential backoff).
	MaxRetries int

	// PoolSize is the HTTP connection pool size.
	PoolSize int

	// SkipHealthCheck skips the startup /api/tags probe and dimension
	// auto-detection; used by tests.
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns spec.md §9's documented defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request body.
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// OllamaEmbedResponse is the Ollama /api/embed response body.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the Ollama /api/tags response body.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes one installed model.
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
