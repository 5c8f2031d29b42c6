package embed

import (
	"context"
	"fmt"
	"strings"
)

// ProviderType selects which Embedder implementation NewEmbedder builds
// (spec.md §4.2, §9 embedder_provider).
type ProviderType string

const (
	// ProviderOllama embeds via the upstream model host's HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic embeds with the dependency-free hash-based "local
	// transformer" variant — no network, no model download.
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a config string to a ProviderType, defaulting
// to Ollama for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static", "local":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

// String returns the provider's configuration name.
func (p ProviderType) String() string { return string(p) }

// ValidProviders lists all recognized provider names.
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// NewEmbedder builds the Embedder named by provider, wrapped in an LRU
// cache (spec.md §4.6 step 5). ollamaHost and model are ignored by the
// static provider. cacheSize <= 0 uses DefaultEmbeddingCacheSize.
func NewEmbedder(ctx context.Context, provider ProviderType, model, ollamaHost string, cacheSize int) (Embedder, error) {
	var embedder Embedder

	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderOllama:
		cfg := DefaultOllamaConfig()
		if model != "" {
			cfg.Model = model
		}
		e, err := NewOllamaEmbedder(ctx, ollamaHost, cfg)
		if err != nil {
			return nil, err
		}
		embedder = e

	default:
		return nil, fmt.Errorf("embed: unknown provider %q", provider)
	}

	return NewCachedEmbedder(embedder, cacheSize), nil
}

// EmbedderInfo summarizes a constructed embedder's identity and
// readiness, as reported by GetInfo.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo reports an embedder's identity and readiness, unwrapping a
// CachedEmbedder to classify the underlying provider.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}

	return info
}
