// Package config loads the frozen Config record that the rest of the
// core reads. Defaults, a YAML config file, environment variable
// overrides, and CLI flags compose into exactly one Config value at
// startup (spec.md §9, "From dynamic configuration to explicit
// config"); nothing downstream re-reads the environment or disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the single frozen configuration record consumed by every
// component. Its field set is the one named in spec.md §9 plus
// IdleTimeoutSeconds, VaultExtensions and LogLevel.
type Config struct {
	VaultPath        string  `yaml:"vault_path" json:"vault_path"`
	BindPort         int     `yaml:"bind_port" json:"bind_port"`
	LLMModel         string  `yaml:"llm_model" json:"llm_model"`
	EmbedderProvider string  `yaml:"embedder_provider" json:"embedder_provider"`
	EmbedderModel    string  `yaml:"embedder_model" json:"embedder_model"`
	ChunkSize        int     `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap     int     `yaml:"chunk_overlap" json:"chunk_overlap"`
	RetrievalK       int     `yaml:"retrieval_k" json:"retrieval_k"`
	BM25K            int     `yaml:"bm25_k" json:"bm25_k"`
	VectorWeight     float64 `yaml:"vector_weight" json:"vector_weight"`
	BM25Weight       float64 `yaml:"bm25_weight" json:"bm25_weight"`
	UseReranker      bool    `yaml:"use_reranker" json:"use_reranker"`
	RerankerTopN     int     `yaml:"reranker_top_n" json:"reranker_top_n"`
	MinScore         float64 `yaml:"min_score" json:"min_score"`
	OllamaBaseURL    string  `yaml:"ollama_base_url" json:"ollama_base_url"`

	// IdleTimeoutSeconds is spec.md §5's idle-between-tokens timeout:
	// a QA session with no new token for this long is aborted.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" json:"idle_timeout_seconds"`

	// VaultExtensions lists the file extensions the Indexer walks
	// (spec.md §4.6 "configured extension(s)"), each including its
	// leading dot.
	VaultExtensions []string `yaml:"vault_extensions" json:"vault_extensions"`

	// LogLevel is ambient configuration, not named in spec.md §9's
	// field list but required to wire internal/logging.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Default returns the built-in defaults named throughout spec.md §4.
func Default() Config {
	return Config{
		BindPort:           8000,
		LLMModel:           "llama3.1",
		EmbedderProvider:   "ollama",
		EmbedderModel:      "nomic-embed-text",
		ChunkSize:          1500,
		ChunkOverlap:       300,
		RetrievalK:         12,
		BM25K:              5,
		VectorWeight:       0.6,
		BM25Weight:         0.4,
		UseReranker:        false,
		RerankerTopN:       6,
		MinScore:           0.3,
		OllamaBaseURL:      "http://localhost:11434",
		VaultExtensions:    []string{".md"},
		LogLevel:           "info",
		IdleTimeoutSeconds: 30,
	}
}

// Overrides captures the thin CLI flag surface of spec.md §6.4. Only
// fields explicitly set by the caller should be applied; applyOverrides
// only applies a field whose corresponding Has* bool is set.
type Overrides struct {
	VaultPath    string
	BindPort     int
	LLMModel     string
	UseReranker  bool
	HasVaultPath bool
	HasBindPort  bool
	HasLLMModel  bool
	HasReranker  bool
}

// Load composes defaults, an optional YAML config file found at
// <dir>/obsidianrag.yaml, environment variable overrides
// (OBSIDIANRAG_*), and explicit CLI overrides into one Config value.
// Precedence, lowest to highest: defaults < YAML file < environment
// < CLI flags.
func Load(dir string, overrides Overrides) (Config, error) {
	cfg := Default()

	if err := cfg.loadYAML(filepath.Join(dir, "obsidianrag.yaml")); err != nil {
		return Config{}, err
	}

	cfg.applyEnvOverrides()
	cfg.applyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.mergeNonZero(parsed)
	return nil
}

// mergeNonZero overlays any non-zero-valued field of other onto c.
func (c *Config) mergeNonZero(other Config) {
	if other.VaultPath != "" {
		c.VaultPath = other.VaultPath
	}
	if other.BindPort != 0 {
		c.BindPort = other.BindPort
	}
	if other.LLMModel != "" {
		c.LLMModel = other.LLMModel
	}
	if other.EmbedderProvider != "" {
		c.EmbedderProvider = other.EmbedderProvider
	}
	if other.EmbedderModel != "" {
		c.EmbedderModel = other.EmbedderModel
	}
	if other.ChunkSize != 0 {
		c.ChunkSize = other.ChunkSize
	}
	if other.ChunkOverlap != 0 {
		c.ChunkOverlap = other.ChunkOverlap
	}
	if other.RetrievalK != 0 {
		c.RetrievalK = other.RetrievalK
	}
	if other.BM25K != 0 {
		c.BM25K = other.BM25K
	}
	if other.VectorWeight != 0 {
		c.VectorWeight = other.VectorWeight
	}
	if other.BM25Weight != 0 {
		c.BM25Weight = other.BM25Weight
	}
	if other.RerankerTopN != 0 {
		c.RerankerTopN = other.RerankerTopN
	}
	if other.MinScore != 0 {
		c.MinScore = other.MinScore
	}
	if other.OllamaBaseURL != "" {
		c.OllamaBaseURL = other.OllamaBaseURL
	}
	if len(other.VaultExtensions) > 0 {
		c.VaultExtensions = other.VaultExtensions
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.IdleTimeoutSeconds != 0 {
		c.IdleTimeoutSeconds = other.IdleTimeoutSeconds
	}
	if other.UseReranker {
		c.UseReranker = true
	}
}

// applyEnvOverrides applies OBSIDIANRAG_* environment variable
// overrides, taking precedence over the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OBSIDIANRAG_VAULT_PATH"); v != "" {
		c.VaultPath = v
	}
	if v := os.Getenv("OBSIDIANRAG_BIND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.BindPort = p
		}
	}
	if v := os.Getenv("OBSIDIANRAG_LLM_MODEL"); v != "" {
		c.LLMModel = v
	}
	if v := os.Getenv("OBSIDIANRAG_EMBEDDER_PROVIDER"); v != "" {
		c.EmbedderProvider = v
	}
	if v := os.Getenv("OBSIDIANRAG_EMBEDDER_MODEL"); v != "" {
		c.EmbedderModel = v
	}
	if v := os.Getenv("OBSIDIANRAG_OLLAMA_BASE_URL"); v != "" {
		c.OllamaBaseURL = v
	}
	if v := os.Getenv("OBSIDIANRAG_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.VectorWeight = w
		}
	}
	if v := os.Getenv("OBSIDIANRAG_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.BM25Weight = w
		}
	}
	if v := os.Getenv("OBSIDIANRAG_USE_RERANKER"); v != "" {
		c.UseReranker = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OBSIDIANRAG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OBSIDIANRAG_IDLE_TIMEOUT_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			c.IdleTimeoutSeconds = s
		}
	}
}

func (c *Config) applyOverrides(o Overrides) {
	if o.HasVaultPath {
		c.VaultPath = o.VaultPath
	}
	if o.HasBindPort {
		c.BindPort = o.BindPort
	}
	if o.HasLLMModel {
		c.LLMModel = o.LLMModel
	}
	if o.HasReranker {
		c.UseReranker = o.UseReranker
	}
}

// Validate checks the fully composed record for the one failure mode
// spec.md §7 calls out at startup: a missing or non-directory vault.
func (c Config) Validate() error {
	if c.VaultPath == "" {
		return fmt.Errorf("vault_path is required")
	}
	info, err := os.Stat(c.VaultPath)
	if err != nil {
		return fmt.Errorf("vault path %q: %w", c.VaultPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault path %q is not a directory", c.VaultPath)
	}
	if c.BindPort <= 0 {
		return fmt.Errorf("bind_port must be positive, got %d", c.BindPort)
	}
	return nil
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
