package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Reranker defines spec.md §4.8's contract: given the question and
// a candidate list, reorder the top RerankerTopN by cross-encoder
// score.
type Reranker interface {
	Rerank(ctx context.Context, question string, candidates []Candidate, topN int) ([]Candidate, error)
}

const (
	DefaultRerankerTimeout = 30 * time.Second
	DefaultRerankerTopN    = 6
	DefaultMinScore        = 0.3
)

// HTTPRerankerConfig configures an external cross-encoder scoring
// endpoint (spec.md §4.8 "enabled by a runtime flag").
type HTTPRerankerConfig struct {
	Endpoint        string
	Model           string
	Timeout         time.Duration
	SkipHealthCheck bool
}

// DefaultHTTPRerankerConfig returns sensible defaults.
func DefaultHTTPRerankerConfig() HTTPRerankerConfig {
	return HTTPRerankerConfig{Timeout: DefaultRerankerTimeout}
}

// HTTPReranker scores (question, candidate text) pairs via a generic
// external cross-encoder endpoint, adapted from the teacher's
// MLXReranker (health check, config, HTTP round trip), retargeted
// away from MLX specifically.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankerConfig
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// NewHTTPReranker constructs an HTTPReranker, health-checking the
// endpoint unless cfg.SkipHealthCheck is set.
func NewHTTPReranker(ctx context.Context, cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("retrieve: reranker endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	r := &HTTPReranker{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("retrieve: reranker health check: %w", err)
		}
	}

	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to reranker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reranker unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// Rerank implements spec.md §4.8's algorithm: form pairs, score, sort
// descending, truncate to topN.
func (r *HTTPReranker) Rerank(ctx context.Context, question string, candidates []Candidate, topN int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}

	payload, err := json.Marshal(rerankRequest{Query: question, Documents: documents, Model: r.config.Model})
	if err != nil {
		return nil, fmt.Errorf("retrieve: marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("retrieve: build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieve: rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("retrieve: rerank failed (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("retrieve: decode rerank response: %w", err)
	}

	scored := make([]Candidate, 0, len(parsed.Results))
	var maxScore float64
	for _, result := range parsed.Results {
		if result.Score > maxScore {
			maxScore = result.Score
		}
	}
	for _, result := range parsed.Results {
		if result.Index < 0 || result.Index >= len(candidates) {
			continue
		}
		c := candidates[result.Index]
		score := result.Score
		if maxScore > 0 {
			score /= maxScore
		}
		c.RerankScore = score
		c.HasRerankScore = true
		scored = append(scored, c)
	}

	return truncateSorted(scored, topN), nil
}

// FallbackReranker scores candidates by token-overlap cosine
// similarity against the question, with no external service. It
// makes the Reranker usable with zero extra infrastructure (spec.md
// §4.8 implies "enabled by a runtime flag", not "requires a network
// service").
type FallbackReranker struct{}

var _ Reranker = (*FallbackReranker)(nil)

// NewFallbackReranker constructs a FallbackReranker.
func NewFallbackReranker() *FallbackReranker {
	return &FallbackReranker{}
}

// Rerank scores each candidate by token-overlap cosine similarity
// against the question and truncates to topN.
func (r *FallbackReranker) Rerank(_ context.Context, question string, candidates []Candidate, topN int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	questionTokens := tokenCounts(question)
	scored := make([]Candidate, len(candidates))
	var maxScore float64

	for i, c := range candidates {
		score := cosineOverlap(questionTokens, tokenCounts(c.Text))
		c.RerankScore = score
		c.HasRerankScore = true
		scored[i] = c
		if score > maxScore {
			maxScore = score
		}
	}

	if maxScore > 0 {
		for i := range scored {
			scored[i].RerankScore /= maxScore
		}
	}

	return truncateSorted(scored, topN), nil
}

func truncateSorted(candidates []Candidate, topN int) []Candidate {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RerankScore != candidates[j].RerankScore {
			return candidates[i].RerankScore > candidates[j].RerankScore
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

func tokenCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		counts[field]++
	}
	return counts
}

func cosineOverlap(a, b map[string]int) float64 {
	var dot, normA, normB float64
	for token, countA := range a {
		normA += float64(countA * countA)
		if countB, ok := b[token]; ok {
			dot += float64(countA * countB)
		}
	}
	for _, countB := range b {
		normB += float64(countB * countB)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ApplyMinScoreThreshold drops candidates below minScore (spec.md
// §4.8); if that would leave zero candidates, the single
// highest-scored one is kept regardless.
func ApplyMinScoreThreshold(candidates []Candidate, minScore float64) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score() >= minScore {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Score() > best.Score() {
				best = c
			}
		}
		return []Candidate{best}
	}
	return kept
}
