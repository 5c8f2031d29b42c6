package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

// FusionConfig holds the Hybrid Retriever's query widths and fusion
// weights (spec.md §4.7 defaults). Its field set is deliberately
// separate from any one fusion algorithm's internals so an alternate
// Searcher (e.g. an RRF-based one) could be substituted without
// touching HybridRetriever's call sites.
type FusionConfig struct {
	RetrievalK   int
	BM25K        int
	VectorWeight float64
	BM25Weight   float64
}

// DefaultFusionConfig returns spec.md §4.7's documented defaults.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{RetrievalK: 12, BM25K: 5, VectorWeight: 0.6, BM25Weight: 0.4}
}

// HybridRetriever implements spec.md §4.7: embed the question once,
// query the Vector Store and Lexical Store in parallel, then fuse by
// max-normalize weighted sum.
type HybridRetriever struct {
	embedder     embed.Embedder
	vectorStore  store.VectorStore
	lexicalStore store.LexicalStore
	config       FusionConfig
}

// NewHybridRetriever constructs a HybridRetriever over the given
// stores and embedder.
func NewHybridRetriever(embedder embed.Embedder, vectorStore store.VectorStore, lexicalStore store.LexicalStore, cfg FusionConfig) *HybridRetriever {
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = DefaultFusionConfig().RetrievalK
	}
	if cfg.BM25K <= 0 {
		cfg.BM25K = DefaultFusionConfig().BM25K
	}
	if cfg.VectorWeight == 0 && cfg.BM25Weight == 0 {
		cfg.VectorWeight = DefaultFusionConfig().VectorWeight
		cfg.BM25Weight = DefaultFusionConfig().BM25Weight
	}
	return &HybridRetriever{embedder: embedder, vectorStore: vectorStore, lexicalStore: lexicalStore, config: cfg}
}

// Retrieve embeds question, queries both stores in parallel, and
// returns a fused, deduplicated, deterministically ordered candidate
// list (spec.md §4.7 steps 1-5).
func (r *HybridRetriever) Retrieve(ctx context.Context, question string) ([]Candidate, error) {
	vectorResults, bm25Results, err := r.parallelQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	candidates := fuse(vectorResults, bm25Results, r.config)
	r.resolveLexicalOnlyText(candidates)
	return candidates, nil
}

// resolveLexicalOnlyText fills in text/metadata for candidates that
// only matched the Lexical Store, whose BM25Result carries no cached
// text of its own — the Vector Store is the single place a Chunk's
// full text and metadata are cached.
func (r *HybridRetriever) resolveLexicalOnlyText(candidates []Candidate) {
	for i := range candidates {
		if candidates[i].Text != "" {
			continue
		}
		if record, ok := r.vectorStore.Get(candidates[i].ChunkID); ok {
			candidates[i].SourcePath = record.SourcePath
			candidates[i].Text = record.Text
			candidates[i].Links = record.Links
			candidates[i].Metadata = record.Metadata
		}
	}
}

// parallelQuery embeds the question once, then queries the Vector
// Store and Lexical Store concurrently (spec.md §4.7 steps 1-2),
// mirroring the teacher's parallelSearch: both goroutines report
// their error through a captured variable rather than failing the
// errgroup, so a single source's failure doesn't sink the other.
func (r *HybridRetriever) parallelQuery(ctx context.Context, question string) ([]store.VectorResult, []store.BM25Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var vectorResults []store.VectorResult
	var bm25Results []store.BM25Result
	var vectorErr, bm25Err error

	g.Go(func() error {
		embedding, embedErr := r.embedder.Embed(gctx, question)
		if embedErr != nil {
			vectorErr = fmt.Errorf("embed question: %w", embedErr)
			return nil
		}
		results, queryErr := r.vectorStore.Query(gctx, embedding, r.config.RetrievalK)
		if queryErr != nil {
			vectorErr = queryErr
			return nil
		}
		vectorResults = results
		return nil
	})

	g.Go(func() error {
		results, queryErr := r.lexicalStore.Query(gctx, question, r.config.BM25K)
		if queryErr != nil {
			bm25Err = queryErr
			return nil
		}
		bm25Results = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if vectorErr != nil && bm25Err != nil {
		return nil, nil, errors.Join(vectorErr, bm25Err)
	}

	return vectorResults, bm25Results, nil
}

// candidateAccumulator merges a Chunk's vector and BM25 hits before
// normalization.
type candidateAccumulator struct {
	candidate  Candidate
	rawVector  float32
	rawBM25    float64
	hasVector  bool
	hasBM25    bool
}

// fuse implements spec.md §4.7 steps 3-5: per-source max-normalization,
// weighted-sum fusion, and a deterministic sort with explicit
// tie-break (fused score desc, vector score desc, Chunk ID asc).
func fuse(vectorResults []store.VectorResult, bm25Results []store.BM25Result, cfg FusionConfig) []Candidate {
	byID := make(map[string]*candidateAccumulator)

	var maxVector float32
	for _, v := range vectorResults {
		if v.Score > maxVector {
			maxVector = v.Score
		}
	}
	var maxBM25 float64
	for _, b := range bm25Results {
		if b.Score > maxBM25 {
			maxBM25 = b.Score
		}
	}

	for _, v := range vectorResults {
		acc := byID[v.ID]
		if acc == nil {
			acc = &candidateAccumulator{candidate: Candidate{
				ChunkID:    v.ID,
				SourcePath: v.Record.SourcePath,
				Text:       v.Record.Text,
				Links:      v.Record.Links,
				Metadata:   v.Record.Metadata,
				Provenance: ProvenanceVector,
			}}
			byID[v.ID] = acc
		}
		acc.hasVector = true
		acc.rawVector = v.Score
	}

	for _, b := range bm25Results {
		acc := byID[b.DocID]
		if acc == nil {
			acc = &candidateAccumulator{candidate: Candidate{
				ChunkID:    b.DocID,
				Provenance: ProvenanceLexical,
			}}
			byID[b.DocID] = acc
		}
		acc.hasBM25 = true
		acc.rawBM25 = b.Score
	}

	candidates := make([]Candidate, 0, len(byID))
	for _, acc := range byID {
		var vScore, bScore float64
		if acc.hasVector && maxVector > 0 {
			vScore = float64(acc.rawVector) / float64(maxVector)
		}
		if acc.hasBM25 && maxBM25 > 0 {
			bScore = acc.rawBM25 / maxBM25
		}

		acc.candidate.VectorScore = float32(vScore)
		acc.candidate.BM25Score = bScore
		acc.candidate.FusedScore = cfg.VectorWeight*vScore + cfg.BM25Weight*bScore
		if acc.hasVector && acc.hasBM25 {
			acc.candidate.Provenance = ProvenanceVector // present in both; vector tag wins for display
		}

		candidates = append(candidates, acc.candidate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		return a.ChunkID < b.ChunkID
	})

	return candidates
}
