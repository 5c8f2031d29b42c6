// Package retrieve implements the Hybrid Retriever, Reranker, and
// Graph Expander — the three components that turn a question into an
// ordered, fused list of Retrieval Candidates (spec.md §4.7-§4.9).
package retrieve

// Provenance tags where a Retrieval Candidate came from (spec.md §3).
type Provenance string

const (
	ProvenanceLexical Provenance = "lexical"
	ProvenanceVector  Provenance = "vector"
	ProvenanceLinked  Provenance = "linked"
)

// LinkedProvenanceScore is the fixed score Graph-Expander-sourced
// candidates carry, lower than any reranker output (spec.md §4.9,
// SPEC_FULL.md §13 Open Question 3).
const LinkedProvenanceScore = 0.05

// Candidate is a Retrieval Candidate (spec.md §3): a Chunk ID, its
// text, its source metadata, a raw score from whichever retriever
// produced it, and a provenance tag. Candidates are transient — they
// exist only within one question's lifecycle.
type Candidate struct {
	ChunkID    string
	SourcePath string
	Text       string
	Links      []string
	Metadata   map[string]string

	VectorScore float32
	BM25Score   float64
	FusedScore  float64

	// RerankScore, when set by the Reranker, supersedes FusedScore as
	// the candidate's final reported score.
	RerankScore   float64
	HasRerankScore bool

	Provenance Provenance
}

// Score returns the candidate's final reported score: the rerank
// score if one was assigned, otherwise the fixed linked-provenance
// score for a linked candidate, otherwise the fused score.
func (c Candidate) Score() float64 {
	if c.HasRerankScore {
		return c.RerankScore
	}
	if c.Provenance == ProvenanceLinked {
		return LinkedProvenanceScore
	}
	return c.FusedScore
}
