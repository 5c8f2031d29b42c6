// Package chunk splits a Markdown document into overlapping,
// structurally-aligned chunks and extracts each chunk's outbound
// wiki-link targets.
package chunk

import "time"

// Chunk is the unit of indexing, retrieval, and context (spec.md §3).
// It is immutable once created; a changed source file produces an
// entirely new set of Chunks rather than mutating existing ones.
type Chunk struct {
	// ID is a deterministic function of (SourcePath, Ordinal,
	// Content) — see deterministicID — so identical content always
	// produces the same ID across runs.
	ID string

	// SourcePath is the file's path relative to the vault root.
	SourcePath string

	// Ordinal is this chunk's 0-based, dense position within its
	// source file.
	Ordinal int

	// Content is the chunk's raw text.
	Content string

	// Links holds the deduplicated, case-preserved wiki-link targets
	// found in Content (the `target` portion of `[[target]]` or
	// `[[target|display]]`).
	Links []string

	// Metadata carries arbitrary additional data; currently unused by
	// the chunker itself but threaded through by the Vector Store.
	Metadata map[string]string

	CreatedAt time.Time
}
