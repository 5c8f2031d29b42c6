package httpapi

import (
	"path/filepath"
	"strings"

	"github.com/obsidianrag/obsidianrag/internal/store"
)

// VaultStats is the `/stats` response body (spec.md §6.1).
type VaultStats struct {
	TotalNotes       int     `json:"total_notes"`
	TotalChunks      int     `json:"total_chunks"`
	TotalWords       int     `json:"total_words"`
	TotalChars       int     `json:"total_chars"`
	AvgWordsPerChunk float64 `json:"avg_words_per_chunk"`
	Folders          int     `json:"folders"`
	InternalLinks    int     `json:"internal_links"`
	VaultPath        string  `json:"vault_path"`
}

// computeStats derives VaultStats from the Vector Store's records and
// the Manifest's file count, rather than keeping a separate running
// tally, so the numbers are always exact for whatever the store
// currently holds.
func computeStats(vaultPath string, manifest *store.Manifest, vectorStore store.VectorStore) VaultStats {
	records := vectorStore.AllRecords()

	stats := VaultStats{
		TotalNotes:  manifest.Len(),
		TotalChunks: len(records),
		VaultPath:   vaultPath,
	}

	folders := make(map[string]struct{})
	for _, r := range records {
		words := len(strings.Fields(r.Text))
		stats.TotalWords += words
		stats.TotalChars += len(r.Text)
		stats.InternalLinks += len(r.Links)

		if dir := filepath.Dir(r.SourcePath); dir != "." {
			folders[dir] = struct{}{}
		}
	}
	stats.Folders = len(folders)

	if stats.TotalChunks > 0 {
		stats.AvgWordsPerChunk = float64(stats.TotalWords) / float64(stats.TotalChunks)
	}

	return stats
}
