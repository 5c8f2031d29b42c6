package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: a fresh path with no manifest file loads empty, not an error.
func TestLoadManifest_MissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

// TS02: Save then LoadManifest round-trips entries exactly.
func TestManifest_SaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	m := NewManifest(path)
	entry := ManifestEntry{
		ContentHash: "deadbeef",
		IndexedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ChunkIDs:    []string{"chunk-a", "chunk-b"},
	}
	m.Set("notes/example.md", entry)
	require.NoError(t, m.Save())

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())

	got, ok := loaded.Get("notes/example.md")
	require.True(t, ok)
	assert.Equal(t, entry.ContentHash, got.ContentHash)
	assert.True(t, entry.IndexedAt.Equal(got.IndexedAt))
	assert.Equal(t, entry.ChunkIDs, got.ChunkIDs)
}

// TS03: Delete removes a path from the Manifest.
func TestManifest_Delete(t *testing.T) {
	m := NewManifest(filepath.Join(t.TempDir(), "manifest.json"))
	m.Set("a.md", ManifestEntry{ContentHash: "h1"})
	m.Set("b.md", ManifestEntry{ContentHash: "h2"})

	m.Delete("a.md")

	_, ok := m.Get("a.md")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
	assert.ElementsMatch(t, []string{"b.md"}, m.Paths())
}

// TS04: Save never leaves a stray temp file behind.
func TestManifest_SaveCleansUpTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m := NewManifest(path)
	m.Set("a.md", ManifestEntry{ContentHash: "h1"})
	require.NoError(t, m.Save())

	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
