package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ManifestEntry is one Manifest Entry (spec.md §3, §4.5): a source
// file's content hash, the time it was last successfully indexed, and
// the ordered list of Chunk IDs it produced.
type ManifestEntry struct {
	ContentHash string    `json:"content_hash"`
	IndexedAt   time.Time `json:"indexed_at"`
	ChunkIDs    []string  `json:"chunk_ids"`
}

// Manifest is a process-wide keyed structure mapping relative source
// path to its ManifestEntry (spec.md §4.5). The Indexer is the
// Manifest's single owner; all writes are serialized by the Indexer's
// mutex, so Manifest itself only needs to guard concurrent reads
// against the one in-flight writer.
type Manifest struct {
	mu      sync.RWMutex
	path    string
	entries map[string]ManifestEntry
}

// manifestFile is the on-disk JSON shape.
type manifestFile struct {
	Entries map[string]ManifestEntry `json:"entries"`
}

// NewManifest creates an empty in-memory Manifest backed by path.
func NewManifest(path string) *Manifest {
	return &Manifest{path: path, entries: make(map[string]ManifestEntry)}
}

// LoadManifest reads the Manifest from disk. A missing file is not an
// error — it means no index has ever run — and returns an empty
// Manifest backed by path.
func LoadManifest(path string) (*Manifest, error) {
	m := NewManifest(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read manifest: %w", err)
	}

	var onDisk manifestFile
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("store: parse manifest: %w", err)
	}
	if onDisk.Entries != nil {
		m.entries = onDisk.Entries
	}
	return m, nil
}

// Get returns the entry for path and whether it exists.
func (m *Manifest) Get(path string) (ManifestEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[path]
	return entry, ok
}

// Set records or replaces the entry for path.
func (m *Manifest) Set(path string, entry ManifestEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path] = entry
}

// Delete removes the entry for path, e.g. when its source file is
// removed from the vault (spec.md §4.5 step 4).
func (m *Manifest) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, path)
}

// Paths returns every path currently tracked by the Manifest.
func (m *Manifest) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	return paths
}

// Len returns the number of tracked files.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Save persists the Manifest to disk via temp-file-then-rename, so a
// crash mid-write never leaves a torn manifest (spec.md §4.5).
func (m *Manifest) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("store: create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(manifestFile{Entries: m.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal manifest: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("store: write manifest temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: rename manifest file: %w", err)
	}

	return nil
}
