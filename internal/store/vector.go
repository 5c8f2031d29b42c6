package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore using coder/hnsw, a pure-Go HNSW
// implementation requiring no CGO.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[string]uint64 // Chunk ID -> internal graph key
	keyMap  map[uint64]string // internal graph key -> Chunk ID
	records map[string]recordMeta
	nextKey uint64

	closed bool
}

// recordMeta is the cached text/metadata persisted alongside each
// vector's graph key. The embedding itself is not duplicated here —
// it already lives in the HNSW graph export.
type recordMeta struct {
	SourcePath string
	Ordinal    int
	Text       string
	Links      []string
	Metadata   map[string]string
}

// hnswMetadata is the sidecar gob file persisted next to the graph
// export (spec.md §3 Vector Record, §6.5 on-disk layout).
type hnswMetadata struct {
	IDMap   map[string]uint64
	Records map[string]recordMeta
	NextKey uint64
	Config  VectorStoreConfig
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates an empty HNSW-backed Vector Store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		records: make(map[string]recordMeta),
	}, nil
}

// Upsert adds or replaces records by Chunk ID (spec.md §4.3). An
// existing ID is replaced via lazy deletion — the old graph node is
// orphaned rather than removed, which avoids a coder/hnsw bug where
// deleting the graph's last remaining node corrupts it.
func (s *HNSWStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store: vector store is closed")
	}

	for _, r := range records {
		if len(r.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(r.Vector)}
		}
	}

	for _, r := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if existingKey, exists := s.idMap[r.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, r.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[r.ID] = key
		s.keyMap[key] = r.ID
		s.records[r.ID] = recordMeta{
			SourcePath: r.SourcePath,
			Ordinal:    r.Ordinal,
			Text:       r.Text,
			Links:      r.Links,
			Metadata:   r.Metadata,
		}
	}

	return nil
}

// Query returns the k nearest records to the given vector (spec.md
// §4.3), in descending similarity order.
func (s *HNSWStore) Query(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store: vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalized)
	}

	nodes := s.graph.Search(normalized, k)

	results := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // orphaned (lazily deleted) node
		}
		meta := s.records[id]

		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
			Record: Record{
				ID:         id,
				SourcePath: meta.SourcePath,
				Ordinal:    meta.Ordinal,
				Text:       meta.Text,
				Links:      meta.Links,
				Metadata:   meta.Metadata,
			},
		})
	}

	return results, nil
}

// Delete removes records by Chunk ID, via lazy deletion.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store: vector store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.records, id)
		}
	}
	return nil
}

// Count returns the number of stored records.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Get returns the record for id (without its embedding), if present.
func (s *HNSWStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, false
	}
	meta, exists := s.records[id]
	if !exists {
		return Record{}, false
	}
	return Record{
		ID:         id,
		SourcePath: meta.SourcePath,
		Ordinal:    meta.Ordinal,
		Text:       meta.Text,
		Links:      meta.Links,
		Metadata:   meta.Metadata,
	}, true
}

// AllRecords returns every stored record (without its embedding) for
// rebuilding the Lexical Store at startup (spec.md §4.4).
func (s *HNSWStore) AllRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	out := make([]Record, 0, len(s.idMap))
	for id := range s.idMap {
		meta := s.records[id]
		out = append(out, Record{
			ID:         id,
			SourcePath: meta.SourcePath,
			Ordinal:    meta.Ordinal,
			Text:       meta.Text,
			Links:      meta.Links,
			Metadata:   meta.Metadata,
		})
	}
	return out
}

// Save persists the graph and its sidecar metadata to disk, each via
// temp-file-then-rename so a crash mid-write never leaves a torn file.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store: vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("store: create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("store: export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("store: close index file: %w", err)
	}
	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("store: rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("store: create temp metadata file: %w", err)
	}

	meta := hnswMetadata{IDMap: s.idMap, Records: s.records, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load reads the graph and its sidecar metadata from disk.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store: vector store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("store: load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("store: open index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("store: import graph: %w", err)
	}

	return nil
}

func (s *HNSWStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("store: open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("store: decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.records = meta.Records
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases the store. coder/hnsw's Graph needs no explicit
// cleanup.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a graph distance into a 0-1 similarity
// score used by the Hybrid Retriever's max-normalize fusion (spec.md
// §4.7).
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
