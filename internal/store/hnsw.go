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

// HNSWStore is the vector leg of the Hybrid Retriever's evidence index:
// it backs similarity search over chunk embeddings with a
// pure-Go HNSW graph, so the server has no CGO dependency on a native
// vector library.
//
// IDs handed to Add/Search/Delete are chunk IDs (internal/model.Chunk.ID);
// the store itself is agnostic to what a chunk is, it just tracks the
// string<->internal-key mapping the graph needs.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	chunkKey map[string]uint64 // chunk ID -> graph key
	keyChunk map[uint64]string // graph key -> chunk ID
	nextKey  uint64

	closed bool
}

// hnswMetadata is the persisted side-table the graph export itself doesn't
// carry: which graph key maps to which chunk ID, and the config the index
// was built with (so a reopened store can validate embedding dimensions
// before anything gets queried against a mismatched index).
type hnswMetadata struct {
	ChunkKey map[string]uint64
	NextKey  uint64
	Config   VectorStoreConfig
}

// NewHNSWStore builds an empty vector store for the given config. Metric
// defaults to cosine similarity, matching the embedding space the embedding
// service is expected to produce.
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
	graph.Ml = 0.25 // fixed level-generation factor; not derived from M

	return &HNSWStore{
		graph:    graph,
		config:   cfg,
		chunkKey: make(map[string]uint64),
		keyChunk: make(map[uint64]string),
	}, nil
}

// Add inserts or replaces vectors for the given chunk IDs. A re-added chunk
// ID is handled by lazy deletion: its old graph node is orphaned (key
// mapping dropped) rather than physically removed, since coder/hnsw cannot
// safely delete the last remaining node from a graph.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("store: %d chunk ids but %d vectors", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store: vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		s.orphanIfPresent(id)

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.chunkKey[id] = key
		s.keyChunk[key] = id
	}
	return nil
}

// orphanIfPresent drops the key mapping for an existing chunk ID without
// touching the graph node itself. Caller must hold s.mu.
func (s *HNSWStore) orphanIfPresent(id string) {
	if key, exists := s.chunkKey[id]; exists {
		delete(s.keyChunk, key)
		delete(s.chunkKey, id)
	}
}

// Search returns up to k nearest chunks to query, ranked by similarity
// score (not raw distance — higher is more similar for both metrics).
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store: vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(q)
	}

	nodes := s.graph.Search(q, k)
	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, known := s.keyChunk[node.Key]
		if !known {
			// Orphaned node from a lazy delete/update; not a live chunk.
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}
	return results, nil
}

// Delete removes chunk IDs from the live index via the same lazy-deletion
// scheme Add uses for replacement.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store: vector store is closed")
	}
	for _, id := range ids {
		s.orphanIfPresent(id)
	}
	return nil
}

// AllIDs returns every live chunk ID in the store.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	ids := make([]string, 0, len(s.chunkKey))
	for id := range s.chunkKey {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether a chunk ID is live in the index.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.chunkKey[id]
	return exists
}

// Count returns the number of live chunk IDs.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.chunkKey)
}

// HNSWStats reports live vs. orphaned node counts, for operators deciding
// whether a rebuild (drop and re-ingest) is worth the disk churn.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns current HNSWStats.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}
	valid := len(s.chunkKey)
	nodes := s.graph.Len()
	return HNSWStats{ValidIDs: valid, GraphNodes: nodes, Orphans: nodes - valid}
}

// Save persists the graph and its chunk-ID side table atomically (temp file
// + rename).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store: vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("store: create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := s.exportGraph(tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("store: save index metadata: %w", err)
	}
	return nil
}

func (s *HNSWStore) exportGraph(tmpPath string) error {
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("store: create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close index file: %w", err)
	}
	return nil
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("store: create metadata file: %w", err)
	}

	meta := hnswMetadata{ChunkKey: s.chunkKey, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("store: close temp metadata file", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("store: encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and chunk-ID side table from disk, built by Save.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store: vector store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("store: load index metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("store: open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw's Import requires an io.ByteReader, not a plain io.Reader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
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
			slog.Warn("store: close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("store: decode metadata: %w", err)
	}

	s.chunkKey = meta.ChunkKey
	s.keyChunk = make(map[uint64]string, len(meta.ChunkKey))
	s.nextKey = meta.NextKey
	s.config = meta.Config
	for id, key := range s.chunkKey {
		s.keyChunk[key] = id
	}
	return nil
}

// Close releases in-memory resources. The coder/hnsw graph needs no
// explicit teardown.
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

// ReadHNSWStoreDimensions reads the embedding dimensionality an existing
// on-disk index was built with, without loading the whole graph. Used at
// startup to validate the configured embedder against the index before
// anything gets queried against a dimension mismatch. vectorPath is the
// index file path (not its .meta sidecar);
// returns 0 if no index exists yet (fresh start).
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: open index metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("store: close index metadata", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, fmt.Errorf("store: decode index metadata: %w", err)
	}
	return meta.Config.Dimensions, nil
}

var _ VectorStore = (*HNSWStore)(nil)

// normalizeVectorInPlace scales v to unit length for cosine-metric search.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a graph distance to a 0-1 similarity score so
// vector results are directly comparable to lexical BM25 scores during RRF
// fusion.
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	// Cosine distance ranges 0 (identical) to 2 (opposite).
	return 1.0 - distance/2.0
}
