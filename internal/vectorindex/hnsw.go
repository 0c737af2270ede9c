package vectorindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"go.uber.org/zap"
)

// BackendHNSW labels hnsw metrics.
const BackendHNSW = "hnsw"

const (
	hnswGraphFile = "vectors.hnsw"
	hnswMetaFile  = "vectors.hnsw.meta"
)

// HNSWConfig configures an HNSWIndex.
type HNSWConfig struct {
	// Dimensions is the vector length. Required.
	Dimensions int

	// M is the maximum neighbours per node. Default: 16
	M int

	// EfSearch is the search candidate list size. Default: 20
	EfSearch int

	// Path is a directory the graph is loaded from on open and saved to on
	// Close when it changed. Empty keeps the index in memory only.
	Path string
}

// ApplyDefaults sets default values for unset fields.
func (c *HNSWConfig) ApplyDefaults() {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 20
	}
}

// Validate validates the configuration.
func (c *HNSWConfig) Validate() error {
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	if c.M < 2 {
		return fmt.Errorf("%w: m must be at least 2", ErrInvalidConfig)
	}
	return nil
}

// HNSWIndex implements Index on an in-process coder/hnsw graph.
//
// Deletes and replacements are lazy: the graph node stays and only the ID
// mapping is dropped, because coder/hnsw misbehaves when the last node is
// removed. Queries over-fetch by the orphan count to still return k live
// matches.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig
	logger *zap.Logger

	idMap   map[string]uint64
	keyMap  map[uint64]string
	meta    map[uint64]Metadata
	nextKey uint64
	dirty   bool
	closed  bool
}

// hnswState is the gob-encoded sidecar saved next to the exported graph.
type hnswState struct {
	IDMap      map[string]uint64
	Meta       map[uint64]Metadata
	NextKey    uint64
	Dimensions int
}

// NewHNSWIndex creates an index, loading a saved graph from config.Path when
// one exists.
func NewHNSWIndex(config HNSWConfig, logger *zap.Logger) (*HNSWIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = config.M
	graph.EfSearch = config.EfSearch
	graph.Ml = 0.25

	s := &HNSWIndex{
		graph:  graph,
		config: config,
		logger: logger,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[uint64]Metadata),
	}

	if config.Path != "" {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		s.config.Path = path
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	logger.Info("hnsw index initialized",
		zap.String("path", s.config.Path),
		zap.Int("dimensions", config.Dimensions),
		zap.Int("vectors", len(s.idMap)),
	)
	return s, nil
}

// Insert implements Index.
func (s *HNSWIndex) Insert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.config.Dimensions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, r := range records {
		if old, ok := s.idMap[r.ID]; ok {
			delete(s.keyMap, old)
			delete(s.meta, old)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(r.Embedding))
		copy(vec, r.Embedding)
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[r.ID] = key
		s.keyMap[key] = r.ID
		s.meta[key] = r.Metadata
	}
	s.dirty = true
	return nil
}

// QueryNearest implements Index.
func (s *HNSWIndex) QueryNearest(_ context.Context, vector []float32, k int) ([]Match, error) {
	if err := validateQuery(vector, k, s.config.Dimensions); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.idMap) == 0 {
		return []Match{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	fetch := k + (s.graph.Len() - len(s.idMap))
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(query, fetch)
	matches := make([]Match, 0, k)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		matches = append(matches, Match{
			ID:       id,
			Score:    1 - s.graph.Distance(query, node.Value),
			Metadata: s.meta[node.Key],
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// DeleteByIDs implements Index.
func (s *HNSWIndex) DeleteByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.meta, key)
			delete(s.idMap, id)
			s.dirty = true
		}
	}
	return nil
}

// HNSWStats reports live vectors against graph nodes.
type HNSWStats struct {
	Live    int
	Nodes   int
	Orphans int
}

// Stats returns current counts.
func (s *HNSWIndex) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return HNSWStats{Live: len(s.idMap), Nodes: s.graph.Len(), Orphans: s.graph.Len() - len(s.idMap)}
}

// Close implements Index. The graph is saved when a path is configured and
// it changed since it was loaded.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.config.Path == "" || !s.dirty {
		return nil
	}
	if err := s.save(); err != nil {
		return fmt.Errorf("saving hnsw index: %w", err)
	}
	s.dirty = false
	s.logger.Info("hnsw index saved", zap.String("path", s.config.Path), zap.Int("vectors", len(s.idMap)))
	return nil
}

func (s *HNSWIndex) save() error {
	if err := os.MkdirAll(s.config.Path, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	graphPath := filepath.Join(s.config.Path, hnswGraphFile)
	if err := writeAtomic(graphPath, func(f *os.File) error { return s.graph.Export(f) }); err != nil {
		return fmt.Errorf("exporting graph: %w", err)
	}

	state := hnswState{IDMap: s.idMap, Meta: s.meta, NextKey: s.nextKey, Dimensions: s.config.Dimensions}
	metaPath := filepath.Join(s.config.Path, hnswMetaFile)
	if err := writeAtomic(metaPath, func(f *os.File) error { return gob.NewEncoder(f).Encode(state) }); err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return nil
}

func (s *HNSWIndex) load() error {
	metaFile, err := os.Open(filepath.Join(s.config.Path, hnswMetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening hnsw metadata: %w", err)
	}
	defer metaFile.Close()

	var state hnswState
	if err := gob.NewDecoder(metaFile).Decode(&state); err != nil {
		return fmt.Errorf("decoding hnsw metadata: %w", err)
	}
	if state.Dimensions != s.config.Dimensions {
		return fmt.Errorf("%w: saved index has %d dimensions, configured %d",
			ErrDimensionMismatch, state.Dimensions, s.config.Dimensions)
	}

	graphFile, err := os.Open(filepath.Join(s.config.Path, hnswGraphFile))
	if err != nil {
		return fmt.Errorf("opening hnsw graph: %w", err)
	}
	defer graphFile.Close()

	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return fmt.Errorf("importing hnsw graph: %w", err)
	}

	s.idMap = state.IDMap
	s.meta = state.Meta
	if s.meta == nil {
		s.meta = make(map[uint64]Metadata)
	}
	s.nextKey = state.NextKey
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// writeAtomic writes through a temp file and renames it into place.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
