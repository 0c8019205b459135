package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndex implements DenseIndex over a coder/hnsw graph keyed by frame
// index position.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config DenseIndexConfig
	model  string
	built  time.Time
	closed bool
}

type hnswMetadata struct {
	Config  DenseIndexConfig
	Model   string
	Count   int
	BuiltAt time.Time
}

// NewHNSWIndex creates an empty in-memory index.
func NewHNSWIndex(cfg DenseIndexConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricCosine:
		graph.Distance = hnsw.CosineDistance
	case MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	default:
		return nil, fmt.Errorf("unknown metric %q (valid: cos, l2)", cfg.Metric)
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{graph: graph, config: cfg}, nil
}

// SetModel records the embedding model the vectors came from.
func (s *HNSWIndex) SetModel(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

// Add inserts vectors at the given index positions. Positions must be new.
func (s *HNSWIndex) Add(ctx context.Context, indices []int, vectors [][]float32) error {
	if len(indices) != len(vectors) {
		return fmt.Errorf("indices and vectors length mismatch: %d vs %d", len(indices), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	nodes := make([]hnsw.Node[uint64], 0, len(indices))
	for i, idx := range indices {
		if idx < 0 {
			return fmt.Errorf("invalid index position %d", idx)
		}
		if len(vectors[i]) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
		}
		if _, exists := s.graph.Lookup(uint64(idx)); exists {
			return fmt.Errorf("index position %d already present", idx)
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == MetricCosine {
			normalizeVectorInPlace(vec)
		}
		nodes = append(nodes, hnsw.MakeNode(uint64(idx), vec))
	}
	if len(nodes) > 0 {
		s.graph.Add(nodes...)
		s.built = time.Now()
	}
	return nil
}

// Search returns the k nearest positions to query.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]float32, []int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, nil, fmt.Errorf("index is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 {
		return nil, nil, nil
	}
	size := s.graph.Len()
	if size == 0 {
		return nil, nil, nil
	}
	k = min(k, size)

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == MetricCosine {
		normalizeVectorInPlace(q)
	}

	nodes := s.graph.Search(q, k)
	type hit struct {
		idx  int
		dist float32
	}
	hits := make([]hit, 0, len(nodes))
	for _, node := range nodes {
		hits = append(hits, hit{idx: int(node.Key), dist: s.graph.Distance(q, node.Value)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].idx < hits[j].idx
	})

	distances := make([]float32, 0, k)
	indices := make([]int, 0, k)
	for _, h := range hits {
		distances = append(distances, h.dist)
		indices = append(indices, h.idx)
	}
	distances, indices = padResults(distances, indices, k, size)
	return distances, indices, nil
}

// Vector returns the stored vector at a position. Cosine indexes return the
// unit-normalized vector.
func (s *HNSWIndex) Vector(ctx context.Context, index int) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, fmt.Errorf("index is closed")
	}
	if index < 0 {
		return nil, false, nil
	}
	vec, ok := s.graph.Lookup(uint64(index))
	if !ok {
		return nil, false, nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true, nil
}

// Len returns the number of stored vectors.
func (s *HNSWIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.graph.Len()
}

// Dimensions returns the vector dimension.
func (s *HNSWIndex) Dimensions() int {
	return s.config.Dimensions
}

// Info describes the index persisted at path.
func (s *HNSWIndex) Info(path string) IndexInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := IndexInfo{
		Backend:    "hnsw",
		Location:   path,
		Model:      s.model,
		Dimensions: s.config.Dimensions,
		Metric:     s.config.Metric,
		BuiltAt:    s.built,
	}
	if !s.closed {
		info.Count = s.graph.Len()
	}
	for _, p := range []string{path, path + ".meta"} {
		if st, err := os.Stat(p); err == nil {
			info.SizeBytes += st.Size()
		}
	}
	return info
}

// Save writes the graph and its metadata atomically (temp file + rename).
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	err := writeAtomic(path, func(f *os.File) error {
		return s.graph.Export(f)
	})
	if err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	meta := hnswMetadata{Config: s.config, Model: s.model, Count: s.graph.Len(), BuiltAt: s.built}
	err = writeAtomic(path+".meta", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// Load replaces the in-memory graph with the one persisted at path.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	meta, err := readHNSWMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: meta.Config.Dimensions}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = f.Close() }()

	graph := hnsw.NewGraph[uint64]()
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	graph.EfSearch = s.config.EfSearch

	s.graph = graph
	s.config.Metric = meta.Config.Metric
	s.model = meta.Model
	s.built = meta.BuiltAt
	return nil
}

// Close releases the graph.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// OpenHNSWIndex loads an index using the dimensions recorded in its metadata.
func OpenHNSWIndex(path string) (*HNSWIndex, error) {
	meta, err := readHNSWMetadata(path)
	if err != nil {
		return nil, err
	}
	idx, err := NewHNSWIndex(meta.Config)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(path); err != nil {
		return nil, err
	}
	slog.Debug("hnsw_index_loaded",
		slog.String("path", path),
		slog.Int("count", idx.Len()),
		slog.Int("dimensions", meta.Config.Dimensions))
	return idx, nil
}

func readHNSWMetadata(path string) (hnswMetadata, error) {
	var meta hnswMetadata
	f, err := os.Open(path + ".meta")
	if err != nil {
		return meta, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return meta, nil
}

func writeAtomic(path string, write func(f *os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

var _ DenseIndex = (*HNSWIndex)(nil)
