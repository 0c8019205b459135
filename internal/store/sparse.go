package store

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// SparseVector maps a vocabulary column to its weight.
type SparseVector map[int]float64

// Norm returns the L2 norm.
func (v SparseVector) Norm() float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Dot returns the inner product with o.
func (v SparseVector) Dot(o SparseVector) float64 {
	small, large := v, o
	if len(small) > len(large) {
		small, large = large, small
	}
	var sum float64
	for col, w := range small {
		sum += w * large[col]
	}
	return sum
}

// Cosine returns the cosine similarity, or 0 when either vector is zero.
func (v SparseVector) Cosine(o SparseVector) float64 {
	nv, no := v.Norm(), o.Norm()
	if nv == 0 || no == 0 {
		return 0
	}
	return v.Dot(o) / (nv * no)
}

// SparseHit is one row matched by a sparse query.
type SparseHit struct {
	Index int
	Score float64
}

type posting struct {
	row    int
	weight float64
}

// SparseIndex is an in-memory row matrix of sparse vectors with an inverted
// index over columns. Rows are frame table positions.
type SparseIndex struct {
	mu       sync.RWMutex
	columns  int
	rows     []SparseVector
	norms    []float64
	postings map[int][]posting
}

// NewSparseIndex creates an index over a vocabulary of the given width.
func NewSparseIndex(columns int) *SparseIndex {
	return &SparseIndex{columns: columns, postings: make(map[int][]posting)}
}

// Columns returns the vocabulary width.
func (s *SparseIndex) Columns() int { return s.columns }

// Len returns the number of rows.
func (s *SparseIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Append adds a row and returns its position. Rows must be appended in
// frame table order.
func (s *SparseIndex) Append(v SparseVector) (int, error) {
	for col := range v {
		if col < 0 || col >= s.columns {
			return 0, fmt.Errorf("column %d out of range [0,%d)", col, s.columns)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := len(s.rows)
	stored := make(SparseVector, len(v))
	for col, w := range v {
		if w == 0 {
			continue
		}
		stored[col] = w
		s.postings[col] = append(s.postings[col], posting{row: row, weight: w})
	}
	s.rows = append(s.rows, stored)
	s.norms = append(s.norms, stored.Norm())
	return row, nil
}

// Row returns a copy of the row at position i.
func (s *SparseIndex) Row(i int) (SparseVector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.rows) {
		return nil, false
	}
	out := make(SparseVector, len(s.rows[i]))
	for col, w := range s.rows[i] {
		out[col] = w
	}
	return out, true
}

// Has reports whether row i exists and carries at least one weight.
func (s *SparseIndex) Has(i int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return i >= 0 && i < len(s.rows) && len(s.rows[i]) > 0
}

// Search returns rows with positive cosine similarity to q, best first.
// Equal scores order by row ascending. k <= 0 returns every match.
func (s *SparseIndex) Search(q SparseVector, k int) []SparseHit {
	qNorm := q.Norm()
	if qNorm == 0 {
		return nil
	}

	s.mu.RLock()
	dots := make(map[int]float64)
	for col, qw := range q {
		for _, p := range s.postings[col] {
			dots[p.row] += qw * p.weight
		}
	}
	hits := make([]SparseHit, 0, len(dots))
	for row, dot := range dots {
		n := s.norms[row]
		if n == 0 {
			continue
		}
		sim := dot / (n * qNorm)
		if sim <= 0 {
			continue
		}
		hits = append(hits, SparseHit{Index: row, Score: sim})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Index < hits[j].Index
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

type sparseFile struct {
	Columns int
	Rows    []SparseVector
}

// Save writes the matrix to path.
func (s *SparseIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return writeAtomic(path, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(sparseFile{Columns: s.columns, Rows: s.rows})
	})
}

// LoadSparseIndex reads a matrix written by Save and rebuilds postings.
func LoadSparseIndex(path string) (*SparseIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sparse index: %w", err)
	}
	defer func() { _ = f.Close() }()

	var data sparseFile
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode sparse index: %w", err)
	}

	idx := NewSparseIndex(data.Columns)
	for _, row := range data.Rows {
		if _, err := idx.Append(row); err != nil {
			return nil, fmt.Errorf("sparse index %s: %w", path, err)
		}
	}
	return idx, nil
}
