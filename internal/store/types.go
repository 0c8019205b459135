// Package store provides the persistence layer of FrameScope: dense
// nearest-neighbour indexes (coder/hnsw, pgvector), the sparse cosine index
// used by object and tag search, and user-scoped selection stores.
//
// Dense indexes address vectors by integer position. Positions are the frame
// table indices; translating them to frame keys is the caller's job.
package store

import (
	"context"
	"fmt"
	"math"
	"time"
)

// InvalidIndex marks an unfilled slot in a dense search result.
const InvalidIndex = -1

// Metric names accepted by dense indexes.
const (
	MetricCosine = "cos"
	MetricL2     = "l2"
)

// DenseIndex is the nearest-neighbour contract used by text search.
//
// Search returns up to k distances and indices in ascending distance order.
// Results never outnumber the stored vectors. When an approximate search
// reaches fewer of them than min(k, Len()), the tail is padded with
// InvalidIndex and +Inf distance.
type DenseIndex interface {
	Add(ctx context.Context, indices []int, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) (distances []float32, indices []int, err error)

	// Vector returns the stored vector at an index position.
	Vector(ctx context.Context, index int) ([]float32, bool, error)

	Len() int
	Dimensions() int
	Close() error
}

// DenseIndexConfig configures a dense index.
type DenseIndexConfig struct {
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Metric     string `yaml:"metric" json:"metric"`

	// M is HNSW max connections per layer.
	M int `yaml:"m" json:"m"`

	// EfSearch is HNSW query-time search width.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// DefaultDenseIndexConfig returns defaults for a dense index.
func DefaultDenseIndexConfig(dimensions int) DenseIndexConfig {
	return DenseIndexConfig{
		Dimensions: dimensions,
		Metric:     MetricCosine,
		M:          16,
		EfSearch:   64,
	}
}

// IndexInfo describes a built index for `framescope index info`.
type IndexInfo struct {
	Backend    string    `json:"backend"`
	Location   string    `json:"location"`
	Model      string    `json:"model,omitempty"`
	Dimensions int       `json:"dimensions"`
	Metric     string    `json:"metric"`
	Count      int       `json:"count"`
	SizeBytes  int64     `json:"size_bytes"`
	BuiltAt    time.Time `json:"built_at"`
}

// ErrDimensionMismatch indicates a vector of the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild with 'framescope index build --force')", e.Expected, e.Got)
}

// padResults fills distances and indices with sentinel values up to
// min(k, size).
func padResults(distances []float32, indices []int, k, size int) ([]float32, []int) {
	for len(indices) < min(k, size) {
		indices = append(indices, InvalidIndex)
		distances = append(distances, float32(math.Inf(1)))
	}
	return distances, indices
}

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
