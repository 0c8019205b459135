package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/store"
)

// InconsistencyType identifies a mismatch between the frame table and the
// dense index.
type InconsistencyType string

const (
	// InconsistencyMissingVector means a frame has no vector.
	InconsistencyMissingVector InconsistencyType = "missing_vector"

	// InconsistencyOrphanVector means the index holds vectors at positions
	// the frame table does not have.
	InconsistencyOrphanVector InconsistencyType = "orphan_vector"

	// InconsistencyDimensionMismatch means the index width differs from the
	// configured embedding width.
	InconsistencyDimensionMismatch InconsistencyType = "dimension_mismatch"

	// InconsistencyModelMismatch means the index was built with another model.
	InconsistencyModelMismatch InconsistencyType = "model_mismatch"

	// InconsistencyInvalidVector means a stored vector is zero or not finite.
	InconsistencyInvalidVector InconsistencyType = "invalid_vector"
)

// Inconsistency is a single detected problem.
type Inconsistency struct {
	Type    InconsistencyType `json:"type"`
	Key     string            `json:"id,omitempty"`
	Details string            `json:"details"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Checked         int             `json:"checked"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Duration        time.Duration   `json:"duration"`
}

// OK reports whether no inconsistencies were found.
func (r *CheckResult) OK() bool {
	return len(r.Inconsistencies) == 0
}

// Count returns the number of inconsistencies of type t.
func (r *CheckResult) Count(t InconsistencyType) int {
	n := 0
	for _, i := range r.Inconsistencies {
		if i.Type == t {
			n++
		}
	}
	return n
}

// ConsistencyExpectations are what the index should match. Zero values skip
// the corresponding check.
type ConsistencyExpectations struct {
	Dimensions int
	Model      string

	// IndexModel is the model recorded by the index at build time.
	IndexModel string
}

// ConsistencyChecker verifies that every frame in the table has a usable
// vector and that the index holds nothing else.
type ConsistencyChecker struct {
	table  *frame.Table
	index  store.DenseIndex
	expect ConsistencyExpectations
}

// NewConsistencyChecker creates a checker over a table and a dense index.
func NewConsistencyChecker(table *frame.Table, idx store.DenseIndex, expect ConsistencyExpectations) *ConsistencyChecker {
	return &ConsistencyChecker{table: table, index: idx, expect: expect}
}

// Check walks every table position and looks its vector up.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	dims := c.index.Dimensions()
	if c.expect.Dimensions > 0 && c.expect.Dimensions != dims {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyDimensionMismatch,
			Details: store.ErrDimensionMismatch{Expected: c.expect.Dimensions, Got: dims}.Error(),
		})
	}
	if c.expect.Model != "" && c.expect.IndexModel != "" && c.expect.Model != c.expect.IndexModel {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyModelMismatch,
			Details: fmt.Sprintf("index built with %q, configured model is %q", c.expect.IndexModel, c.expect.Model),
		})
	}

	found := 0
	for i := 0; i < c.table.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, _ := c.table.KeyAt(i)
		vec, ok, err := c.index.Vector(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		if !ok {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissingVector,
				Key:     key,
				Details: "frame has no vector in the dense index",
			})
			continue
		}
		found++
		if !usable(vec) {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyInvalidVector,
				Key:     key,
				Details: "vector is zero or contains NaN/Inf",
			})
		}
	}

	if extra := c.index.Len() - found; extra > 0 {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyOrphanVector,
			Details: fmt.Sprintf("%d vectors at positions beyond the %d known frames", extra, c.table.Len()),
		})
	}

	result := &CheckResult{
		Checked:         c.table.Len(),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}
	slog.Info("index_check_complete",
		slog.Int("checked", result.Checked),
		slog.Int("inconsistencies", len(issues)),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))
	return result, nil
}

func usable(v []float32) bool {
	nonZero := false
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if x != 0 {
			nonZero = true
		}
	}
	return nonZero
}
