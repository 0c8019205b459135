// Package index builds the dense text index over a frame table, either from
// precomputed embeddings or by embedding each frame's textual surrogate.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/framescope/framescope/internal/embed"
	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/store"
	"github.com/framescope/framescope/internal/ui"
)

// DefaultBatchSize is the number of vectors embedded or added per step.
const DefaultBatchSize = 64

// RunnerConfig configures an index build.
type RunnerConfig struct {
	// EmbeddingsFile is a JSONL file of {"key": ..., "vector": [...]}
	// records. When empty, frames are embedded from their surrogate text.
	EmbeddingsFile string

	// IndexPath is where a file-backed index is saved. Empty skips saving.
	IndexPath string

	BatchSize int
}

// RunnerResult contains the outcome of a build.
type RunnerResult struct {
	Frames   int
	Vectors  int
	Skipped  int
	Duration time.Duration

	Model      string
	Dimensions int

	Errors   int
	Warnings int
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Table is the loaded frame table (required).
	Table *frame.Table

	// Index receives the vectors (required).
	Index store.DenseIndex

	// Embedder encodes frame surrogates. Required without an embeddings file.
	Embedder embed.Embedder

	// Backend names the index backend in the completion summary.
	Backend string
}

// Saver is implemented by indexes persisted to a file.
type Saver interface {
	Save(path string) error
}

// ModelRecorder is implemented by indexes that remember their model.
type ModelRecorder interface {
	SetModel(model string)
}

// Runner executes an index build with progress reporting.
type Runner struct {
	renderer ui.Renderer
	table    *frame.Table
	index    store.DenseIndex
	embedder embed.Embedder
	backend  string
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Table == nil {
		return nil, fmt.Errorf("frame table is required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("dense index is required")
	}
	return &Runner{
		renderer: deps.Renderer,
		table:    deps.Table,
		index:    deps.Index,
		embedder: deps.Embedder,
		backend:  deps.Backend,
	}, nil
}

// buildState accumulates counters across stages.
type buildState struct {
	vectors  map[int][]float32
	errors   int
	warnings int
}

func (b *buildState) warn(r *Runner, key string, err error) {
	b.warnings++
	r.renderer.AddError(ui.ErrorEvent{Frame: key, Err: err, IsWarn: true})
}

// Run executes the build pipeline.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	state := &buildState{vectors: make(map[int][]float32, r.table.Len())}
	var model string

	if cfg.EmbeddingsFile != "" {
		if err := r.readVectors(ctx, cfg.EmbeddingsFile, state); err != nil {
			return nil, err
		}
		model = filepath.Base(cfg.EmbeddingsFile)
		if r.embedder != nil {
			model = r.embedder.ModelName()
		}
	} else {
		if r.embedder == nil {
			return nil, fmt.Errorf("an embedder or an embeddings file is required")
		}
		if err := r.embedFrames(ctx, cfg.BatchSize, state); err != nil {
			return nil, err
		}
		model = r.embedder.ModelName()
	}

	added, err := r.addVectors(ctx, cfg.BatchSize, state)
	if err != nil {
		return nil, err
	}

	if m, ok := r.index.(ModelRecorder); ok {
		m.SetModel(model)
	}
	if s, ok := r.index.(Saver); ok && cfg.IndexPath != "" {
		r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageSaving, Message: cfg.IndexPath})
		if err := s.Save(cfg.IndexPath); err != nil {
			return nil, fserrors.New(fserrors.ErrCodeIndexBuild, "failed to save index", err)
		}
		slog.Info("index_saved", slog.String("path", cfg.IndexPath))
	}

	result := &RunnerResult{
		Frames:     r.table.Len(),
		Vectors:    added,
		Skipped:    r.table.Len() - added,
		Duration:   time.Since(start),
		Model:      model,
		Dimensions: r.index.Dimensions(),
		Errors:     state.errors,
		Warnings:   state.warnings,
	}

	r.renderer.Complete(ui.CompletionStats{
		Frames:     result.Frames,
		Vectors:    result.Vectors,
		Skipped:    result.Skipped,
		Duration:   result.Duration,
		Backend:    r.backend,
		Model:      result.Model,
		Dimensions: result.Dimensions,
		Errors:     result.Errors,
		Warnings:   result.Warnings,
	})

	rate := 0.0
	if result.Duration.Seconds() > 0 {
		rate = float64(added) / result.Duration.Seconds()
	}
	slog.Info("index_complete",
		slog.Int("frames", result.Frames),
		slog.Int("vectors", result.Vectors),
		slog.Int("skipped", result.Skipped),
		slog.Int("warnings", result.Warnings),
		slog.String("backend", r.backend),
		slog.String("model", model),
		slog.Int("dimensions", result.Dimensions),
		slog.Int64("duration_ms", result.Duration.Milliseconds()),
		slog.Float64("vectors_per_sec", rate))
	return result, nil
}

// embeddingRecord is one line of an embeddings file.
type embeddingRecord struct {
	Key    string    `json:"key"`
	Vector []float32 `json:"vector"`
}

// readVectors streams an embeddings file. Unknown keys, duplicates and
// vectors of the wrong width are skipped with a warning.
func (r *Runner) readVectors(ctx context.Context, path string, state *buildState) error {
	f, err := os.Open(path)
	if err != nil {
		return fserrors.New(fserrors.ErrCodeIndexBuild, "failed to open embeddings file", err)
	}
	defer func() { _ = f.Close() }()

	total := r.table.Len()
	dims := r.index.Dimensions()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageLoading, Total: total, Message: path})
	slog.Info("index_load_started", slog.String("path", path))

	dec := json.NewDecoder(f)
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("index build interrupted after %d records: %w", line, err)
		}
		var rec embeddingRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return fserrors.New(fserrors.ErrCodeIndexBuild,
				fmt.Sprintf("invalid embeddings record %d", line), err)
		}

		i, ok := r.table.IndexOf(rec.Key)
		switch {
		case !ok:
			state.warn(r, rec.Key, fmt.Errorf("frame not in metadata"))
			continue
		case len(rec.Vector) != dims:
			state.warn(r, rec.Key, store.ErrDimensionMismatch{Expected: dims, Got: len(rec.Vector)})
			continue
		}
		if _, dup := state.vectors[i]; dup {
			state.warn(r, rec.Key, fmt.Errorf("duplicate embedding, keeping the first"))
			continue
		}
		state.vectors[i] = rec.Vector

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageLoading,
			Current: len(state.vectors),
			Total:   total,
			Frame:   rec.Key,
		})
	}
	slog.Info("index_load_complete", slog.Int("records", line), slog.Int("vectors", len(state.vectors)))
	return nil
}

// embedFrames encodes every frame surrogate in batches.
func (r *Runner) embedFrames(ctx context.Context, batchSize int, state *buildState) error {
	dims := r.index.Dimensions()
	if got := r.embedder.Dimensions(); got != dims {
		return fserrors.New(fserrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder %s produces %d dimensions, index expects %d", r.embedder.ModelName(), got, dims), nil)
	}

	frames := r.table.All()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Total: len(frames)})
	slog.Info("index_embed_started", slog.Int("frames", len(frames)), slog.String("model", r.embedder.ModelName()))

	for lo := 0; lo < len(frames); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("index build interrupted at %d/%d frames: %w", lo, len(frames), err)
		}
		hi := min(lo+batchSize, len(frames))
		batch := frames[lo:hi]

		texts := make([]string, len(batch))
		for i, f := range batch {
			texts[i] = f.Surrogate()
		}
		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fserrors.VectorizerFailed(fmt.Sprintf("failed to embed frames %d-%d", lo, hi), err)
		}
		for i, f := range batch {
			if len(vecs[i]) != dims {
				state.errors++
				r.renderer.AddError(ui.ErrorEvent{Frame: f.Key, Err: store.ErrDimensionMismatch{Expected: dims, Got: len(vecs[i])}})
				continue
			}
			state.vectors[f.Index] = vecs[i]
		}

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageEmbedding,
			Current: hi,
			Total:   len(frames),
			Frame:   batch[len(batch)-1].Key,
		})
	}
	return nil
}

// addVectors inserts the collected vectors in index order.
func (r *Runner) addVectors(ctx context.Context, batchSize int, state *buildState) (int, error) {
	positions := make([]int, 0, len(state.vectors))
	for i := range state.vectors {
		positions = append(positions, i)
	}
	sort.Ints(positions)

	total := len(positions)
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Total: total})
	for lo := 0; lo < total; lo += batchSize {
		hi := min(lo+batchSize, total)
		indices := positions[lo:hi]
		vectors := make([][]float32, len(indices))
		for j, i := range indices {
			vectors[j] = state.vectors[i]
		}
		if err := r.index.Add(ctx, indices, vectors); err != nil {
			return lo, fserrors.New(fserrors.ErrCodeIndexBuild,
				fmt.Sprintf("failed to add vectors %d-%d", lo, hi), err)
		}
		key, _ := r.table.KeyAt(indices[len(indices)-1])
		r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: hi, Total: total, Frame: key})
	}
	return total, nil
}
