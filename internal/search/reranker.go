package search

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/framescope/framescope/internal/embed"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
)

// Reranker turns the fused map into the final strict ordering.
type Reranker interface {
	// Rerank orders merged frames. qs carries the query context for
	// rerankers that score against it.
	Rerank(ctx context.Context, merged map[string]*frame.Frame, qs query.Structure) ([]*frame.Frame, error)
}

// SimpleReranker sorts by final score descending, ties by frame key
// ascending, so repeated identical requests paginate identically.
type SimpleReranker struct{}

// Rerank returns the frames in fused order.
func (SimpleReranker) Rerank(_ context.Context, merged map[string]*frame.Frame, _ query.Structure) ([]*frame.Frame, error) {
	return ordered(merged), nil
}

func ordered(merged map[string]*frame.Frame) []*frame.Frame {
	out := make([]*frame.Frame, 0, len(merged))
	for _, f := range merged {
		out = append(out, f)
	}
	sortFrames(out)
	return out
}

func sortFrames(frames []*frame.Frame) {
	sort.SliceStable(frames, func(i, j int) bool {
		if frames[i].FinalScore != frames[j].FinalScore {
			return frames[i].FinalScore > frames[j].FinalScore
		}
		return frames[i].Key < frames[j].Key
	})
}

// Scorer scores documents against a query string. Scores are in [0,1] and
// aligned with the documents slice.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
	Available(ctx context.Context) bool
	Close() error
}

// SemanticReranker replaces the fused score with a sentence-similarity
// score between the combined query string and a textual stand-in for each
// frame. A missing or failing scorer degrades to the fused order.
type SemanticReranker struct {
	scorer Scorer
}

// NewSemanticReranker creates a reranker over scorer.
func NewSemanticReranker(scorer Scorer) *SemanticReranker {
	return &SemanticReranker{scorer: scorer}
}

// Rerank scores every merged frame and resorts. It never returns an error.
func (r *SemanticReranker) Rerank(ctx context.Context, merged map[string]*frame.Frame, qs query.Structure) ([]*frame.Frame, error) {
	frames := ordered(merged)
	if len(frames) < 2 || r.scorer == nil {
		return frames, nil
	}

	q := qs.RerankText()
	if q == "" {
		return frames, nil
	}
	if !r.scorer.Available(ctx) {
		slog.Warn("rerank_degraded", slog.String("reason", "scorer unavailable"))
		return frames, nil
	}

	docs := make([]string, len(frames))
	for i, f := range frames {
		docs[i] = Document(f)
	}

	start := time.Now()
	scores, err := r.scorer.Score(ctx, q, docs)
	if err != nil {
		slog.Warn("rerank_degraded",
			slog.String("reason", "scoring failed"),
			slog.String("error", err.Error()))
		return frames, nil
	}
	if len(scores) != len(frames) {
		slog.Warn("rerank_degraded",
			slog.String("reason", "score count mismatch"),
			slog.Int("want", len(frames)),
			slog.Int("got", len(scores)))
		return frames, nil
	}

	for i, f := range frames {
		f.SetFinalScore(scores[i])
	}
	sortFrames(frames)

	slog.Debug("rerank_complete",
		slog.Int("frames", len(frames)),
		slog.Duration("duration", time.Since(start)))
	return frames, nil
}

// Document is the textual surrogate of a frame: frame path, video path,
// encoded detection and tags.
func Document(f *frame.Frame) string {
	parts := []string{f.Keyframe.FramePath, f.Keyframe.VideoPath}
	if f.Detection != nil && f.Detection.Encoded != "" {
		parts = append(parts, f.Detection.Encoded)
	}
	parts = append(parts, f.Tags...)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// EmbeddingScorer scores by cosine similarity of embeddings, rescaled
// from [-1,1] to [0,1].
type EmbeddingScorer struct {
	embedder embed.Embedder
}

// NewEmbeddingScorer creates a scorer over an embedder.
func NewEmbeddingScorer(e embed.Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: e}
}

func (s *EmbeddingScorer) Score(ctx context.Context, q string, documents []string) ([]float64, error) {
	qv, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	dvs, err := s.embedder.EmbedBatch(ctx, documents)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(dvs))
	for i, dv := range dvs {
		scores[i] = (cosine(qv, dv) + 1) / 2
	}
	return scores, nil
}

func (s *EmbeddingScorer) Available(ctx context.Context) bool {
	return s.embedder.Available(ctx)
}

// Close is a no-op; the embedder is owned by the caller.
func (s *EmbeddingScorer) Close() error { return nil }

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Verify interface implementations at compile time
var (
	_ Reranker = SimpleReranker{}
	_ Reranker = (*SemanticReranker)(nil)
	_ Scorer   = (*EmbeddingScorer)(nil)
	_ Scorer   = (*CrossEncoderScorer)(nil)
)
