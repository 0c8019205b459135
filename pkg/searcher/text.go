package searcher

import (
	"context"
	"fmt"
	"log/slog"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/store"
)

// TextVectorizer embeds text queries.
type TextVectorizer interface {
	Vectorize(ctx context.Context, q query.TextQuery) ([]float32, error)
}

// TextSearcher performs dense nearest-neighbour search over frame embeddings.
type TextSearcher struct {
	vectorizer TextVectorizer
	index      store.DenseIndex
	frames     FrameStore
	overshoot  int
	refine     *Refinement
}

// TextOption configures TextSearcher.
type TextOption func(*TextSearcher)

// WithTextVectorizer sets the query encoder.
func WithTextVectorizer(v TextVectorizer) TextOption {
	return func(s *TextSearcher) { s.vectorizer = v }
}

// WithDenseIndex sets the nearest-neighbour index.
func WithDenseIndex(idx store.DenseIndex) TextOption {
	return func(s *TextSearcher) { s.index = idx }
}

// WithTextFrames sets the frame store used to resolve index positions.
func WithTextFrames(fs FrameStore) TextOption {
	return func(s *TextSearcher) { s.frames = fs }
}

// WithTextOvershoot sets the extra candidate depth. Negative values are ignored.
func WithTextOvershoot(n int) TextOption {
	return func(s *TextSearcher) {
		if n >= 0 {
			s.overshoot = n
		}
	}
}

// WithRefinement enables neighbourhood refinement of candidates.
func WithRefinement(r Refinement) TextOption {
	return func(s *TextSearcher) {
		r = r.withDefaults()
		s.refine = &r
	}
}

// NewTextSearcher creates a text searcher.
// Returns ErrNilVectorizer, ErrNilIndex or ErrNilDependency when a
// dependency is missing.
func NewTextSearcher(opts ...TextOption) (*TextSearcher, error) {
	s := &TextSearcher{overshoot: DefaultOvershoot}
	for _, opt := range opts {
		opt(s)
	}
	if s.vectorizer == nil {
		return nil, ErrNilVectorizer
	}
	if s.index == nil {
		return nil, ErrNilIndex
	}
	if s.frames == nil {
		return nil, ErrNilDependency
	}
	return s, nil
}

// Search embeds the query and returns one page of frames scored 1/(1+distance),
// or by the refined score when refinement is enabled.
func (s *TextSearcher) Search(ctx context.Context, q query.TextQuery, page, perPage int) (*SearchResult, error) {
	if err := checkPage(page, perPage); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		slog.Warn("text_query_invalid", slog.String("error", err.Error()))
		return Empty(page, perPage), nil
	}

	vec, err := s.vectorizer.Vectorize(ctx, q)
	if err != nil {
		return nil, err
	}

	k := depth(page, perPage, s.overshoot)
	var cands []candidate
	if s.refine != nil {
		cands, err = s.refinedCandidates(ctx, vec, k)
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			slog.Warn("text_refinement_empty", slog.String("fallback", "plain"))
		}
	}
	if len(cands) == 0 {
		cands, err = s.plainCandidates(ctx, vec, k)
		if err != nil {
			return nil, err
		}
	}

	slog.Debug("text_search_complete",
		slog.Int("candidates", len(cands)),
		slog.Int("page", page),
		slog.Int("per_page", perPage))
	return rank(frame.ModalityText, cands, page, perPage), nil
}

func (s *TextSearcher) plainCandidates(ctx context.Context, vec []float32, k int) ([]candidate, error) {
	distances, indices, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fserrors.IndexUnavailable("text index search failed", err)
	}
	if allInvalid(indices) {
		return nil, nil
	}

	cands := make([]candidate, 0, len(indices))
	for i, idx := range indices {
		if idx == store.InvalidIndex {
			continue
		}
		f, ok := lookup(ctx, s.frames, idx)
		if !ok {
			continue
		}
		score := 1 / (1 + float64(distances[i]))
		cands = append(cands, candidate{frame: f, score: score, contribution: frame.Contribution{Score: score}})
	}
	return cands, nil
}

func allInvalid(indices []int) bool {
	for _, idx := range indices {
		if idx != store.InvalidIndex {
			return false
		}
	}
	return true
}

// lookup resolves an index position, logging stale mappings.
func lookup(ctx context.Context, fs FrameStore, idx int) (*frame.Frame, bool) {
	f, ok := fs.ByIndex(idx)
	if !ok {
		err := fserrors.FrameNotFound(fmt.Sprintf("no frame at index %d", idx))
		slog.LogAttrs(ctx, slog.LevelWarn, "frame_not_found", fserrors.LogAttrs(err)...)
		return nil, false
	}
	return f, true
}

func checkPage(page, perPage int) error {
	if page < 1 || perPage < 1 {
		return fserrors.New(fserrors.ErrCodeInvalidPage,
			fmt.Sprintf("page and per_page must be >= 1, got %d and %d", page, perPage), nil)
	}
	return nil
}
