package searcher

import (
	"context"
	"log/slog"
	"strings"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/vectorize"
)

// TagVectorizer encodes tag queries and reports the matched terms.
type TagVectorizer interface {
	Vectorize(ctx context.Context, q query.TagQuery) (vectorize.TagResult, error)
}

// TagSearcher ranks frames by cosine similarity over tag vectors.
type TagSearcher struct {
	vectorizer TagVectorizer
	index      SparseMatrix
	frames     FrameStore
	overshoot  int
}

// TagOption configures TagSearcher.
type TagOption func(*TagSearcher)

// WithTagVectorizer sets the tag encoder.
func WithTagVectorizer(v TagVectorizer) TagOption {
	return func(s *TagSearcher) { s.vectorizer = v }
}

// WithTagIndex sets the sparse tag matrix.
func WithTagIndex(m SparseMatrix) TagOption {
	return func(s *TagSearcher) { s.index = m }
}

// WithTagFrames sets the frame store used to resolve matrix rows.
func WithTagFrames(fs FrameStore) TagOption {
	return func(s *TagSearcher) { s.frames = fs }
}

// WithTagOvershoot sets the extra candidate depth. Negative values are ignored.
func WithTagOvershoot(n int) TagOption {
	return func(s *TagSearcher) {
		if n >= 0 {
			s.overshoot = n
		}
	}
}

// NewTagSearcher creates a tag searcher.
func NewTagSearcher(opts ...TagOption) (*TagSearcher, error) {
	s := &TagSearcher{overshoot: DefaultOvershoot}
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

// Search is SearchWithBoost without boosts.
func (s *TagSearcher) Search(ctx context.Context, q query.TagQuery, page, perPage int) (*SearchResult, error) {
	return s.SearchWithBoost(ctx, q, page, perPage, nil)
}

// SearchWithBoost multiplies each frame's similarity by boosts[frame key]
// (default 1). When the boosted scores sum above 1 they are rescaled to sum
// to exactly 1. Details keep the raw similarity and the boost.
func (s *TagSearcher) SearchWithBoost(ctx context.Context, q query.TagQuery, page, perPage int, boosts map[string]float64) (*SearchResult, error) {
	if err := checkPage(page, perPage); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		slog.Warn("tag_query_invalid", slog.String("error", err.Error()))
		return Empty(page, perPage), nil
	}

	res, err := s.vectorizer.Vectorize(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(res.Vector) == 0 {
		slog.Debug("tag_query_unmatched", slog.String("text", q.Text))
		return Empty(page, perPage), nil
	}

	k := depth(page, perPage, s.overshoot)
	var (
		cands []candidate
		total float64
	)
	for _, hit := range s.index.Search(res.Vector, k) {
		f, ok := lookup(ctx, s.frames, hit.Index)
		if !ok {
			continue
		}
		boost := 1.0
		if b, ok := boosts[f.Key]; ok {
			boost = b
		}
		score := hit.Score * boost
		total += score
		cands = append(cands, candidate{
			frame:        f,
			score:        score,
			contribution: frame.Contribution{Score: hit.Score, Boost: boost},
		})
	}
	if total > 1 {
		for i := range cands {
			cands[i].score /= total
		}
	}

	slog.Debug("tag_search_complete",
		slog.Int("candidates", len(cands)),
		slog.String("terms", strings.Join(res.Terms, ",")),
		slog.Int("page", page))
	return rank(frame.ModalityTag, cands, page, perPage), nil
}
