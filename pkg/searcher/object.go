package searcher

import (
	"context"
	"log/slog"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/store"
)

// ObjectVectorizer encodes object queries as sparse grid-token vectors.
type ObjectVectorizer interface {
	Vectorize(q query.ObjectQuery) store.SparseVector
}

// SparseMatrix is a row matrix searchable by cosine similarity.
type SparseMatrix interface {
	Search(q store.SparseVector, k int) []store.SparseHit
}

// ObjectSearcher ranks frames by cosine similarity between grid tokens.
type ObjectSearcher struct {
	vectorizer ObjectVectorizer
	index      SparseMatrix
	frames     FrameStore
	overshoot  int
}

// ObjectOption configures ObjectSearcher.
type ObjectOption func(*ObjectSearcher)

// WithObjectVectorizer sets the grid-token encoder.
func WithObjectVectorizer(v ObjectVectorizer) ObjectOption {
	return func(s *ObjectSearcher) { s.vectorizer = v }
}

// WithObjectIndex sets the sparse object matrix.
func WithObjectIndex(m SparseMatrix) ObjectOption {
	return func(s *ObjectSearcher) { s.index = m }
}

// WithObjectFrames sets the frame store used to resolve matrix rows.
func WithObjectFrames(fs FrameStore) ObjectOption {
	return func(s *ObjectSearcher) { s.frames = fs }
}

// WithObjectOvershoot sets the extra candidate depth. Negative values are ignored.
func WithObjectOvershoot(n int) ObjectOption {
	return func(s *ObjectSearcher) {
		if n >= 0 {
			s.overshoot = n
		}
	}
}

// NewObjectSearcher creates an object-position searcher.
func NewObjectSearcher(opts ...ObjectOption) (*ObjectSearcher, error) {
	s := &ObjectSearcher{overshoot: DefaultOvershoot}
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

// Search returns one page of frames with positive similarity. AND logic
// also requires every query token to be present in the frame, and
// MaxObjects drops frames with more detections.
func (s *ObjectSearcher) Search(ctx context.Context, q query.ObjectQuery, page, perPage int) (*SearchResult, error) {
	if err := checkPage(page, perPage); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		slog.Warn("object_query_invalid", slog.String("error", err.Error()))
		return Empty(page, perPage), nil
	}

	vec := s.vectorizer.Vectorize(q)
	if len(vec) == 0 {
		return Empty(page, perPage), nil
	}

	k := depth(page, perPage, s.overshoot)
	tokens := q.Tokens()
	var cands []candidate
	for _, hit := range s.index.Search(vec, 0) {
		if len(cands) == k {
			break
		}
		f, ok := lookup(ctx, s.frames, hit.Index)
		if !ok {
			continue
		}
		if q.MaxObjects > 0 && f.Detection.Total() > q.MaxObjects {
			continue
		}
		if q.Logic == query.LogicAND && !hasAll(f.Detection.Tokens(), tokens) {
			continue
		}
		cands = append(cands, candidate{frame: f, score: hit.Score, contribution: frame.Contribution{Score: hit.Score}})
	}

	slog.Debug("object_search_complete",
		slog.Int("candidates", len(cands)),
		slog.String("logic", string(q.Logic)),
		slog.Int("page", page))
	return rank(frame.ModalityObject, cands, page, perPage), nil
}

func hasAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
