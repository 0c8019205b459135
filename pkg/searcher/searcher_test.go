package searcher

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/store"
	"github.com/framescope/framescope/internal/vectorize"
)

// =============================================================================
// Mocks
// =============================================================================

type mockDenseIndex struct {
	SearchFn    func(ctx context.Context, q []float32, k int) ([]float32, []int, error)
	VectorFn    func(ctx context.Context, idx int) ([]float32, bool, error)
	searchCalls atomic.Int32
}

func (m *mockDenseIndex) Add(context.Context, []int, [][]float32) error { return nil }

func (m *mockDenseIndex) Search(ctx context.Context, q []float32, k int) ([]float32, []int, error) {
	m.searchCalls.Add(1)
	return m.SearchFn(ctx, q, k)
}

func (m *mockDenseIndex) Vector(ctx context.Context, idx int) ([]float32, bool, error) {
	if m.VectorFn == nil {
		return nil, false, nil
	}
	return m.VectorFn(ctx, idx)
}

func (m *mockDenseIndex) Len() int        { return 0 }
func (m *mockDenseIndex) Dimensions() int { return 2 }
func (m *mockDenseIndex) Close() error    { return nil }

// bruteIndex is an exact L2 index over a fixed set of vectors.
func bruteIndex(vectors [][]float32) *mockDenseIndex {
	return &mockDenseIndex{
		SearchFn: func(_ context.Context, q []float32, k int) ([]float32, []int, error) {
			type hit struct {
				idx  int
				dist float32
			}
			hits := make([]hit, 0, len(vectors))
			for i, v := range vectors {
				var d float64
				for j := range v {
					diff := float64(v[j] - q[j])
					d += diff * diff
				}
				hits = append(hits, hit{idx: i, dist: float32(math.Sqrt(d))})
			}
			sort.SliceStable(hits, func(a, b int) bool { return hits[a].dist < hits[b].dist })
			dists := make([]float32, k)
			idxs := make([]int, k)
			for i := 0; i < k; i++ {
				if i < len(hits) {
					dists[i], idxs[i] = hits[i].dist, hits[i].idx
				} else {
					dists[i], idxs[i] = float32(math.Inf(1)), store.InvalidIndex
				}
			}
			return dists, idxs, nil
		},
		VectorFn: func(_ context.Context, idx int) ([]float32, bool, error) {
			if idx < 0 || idx >= len(vectors) {
				return nil, false, nil
			}
			return vectors[idx], true, nil
		},
	}
}

type mockTextVectorizer struct {
	VectorizeFn func(ctx context.Context, q query.TextQuery) ([]float32, error)
	calls       atomic.Int32
}

func (m *mockTextVectorizer) Vectorize(ctx context.Context, q query.TextQuery) ([]float32, error) {
	m.calls.Add(1)
	if m.VectorizeFn == nil {
		return []float32{1, 0}, nil
	}
	return m.VectorizeFn(ctx, q)
}

type mockTagVectorizer struct {
	VectorizeFn func(ctx context.Context, q query.TagQuery) (vectorize.TagResult, error)
}

func (m *mockTagVectorizer) Vectorize(ctx context.Context, q query.TagQuery) (vectorize.TagResult, error) {
	return m.VectorizeFn(ctx, q)
}

type mockSparse struct {
	hits  []store.SparseHit
	lastK int
}

func (m *mockSparse) Search(_ store.SparseVector, k int) []store.SparseHit {
	m.lastK = k
	return m.hits
}

func newTable(t *testing.T, n int) *frame.Table {
	t.Helper()
	frames := make([]*frame.Frame, n)
	for i := range frames {
		frames[i] = &frame.Frame{Key: "L01_V001_" + string(rune('a'+i))}
	}
	table, err := frame.NewTable(frames)
	require.NoError(t, err)
	return table
}

func keys(frames []*frame.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Key
	}
	return out
}

func newText(t *testing.T, idx store.DenseIndex, fs FrameStore, opts ...TextOption) (*TextSearcher, *mockTextVectorizer) {
	t.Helper()
	vec := &mockTextVectorizer{}
	opts = append([]TextOption{WithTextVectorizer(vec), WithDenseIndex(idx), WithTextFrames(fs)}, opts...)
	s, err := NewTextSearcher(opts...)
	require.NoError(t, err)
	return s, vec
}

// =============================================================================
// TextSearcher
// =============================================================================

func TestNewTextSearcher_MissingDependencies(t *testing.T) {
	idx := &mockDenseIndex{}
	table := newTable(t, 1)

	_, err := NewTextSearcher(WithDenseIndex(idx), WithTextFrames(table))
	assert.ErrorIs(t, err, ErrNilVectorizer)

	_, err = NewTextSearcher(WithTextVectorizer(&mockTextVectorizer{}), WithTextFrames(table))
	assert.ErrorIs(t, err, ErrNilIndex)

	_, err = NewTextSearcher(WithTextVectorizer(&mockTextVectorizer{}), WithDenseIndex(idx))
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestTextSearcher_Search_ScoresFromDistance(t *testing.T) {
	// Given: the index returns three neighbours out of order
	idx := &mockDenseIndex{SearchFn: func(context.Context, []float32, int) ([]float32, []int, error) {
		return []float32{0, 1, 3}, []int{2, 0, 1}, nil
	}}
	s, _ := newText(t, idx, newTable(t, 3))

	// When: searching the first page
	res, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)
	require.NoError(t, err)

	// Then: scores are 1/(1+d) and the details carry the text contribution
	require.Len(t, res.Frames, 3)
	assert.Equal(t, []string{"L01_V001_c", "L01_V001_a", "L01_V001_b"}, keys(res.Frames))
	assert.InDelta(t, 1.0, res.Frames[0].Score.Value, 1e-9)
	assert.InDelta(t, 0.5, res.Frames[1].Score.Value, 1e-9)
	assert.InDelta(t, 0.25, res.Frames[2].FinalScore, 1e-9)
	assert.InDelta(t, 0.5, res.Frames[1].Score.Details[frame.ModalityText].Score, 1e-9)
	assert.Equal(t, 3, res.Total)
	assert.False(t, res.HasMore)
}

func TestTextSearcher_Search_TiesByIndex(t *testing.T) {
	idx := &mockDenseIndex{SearchFn: func(context.Context, []float32, int) ([]float32, []int, error) {
		return []float32{1, 1, 1}, []int{2, 0, 1}, nil
	}}
	s, _ := newText(t, idx, newTable(t, 3))

	res, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"L01_V001_a", "L01_V001_b", "L01_V001_c"}, keys(res.Frames))
}

func TestTextSearcher_Search_Pagination(t *testing.T) {
	var gotK int
	idx := &mockDenseIndex{SearchFn: func(_ context.Context, _ []float32, k int) ([]float32, []int, error) {
		gotK = k
		return []float32{0, 1, 2, 3, 4}, []int{0, 1, 2, 3, 4}, nil
	}}
	s, _ := newText(t, idx, newTable(t, 5), WithTextOvershoot(10))

	tests := []struct {
		name    string
		page    int
		keys    []string
		hasMore bool
	}{
		{"first page", 1, []string{"L01_V001_a", "L01_V001_b"}, true},
		{"second page", 2, []string{"L01_V001_c", "L01_V001_d"}, true},
		{"partial last page", 3, []string{"L01_V001_e"}, false},
		{"past the end", 4, []string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, tt.page, 2)
			require.NoError(t, err)

			assert.Equal(t, tt.keys, keys(res.Frames))
			assert.Equal(t, tt.hasMore, res.HasMore)
			assert.Equal(t, 5, res.Total)
			assert.Equal(t, tt.page*2+10, gotK)
		})
	}
}

func TestTextSearcher_Search_AllSentinels(t *testing.T) {
	idx := &mockDenseIndex{SearchFn: func(context.Context, []float32, int) ([]float32, []int, error) {
		inf := float32(math.Inf(1))
		return []float32{inf, inf}, []int{store.InvalidIndex, store.InvalidIndex}, nil
	}}
	s, _ := newText(t, idx, newTable(t, 2))

	res, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Frames)
	assert.Zero(t, res.Total)
	assert.False(t, res.HasMore)
}

func TestTextSearcher_Search_SkipsMissingFrames(t *testing.T) {
	// Given: the index knows a position the frame table does not
	idx := &mockDenseIndex{SearchFn: func(context.Context, []float32, int) ([]float32, []int, error) {
		return []float32{0, 0.5, 1}, []int{0, 99, 1}, nil
	}}
	s, _ := newText(t, idx, newTable(t, 2))

	// When: searching
	res, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)

	// Then: the stale position is skipped and not counted
	require.NoError(t, err)
	assert.Equal(t, []string{"L01_V001_a", "L01_V001_b"}, keys(res.Frames))
	assert.Equal(t, 2, res.Total)
}

func TestTextSearcher_Search_InvalidInputs(t *testing.T) {
	idx := &mockDenseIndex{SearchFn: func(context.Context, []float32, int) ([]float32, []int, error) {
		return nil, nil, nil
	}}
	s, vec := newText(t, idx, newTable(t, 1))
	ctx := context.Background()

	_, err := s.Search(ctx, query.TextQuery{Text: "dog"}, 0, 10)
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeInvalidPage))

	_, err = s.Search(ctx, query.TextQuery{Text: "dog"}, 1, 0)
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeInvalidPage))

	// Blank queries are not errors
	res, err := s.Search(ctx, query.TextQuery{Text: "  "}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Frames)
	assert.Equal(t, int32(0), vec.calls.Load())
	assert.Equal(t, int32(0), idx.searchCalls.Load())
}

func TestTextSearcher_Search_PropagatesFailures(t *testing.T) {
	t.Run("vectorizer", func(t *testing.T) {
		idx := &mockDenseIndex{}
		vec := &mockTextVectorizer{VectorizeFn: func(context.Context, query.TextQuery) ([]float32, error) {
			return nil, fserrors.VectorizerFailed("embed failed", errors.New("503"))
		}}
		s, err := NewTextSearcher(WithTextVectorizer(vec), WithDenseIndex(idx), WithTextFrames(newTable(t, 1)))
		require.NoError(t, err)

		_, err = s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)
		assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeVectorizerFailed))
	})

	t.Run("index", func(t *testing.T) {
		idx := &mockDenseIndex{SearchFn: func(context.Context, []float32, int) ([]float32, []int, error) {
			return nil, nil, errors.New("closed")
		}}
		s, _ := newText(t, idx, newTable(t, 1))

		_, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)
		assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeIndexUnavailable))
	})
}

func TestTextSearcher_Refinement(t *testing.T) {
	// Given: three unit vectors and a query along the first axis
	vectors := [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}}
	s, _ := newText(t, bruteIndex(vectors), newTable(t, 3),
		WithRefinement(Refinement{Neighbors: 1, SimilarityWeight: 0.15}))

	// When: searching with a single neighbour
	res, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)
	require.NoError(t, err)

	// Then: each candidate pools only itself and the expanded query is its
	// nearest neighbour, so scores reduce to the mean of two dot products
	require.Len(t, res.Frames, 3)
	assert.Equal(t, []string{"L01_V001_a", "L01_V001_c", "L01_V001_b"}, keys(res.Frames))
	assert.InDelta(t, 1.0, res.Frames[0].Score.Value, 1e-6)
	assert.InDelta(t, 0.6, res.Frames[1].Score.Value, 1e-6)
	assert.InDelta(t, 0.0, res.Frames[2].Score.Value, 1e-6)
}

func TestTextSearcher_Refinement_ScoreNeverNegative(t *testing.T) {
	// Given: an unnormalised vector pointing away from the query
	vectors := [][]float32{{1, 0}, {-3, 0}}
	s, _ := newText(t, bruteIndex(vectors), newTable(t, 2),
		WithRefinement(Refinement{Neighbors: 1, SimilarityWeight: 0.15}))

	// When: searching along the first axis
	res, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)
	require.NoError(t, err)

	// Then: the opposing frame scores 0 instead of -3
	require.Len(t, res.Frames, 2)
	assert.Equal(t, "L01_V001_b", res.Frames[1].Key)
	assert.Zero(t, res.Frames[1].Score.Value)
	for _, f := range res.Frames {
		assert.GreaterOrEqual(t, f.Score.Value, 0.0)
	}
}

func TestTextSearcher_Refinement_FallsBackToPlain(t *testing.T) {
	// Given: an index that cannot return stored vectors
	idx := &mockDenseIndex{SearchFn: func(context.Context, []float32, int) ([]float32, []int, error) {
		return []float32{1}, []int{0}, nil
	}}
	s, _ := newText(t, idx, newTable(t, 1), WithRefinement(Refinement{}))

	// When: searching
	res, err := s.Search(context.Background(), query.TextQuery{Text: "dog"}, 1, 10)

	// Then: plain distance scoring is used
	require.NoError(t, err)
	require.Len(t, res.Frames, 1)
	assert.InDelta(t, 0.5, res.Frames[0].Score.Value, 1e-9)
}

func TestRefinement_Defaults(t *testing.T) {
	r := Refinement{}.withDefaults()
	assert.Equal(t, DefaultRefinement(), r)

	r = Refinement{Neighbors: 3, SimilarityWeight: 0.5}.withDefaults()
	assert.Equal(t, 3, r.Neighbors)
	assert.InDelta(t, 0.5, r.SimilarityWeight, 1e-9)
}

// =============================================================================
// ObjectSearcher
// =============================================================================

func objectTable(t *testing.T) *frame.Table {
	t.Helper()
	table, err := frame.NewTable([]*frame.Frame{
		{Key: "L01_V001_1", Detection: &frame.Detection{
			Encoded: "a0dog b1person",
			Counts:  map[frame.Category]int{"dog": 1, "person": 1},
		}},
		{Key: "L01_V001_2", Detection: &frame.Detection{
			Encoded: "a0dog",
			Counts:  map[frame.Category]int{"dog": 1},
		}},
		{Key: "L01_V001_3", Detection: &frame.Detection{
			Encoded: "a0dog b1person c2cat",
			Counts:  map[frame.Category]int{"dog": 1, "person": 1, "cat": 1},
		}},
		{Key: "L01_V001_4"},
	})
	require.NoError(t, err)
	return table
}

func newObject(t *testing.T) *ObjectSearcher {
	t.Helper()
	table := objectTable(t)
	vec, err := vectorize.NewObject(table)
	require.NoError(t, err)
	s, err := NewObjectSearcher(WithObjectVectorizer(vec), WithObjectIndex(vec.Index()), WithObjectFrames(table))
	require.NoError(t, err)
	return s
}

func dogAndPerson(logic query.Logic, maxObjects int) query.ObjectQuery {
	return query.ObjectQuery{
		Grid: map[frame.Cell]frame.Category{
			{Row: 0, Col: 'a'}: frame.CategoryDog,
			{Row: 1, Col: 'b'}: frame.CategoryPerson,
		},
		Logic:      logic,
		MaxObjects: maxObjects,
	}
}

func TestObjectSearcher_Search(t *testing.T) {
	s := newObject(t)

	tests := []struct {
		name  string
		query query.ObjectQuery
		keys  []string
	}{
		{
			name:  "OR matches any token",
			query: dogAndPerson(query.LogicOR, 0),
			keys:  []string{"L01_V001_1", "L01_V001_3", "L01_V001_2"},
		},
		{
			name:  "AND requires every token",
			query: dogAndPerson(query.LogicAND, 0),
			keys:  []string{"L01_V001_1", "L01_V001_3"},
		},
		{
			name:  "max objects drops crowded frames",
			query: dogAndPerson(query.LogicAND, 2),
			keys:  []string{"L01_V001_1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Search(context.Background(), tt.query, 1, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.keys, keys(res.Frames))
			for _, f := range res.Frames {
				assert.Greater(t, f.Score.Value, 0.0)
				assert.Contains(t, f.Score.Details, frame.ModalityObject)
			}
		})
	}
}

func TestObjectSearcher_Search_InvalidQuery(t *testing.T) {
	s := newObject(t)

	res, err := s.Search(context.Background(), query.ObjectQuery{}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Frames)

	_, err = s.Search(context.Background(), dogAndPerson(query.LogicOR, 0), -1, 10)
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeInvalidPage))
}

// =============================================================================
// TagSearcher
// =============================================================================

func newTagSearcher(t *testing.T, hits []store.SparseHit) (*TagSearcher, *mockSparse) {
	t.Helper()
	sparse := &mockSparse{hits: hits}
	vec := &mockTagVectorizer{VectorizeFn: func(context.Context, query.TagQuery) (vectorize.TagResult, error) {
		return vectorize.TagResult{Vector: store.SparseVector{0: 1}, Terms: []string{"dog"}}, nil
	}}
	s, err := NewTagSearcher(WithTagVectorizer(vec), WithTagIndex(sparse), WithTagFrames(newTable(t, 3)))
	require.NoError(t, err)
	return s, sparse
}

func TestTagSearcher_Overshoot(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		wantK int
	}{
		{"explicit overshoot", 5, 2*10 + 5},
		{"zero overshoot", 0, 2 * 10},
		{"negative keeps default", -1, 2*10 + DefaultOvershoot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sparse := &mockSparse{}
			vec := &mockTagVectorizer{VectorizeFn: func(context.Context, query.TagQuery) (vectorize.TagResult, error) {
				return vectorize.TagResult{Vector: store.SparseVector{0: 1}, Terms: []string{"dog"}}, nil
			}}
			s, err := NewTagSearcher(WithTagVectorizer(vec), WithTagIndex(sparse),
				WithTagFrames(newTable(t, 3)), WithTagOvershoot(tt.n))
			require.NoError(t, err)

			_, err = s.Search(context.Background(), query.TagQuery{Text: "dog"}, 2, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.wantK, sparse.lastK)
		})
	}
}

func TestTagSearcher_SearchWithBoost(t *testing.T) {
	tests := []struct {
		name   string
		hits   []store.SparseHit
		boosts map[string]float64
		want   []float64
	}{
		{
			name: "mass at most one is untouched",
			hits: []store.SparseHit{{Index: 0, Score: 0.3}, {Index: 1, Score: 0.2}},
			want: []float64{0.3, 0.2},
		},
		{
			name: "mass above one is rescaled",
			hits: []store.SparseHit{{Index: 0, Score: 0.9}, {Index: 1, Score: 0.6}},
			want: []float64{0.6, 0.4},
		},
		{
			name:   "boost multiplies before rescaling",
			hits:   []store.SparseHit{{Index: 0, Score: 0.8}, {Index: 1, Score: 0.1}},
			boosts: map[string]float64{"L01_V001_b": 2},
			want:   []float64{0.8, 0.2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTagSearcher(t, tt.hits)

			res, err := s.SearchWithBoost(context.Background(), query.TagQuery{Text: "dog"}, 1, 10, tt.boosts)
			require.NoError(t, err)

			require.Len(t, res.Frames, len(tt.want))
			for i, want := range tt.want {
				assert.InDelta(t, want, res.Frames[i].Score.Value, 1e-9)
			}
		})
	}
}

func TestTagSearcher_Details(t *testing.T) {
	// Given: boosted scores summing above one
	s, sparse := newTagSearcher(t, []store.SparseHit{{Index: 0, Score: 0.5}, {Index: 1, Score: 0.4}})

	// When: boosting the second frame
	res, err := s.SearchWithBoost(context.Background(), query.TagQuery{Text: "dog"}, 1, 10,
		map[string]float64{"L01_V001_b": 2})
	require.NoError(t, err)

	// Then: details keep the raw similarity and the boost
	require.Len(t, res.Frames, 2)
	top := res.Frames[0]
	assert.Equal(t, "L01_V001_b", top.Key)
	assert.InDelta(t, 0.4, top.Score.Details[frame.ModalityTag].Score, 1e-9)
	assert.InDelta(t, 2.0, top.Score.Details[frame.ModalityTag].Boost, 1e-9)
	assert.InDelta(t, 1.0, res.Frames[1].Score.Details[frame.ModalityTag].Boost, 1e-9)
	assert.InDelta(t, 1.0, res.Frames[0].Score.Value+res.Frames[1].Score.Value, 1e-9)
	assert.Equal(t, 60, sparse.lastK)
}

func TestTagSearcher_Search_Unmatched(t *testing.T) {
	vec := &mockTagVectorizer{VectorizeFn: func(context.Context, query.TagQuery) (vectorize.TagResult, error) {
		return vectorize.TagResult{}, nil
	}}
	s, err := NewTagSearcher(WithTagVectorizer(vec), WithTagIndex(&mockSparse{}), WithTagFrames(newTable(t, 1)))
	require.NoError(t, err)

	res, err := s.Search(context.Background(), query.TagQuery{Text: "volcano"}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Frames)
}

func TestBounds(t *testing.T) {
	tests := []struct {
		page, perPage, n int
		start, end       int
	}{
		{1, 10, 5, 0, 5},
		{2, 2, 5, 2, 4},
		{3, 2, 5, 4, 5},
		{9, 2, 5, 5, 5},
	}
	for _, tt := range tests {
		start, end := Bounds(tt.page, tt.perPage, tt.n)
		assert.Equal(t, tt.start, start)
		assert.Equal(t, tt.end, end)
	}
}
