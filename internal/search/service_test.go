package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/telemetry"
	"github.com/framescope/framescope/pkg/searcher"
)

// =============================================================================
// Mocks
// =============================================================================

type mockSearcher[Q query.Query] struct {
	SearchFn func(ctx context.Context, q Q, page, perPage int) (*searcher.SearchResult, error)
	calls    atomic.Int32
	lastPage atomic.Int32
	lastSize atomic.Int32
}

func (m *mockSearcher[Q]) Search(ctx context.Context, q Q, page, perPage int) (*searcher.SearchResult, error) {
	m.calls.Add(1)
	m.lastPage.Store(int32(page))
	m.lastSize.Store(int32(perPage))
	return m.SearchFn(ctx, q, page, perPage)
}

// ranked serves the first perPage of a fixed ranking with descending scores.
func ranked[Q query.Query](m frame.Modality, keys ...string) *mockSearcher[Q] {
	return &mockSearcher[Q]{SearchFn: func(_ context.Context, _ Q, _ int, perPage int) (*searcher.SearchResult, error) {
		n := min(perPage, len(keys))
		frames := make([]*frame.Frame, n)
		for i := 0; i < n; i++ {
			f := &frame.Frame{Key: keys[i], Index: i}
			f.SetScore(m, 1-float64(i)/float64(len(keys)), frame.Contribution{})
			frames[i] = f
		}
		return &searcher.SearchResult{
			Frames:  frames,
			Total:   len(keys),
			Page:    1,
			PerPage: perPage,
			HasMore: n == perPage,
		}, nil
	}}
}

func failing[Q query.Query](err error) *mockSearcher[Q] {
	return &mockSearcher[Q]{SearchFn: func(context.Context, Q, int, int) (*searcher.SearchResult, error) {
		return nil, err
	}}
}

type mockRecorder struct {
	mu     sync.Mutex
	events []telemetry.QueryEvent
}

func (m *mockRecorder) Record(e telemetry.QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

type mockReranker struct {
	RerankFn func(ctx context.Context, merged map[string]*frame.Frame, qs query.Structure) ([]*frame.Frame, error)
}

func (m *mockReranker) Rerank(ctx context.Context, merged map[string]*frame.Frame, qs query.Structure) ([]*frame.Frame, error) {
	return m.RerankFn(ctx, merged, qs)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var sevenKeys = []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7"}

func textOnly(t *testing.T, opts ...Option) (*Service, *mockSearcher[query.TextQuery]) {
	t.Helper()
	text := ranked[query.TextQuery](frame.ModalityText, sevenKeys...)
	svc, err := NewService(DefaultConfig(), append([]Option{WithTextSearcher(text)}, opts...)...)
	require.NoError(t, err)
	return svc, text
}

// =============================================================================
// Tests
// =============================================================================

func TestNewService_RequiresSearcher(t *testing.T) {
	_, err := NewService(DefaultConfig())
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestNewService_AppliesDefaults(t *testing.T) {
	svc, err := NewService(Config{}, WithTextSearcher(ranked[query.TextQuery](frame.ModalityText)))
	require.NoError(t, err)

	cfg := svc.Config()
	assert.Equal(t, 20, cfg.DefaultPerPage)
	assert.Equal(t, 100, cfg.MaxPerPage)
	assert.InDelta(t, 60.0, cfg.RRFConstant, 1e-9)
}

func TestService_Search_EmptyStructure(t *testing.T) {
	svc, text := textOnly(t)

	res, err := svc.Search(context.Background(), query.Structure{}, 1, 10)

	require.NoError(t, err)
	assert.Empty(t, res.Frames)
	assert.Zero(t, res.Total)
	assert.False(t, res.HasMore)
	assert.Equal(t, int32(0), text.calls.Load())
}

func TestService_Search_RequestsCumulativeDepth(t *testing.T) {
	svc, text := textOnly(t)

	_, err := svc.Search(context.Background(), structure(1, -1, -1), 3, 4)
	require.NoError(t, err)

	assert.Equal(t, int32(1), text.lastPage.Load())
	assert.Equal(t, int32(12), text.lastSize.Load())
}

func TestService_Search_PagesAreContiguous(t *testing.T) {
	svc, _ := textOnly(t)
	ctx := context.Background()
	qs := structure(1, -1, -1)

	// Given: the first two pages of three and a single page of six
	p1, err := svc.Search(ctx, qs, 1, 3)
	require.NoError(t, err)
	p2, err := svc.Search(ctx, qs, 2, 3)
	require.NoError(t, err)
	both, err := svc.Search(ctx, qs, 1, 6)
	require.NoError(t, err)

	// Then: the pages are disjoint and concatenate to the direct slice
	got := append(keysOf(p1.Frames), keysOf(p2.Frames)...)
	assert.Equal(t, keysOf(both.Frames), got)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keysOf(p1.Frames))
	assert.Equal(t, []string{"k4", "k5", "k6"}, keysOf(p2.Frames))
}

// A single modality fetched at depth page*per_page can never return more
// than the page end, so has_more also holds when the page ends the fused
// list and a modality filled its own depth.
func TestService_Search_HasMore(t *testing.T) {
	svc, _ := textOnly(t)
	qs := structure(1, -1, -1)

	tests := []struct {
		name    string
		page    int
		total   int
		frames  int
		hasMore bool
	}{
		{"page ends list but modality filled its depth", 1, 3, 3, true},
		{"page ends list but modality filled its depth again", 2, 6, 3, true},
		{"modality returned short so list is exhausted", 3, 7, 1, false},
		{"empty page past the end", 4, 7, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Search(context.Background(), qs, tt.page, 3)
			require.NoError(t, err)

			assert.Equal(t, tt.total, res.Total)
			assert.Len(t, res.Frames, tt.frames)
			assert.Equal(t, tt.hasMore, res.HasMore)
			assert.Equal(t, tt.page, res.Page)
			assert.Equal(t, 3, res.PerPage)
		})
	}
}

func TestService_Search_HasMore_FusedTail(t *testing.T) {
	// Given: two modalities that each return fewer frames than requested
	text := ranked[query.TextQuery](frame.ModalityText, "a", "b")
	object := ranked[query.ObjectQuery](frame.ModalityObject, "c", "d")
	svc, err := NewService(DefaultConfig(), WithTextSearcher(text), WithObjectSearcher(object))
	require.NoError(t, err)
	qs := structure(0.5, 0.5, -1)

	// When: the first page stops short of the fused list
	first, err := svc.Search(context.Background(), qs, 1, 3)
	require.NoError(t, err)

	// Then: has_more comes from the fused tail alone
	assert.Equal(t, 4, first.Total)
	assert.True(t, first.HasMore)

	// When: the second page reaches the end
	second, err := svc.Search(context.Background(), qs, 2, 3)
	require.NoError(t, err)

	// Then: neither the list nor any modality has more
	assert.Len(t, second.Frames, 1)
	assert.False(t, second.HasMore)
}

func TestService_Search_FusesModalities(t *testing.T) {
	// Given: text and object searchers disagreeing on order
	text := ranked[query.TextQuery](frame.ModalityText, "a", "b", "c")
	object := ranked[query.ObjectQuery](frame.ModalityObject, "c", "d")
	svc, err := NewService(DefaultConfig(), WithTextSearcher(text), WithObjectSearcher(object))
	require.NoError(t, err)

	// When: searching both
	res, err := svc.Search(context.Background(), structure(0.5, 0.5, -1), 1, 10)
	require.NoError(t, err)

	// Then: the shared frame is merged once with both contributions
	assert.Equal(t, 4, res.Total)
	byKey := make(map[string]*frame.Frame)
	for _, f := range res.Frames {
		byKey[f.Key] = f
	}
	require.Contains(t, byKey, "c")
	assert.Len(t, byKey["c"].Score.Details, 2)
	assert.InDelta(t, 1.0, res.Frames[0].FinalScore, 1e-12)
}

func TestService_Search_RunsModalitiesConcurrently(t *testing.T) {
	// Given: two searchers that each wait for the other to start
	var started sync.WaitGroup
	started.Add(2)
	barrier := func() error {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("searchers ran sequentially")
		}
	}
	text := &mockSearcher[query.TextQuery]{SearchFn: func(context.Context, query.TextQuery, int, int) (*searcher.SearchResult, error) {
		return searcher.Empty(1, 1), barrier()
	}}
	tag := &mockSearcher[query.TagQuery]{SearchFn: func(context.Context, query.TagQuery, int, int) (*searcher.SearchResult, error) {
		return searcher.Empty(1, 1), barrier()
	}}
	svc, err := NewService(DefaultConfig(), WithTextSearcher(text), WithTagSearcher(tag))
	require.NoError(t, err)

	// When: searching both modalities
	res, err := svc.Search(context.Background(), structure(0.5, -1, 0.5), 1, 10)

	// Then: both ran at once and nothing matched
	require.NoError(t, err)
	assert.Empty(t, res.Frames)
}

func TestService_Search_Failures(t *testing.T) {
	cause := fserrors.VectorizerFailed("embed failed", errors.New("503"))

	tests := []struct {
		name string
		opts []Option
		qs   query.Structure
	}{
		{
			name: "modality error",
			opts: []Option{
				WithTextSearcher(ranked[query.TextQuery](frame.ModalityText, "a")),
				WithTagSearcher(failing[query.TagQuery](cause)),
			},
			qs: structure(0.5, -1, 0.5),
		},
		{
			name: "missing searcher",
			opts: []Option{WithTextSearcher(ranked[query.TextQuery](frame.ModalityText, "a"))},
			qs:   structure(0.5, 0.5, -1),
		},
		{
			name: "reranker error",
			opts: []Option{
				WithTextSearcher(ranked[query.TextQuery](frame.ModalityText, "a")),
				WithReranker(&mockReranker{RerankFn: func(context.Context, map[string]*frame.Frame, query.Structure) ([]*frame.Frame, error) {
					return nil, fmt.Errorf("boom")
				}}),
			},
			qs: structure(1, -1, -1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			svc, err := NewService(DefaultConfig(), append(tt.opts, WithMetrics(rec))...)
			require.NoError(t, err)

			res, err := svc.Search(context.Background(), tt.qs, 1, 10)

			assert.Nil(t, res)
			assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeSearchFailed))
			require.Len(t, rec.events, 1)
			assert.True(t, rec.events[0].Failed)
		})
	}
}

func TestService_Search_WrapsCause(t *testing.T) {
	cause := fserrors.VectorizerFailed("embed failed", errors.New("503"))
	svc, err := NewService(DefaultConfig(), WithTextSearcher(failing[query.TextQuery](cause)))
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), structure(1, -1, -1), 1, 10)

	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeSearchFailed))
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeVectorizerFailed))
}

func TestService_Search_PageValidation(t *testing.T) {
	svc, text := textOnly(t)
	ctx := context.Background()
	qs := structure(1, -1, -1)

	_, err := svc.Search(ctx, qs, 0, 10)
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeInvalidPage))

	_, err = svc.Search(ctx, qs, 1, -1)
	assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeInvalidPage))

	res, err := svc.Search(ctx, qs, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, res.PerPage)

	res, err = svc.Search(ctx, qs, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, res.PerPage)
	assert.Equal(t, int32(100), text.lastSize.Load())
}

func TestService_Search_RejectsDeepPages(t *testing.T) {
	tests := []struct {
		name    string
		page    int
		perPage int
		wantErr bool
	}{
		{"at the depth limit", 500, 20, false},
		{"one page past the limit", 501, 20, true},
		{"absurd page", 10_000_000, 20, true},
		{"absurd page at max per_page", 10_000_000, 1000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a service with the default depth limit of 10000
			svc, text := textOnly(t)

			// When: requesting a page
			_, err := svc.Search(context.Background(), structure(1, -1, -1), tt.page, tt.perPage)

			// Then: pages deeper than the limit never reach a searcher
			if tt.wantErr {
				assert.ErrorIs(t, err, fserrors.Code(fserrors.ErrCodeInvalidPage))
				assert.Zero(t, text.calls.Load())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int32(10_000), text.lastSize.Load())
		})
	}
}

func TestConfig_WithDefaults_MaxDepth(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 10_000, cfg.MaxDepth)

	cfg = Config{MaxDepth: 40}.withDefaults()
	assert.Equal(t, 40, cfg.MaxDepth)
}

func TestService_Search_RecordsMetrics(t *testing.T) {
	rec := &mockRecorder{}
	svc, _ := textOnly(t, WithMetrics(rec))

	_, err := svc.Search(context.Background(), structure(1, -1, -1), 1, 5)
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	e := rec.events[0]
	assert.Equal(t, telemetry.QueryType("text"), e.QueryType)
	assert.Equal(t, "cat", e.Query)
	assert.Equal(t, 5, e.ResultCount)
	assert.False(t, e.Failed)
}

func TestService_Explain(t *testing.T) {
	text := ranked[query.TextQuery](frame.ModalityText, "a", "b")
	tag := ranked[query.TagQuery](frame.ModalityTag, "b")
	svc, err := NewService(DefaultConfig(), WithTextSearcher(text), WithTagSearcher(tag))
	require.NoError(t, err)

	exp, err := svc.Explain(context.Background(), structure(0.3, -1, 0.1), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, []frame.Modality{frame.ModalityText, frame.ModalityTag}, exp.Modalities)
	assert.Equal(t, 2, exp.Counts[frame.ModalityText])
	assert.Equal(t, 1, exp.Counts[frame.ModalityTag])
	assert.InDelta(t, 0.75, exp.Weights.Text, 1e-9)
	assert.InDelta(t, 0.25, exp.Weights.Tag, 1e-9)
	require.Len(t, exp.Frames, 2)
	assert.Len(t, exp.Frames["b"].Score.Details, 2)
}

func TestService_Close(t *testing.T) {
	var closed atomic.Int32
	c := closerFunc(func() error { closed.Add(1); return errors.New("already closed") })
	svc, _ := textOnly(t, WithCloser(c))

	assert.Error(t, svc.Close())
	assert.NoError(t, svc.Close())
	assert.Equal(t, int32(1), closed.Load())
}
