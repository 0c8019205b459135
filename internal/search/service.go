package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/telemetry"
	"github.com/framescope/framescope/pkg/searcher"
)

// ErrNilDependency is returned when the service has no searcher at all.
var ErrNilDependency = errors.New("nil dependency")

// Service runs the active modality searchers concurrently, fuses their
// results, reranks and paginates. It holds no per-request state.
type Service struct {
	text     searcher.Searcher[query.TextQuery]
	object   searcher.Searcher[query.ObjectQuery]
	tag      searcher.Searcher[query.TagQuery]
	fusion   *Fusion
	reranker Reranker
	metrics  MetricsRecorder
	config   Config
	closers  []io.Closer

	closeOnce sync.Once
}

// NewService creates a search service. At least one searcher is required.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	cfg = cfg.withDefaults()
	s := &Service{
		config:   cfg,
		fusion:   NewFusionWithK(cfg.RRFConstant),
		reranker: SimpleReranker{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.text == nil && s.object == nil && s.tag == nil {
		return nil, fmt.Errorf("%w: at least one searcher is required", ErrNilDependency)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// Supports reports whether a searcher is configured for the modality.
func (s *Service) Supports(m frame.Modality) bool {
	switch m {
	case frame.ModalityText:
		return s.text != nil
	case frame.ModalityObject:
		return s.object != nil
	case frame.ModalityTag:
		return s.tag != nil
	}
	return false
}

// Search returns one page of the fused, reranked ranking.
//
// Every active modality is searched with depth page*perPage so that RRF
// ranks stay stable as the caller pages forward. A structure with no
// active modality yields an empty result. Any modality, fusion or rerank
// failure is returned as ERR_503_SEARCH_FAILED wrapping the cause.
// perPage 0 selects the configured default; larger values are capped.
// has_more is true when the fused list extends past this page, or when
// the page ends the list and a modality returned a full page of its own.
func (s *Service) Search(ctx context.Context, qs query.Structure, page, perPage int) (*searcher.SearchResult, error) {
	start := time.Now()

	perPage, err := s.checkPage(page, perPage)
	if err != nil {
		return nil, err
	}
	if qs.Empty() {
		return searcher.Empty(page, perPage), nil
	}

	slog.Debug("search_started",
		slog.String("modalities", qs.Describe()),
		slog.Int("page", page),
		slog.Int("per_page", perPage))

	results, err := s.dispatch(ctx, qs, page*perPage)
	if err != nil {
		return nil, s.fail(ctx, qs, page, perPage, start, err)
	}

	merged := s.fusion.Merge(results, qs)
	ordered, err := s.reranker.Rerank(ctx, merged, qs)
	if err != nil {
		return nil, s.fail(ctx, qs, page, perPage, start, err)
	}

	lo, hi := searcher.Bounds(page, perPage, len(ordered))
	frames := make([]*frame.Frame, hi-lo)
	copy(frames, ordered[lo:hi])

	result := &searcher.SearchResult{
		Frames:  frames,
		Total:   len(ordered),
		Page:    page,
		PerPage: perPage,
		HasMore: hi < len(ordered) || (hi > lo && hi == len(ordered) && anyFull(results)),
	}

	latency := time.Since(start)
	s.record(qs, result.Total, latency, false)
	slog.Info("search_complete",
		slog.String("modalities", qs.Describe()),
		slog.Int("page", page),
		slog.Int("per_page", perPage),
		slog.Int("total", result.Total),
		slog.Int("returned", len(frames)),
		slog.Duration("latency", latency))
	return result, nil
}

// Explain searches like Search but returns the per-modality breakdown
// merged with LateFusion instead of a ranked page.
func (s *Service) Explain(ctx context.Context, qs query.Structure, page, perPage int) (*Explanation, error) {
	perPage, err := s.checkPage(page, perPage)
	if err != nil {
		return nil, err
	}

	exp := &Explanation{
		Modalities:  qs.Active(),
		Counts:      make(map[frame.Modality]int),
		Weights:     qs.Weights().Normalize(),
		RRFConstant: s.fusion.K,
		Frames:      map[string]*frame.Frame{},
	}
	if qs.Empty() {
		return exp, nil
	}

	results, err := s.dispatch(ctx, qs, page*perPage)
	if err != nil {
		return nil, fserrors.SearchFailed(err)
	}
	for m, r := range results {
		exp.Counts[m] = len(r.Frames)
	}
	exp.Frames = LateFusion{}.Merge(results)
	return exp, nil
}

// dispatch fans out one search per active modality and waits for all.
// Each searcher is asked for page 1 of size depth.
func (s *Service) dispatch(ctx context.Context, qs query.Structure, depth int) (map[frame.Modality]*searcher.SearchResult, error) {
	for _, m := range qs.Active() {
		if !s.Supports(m) {
			return nil, fserrors.New(fserrors.ErrCodeIndexUnavailable,
				fmt.Sprintf("no searcher configured for %s queries", m), nil)
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[frame.Modality]*searcher.SearchResult, 3)
	)
	put := func(m frame.Modality, r *searcher.SearchResult) {
		mu.Lock()
		results[m] = r
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if qs.Text != nil {
		q := qs.Text.Query
		g.Go(func() error {
			r, err := s.text.Search(gctx, q, 1, depth)
			if err != nil {
				return fmt.Errorf("text search: %w", err)
			}
			put(frame.ModalityText, r)
			return nil
		})
	}
	if qs.Object != nil {
		q := qs.Object.Query
		g.Go(func() error {
			r, err := s.object.Search(gctx, q, 1, depth)
			if err != nil {
				return fmt.Errorf("object search: %w", err)
			}
			put(frame.ModalityObject, r)
			return nil
		})
	}
	if qs.Tag != nil {
		q := qs.Tag.Query
		g.Go(func() error {
			r, err := s.tag.Search(gctx, q, 1, depth)
			if err != nil {
				return fmt.Errorf("tag search: %w", err)
			}
			put(frame.ModalityTag, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// anyFull reports whether some modality filled its whole requested depth,
// so deeper pages may still hold candidates.
func anyFull(results map[frame.Modality]*searcher.SearchResult) bool {
	for _, r := range results {
		if r.HasMore {
			return true
		}
	}
	return false
}

func (s *Service) checkPage(page, perPage int) (int, error) {
	if perPage == 0 {
		perPage = s.config.DefaultPerPage
	}
	if page < 1 || perPage < 1 {
		return 0, fserrors.New(fserrors.ErrCodeInvalidPage,
			fmt.Sprintf("page and per_page must be >= 1, got %d and %d", page, perPage), nil)
	}
	if perPage > s.config.MaxPerPage {
		perPage = s.config.MaxPerPage
	}
	if page > s.config.MaxDepth/perPage {
		return 0, fserrors.New(fserrors.ErrCodeInvalidPage,
			fmt.Sprintf("page %d is too deep: page*per_page must not exceed %d", page, s.config.MaxDepth), nil)
	}
	return perPage, nil
}

// fail logs err with the query context and wraps it as a search failure.
func (s *Service) fail(ctx context.Context, qs query.Structure, page, perPage int, start time.Time, err error) error {
	wrapped := fserrors.SearchFailed(err)
	attrs := append([]slog.Attr{
		slog.String("modalities", qs.Describe()),
		slog.String("query", qs.RerankText()),
		slog.Int("page", page),
		slog.Int("per_page", perPage),
	}, fserrors.LogAttrs(wrapped)...)
	slog.LogAttrs(ctx, slog.LevelError, "search_failed", attrs...)
	s.record(qs, 0, time.Since(start), true)
	return wrapped
}

func (s *Service) record(qs query.Structure, results int, latency time.Duration, failed bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(telemetry.QueryEvent{
		Query:       qs.RerankText(),
		QueryType:   telemetry.QueryType(qs.Describe()),
		ResultCount: results,
		Latency:     latency,
		Timestamp:   time.Now(),
		Failed:      failed,
	})
}

// Close releases registered resources. Safe to call more than once.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
