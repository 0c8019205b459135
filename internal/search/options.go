package search

import (
	"io"

	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/telemetry"
	"github.com/framescope/framescope/pkg/searcher"
)

// MetricsRecorder receives one event per search.
type MetricsRecorder interface {
	Record(event telemetry.QueryEvent)
}

// Option configures the search service.
type Option func(*Service)

// WithTextSearcher sets the text modality searcher.
func WithTextSearcher(s searcher.Searcher[query.TextQuery]) Option {
	return func(svc *Service) { svc.text = s }
}

// WithObjectSearcher sets the object-position modality searcher.
func WithObjectSearcher(s searcher.Searcher[query.ObjectQuery]) Option {
	return func(svc *Service) { svc.object = s }
}

// WithTagSearcher sets the tag modality searcher.
func WithTagSearcher(s searcher.Searcher[query.TagQuery]) Option {
	return func(svc *Service) { svc.tag = s }
}

// WithReranker replaces the default SimpleReranker.
func WithReranker(r Reranker) Option {
	return func(svc *Service) {
		if r != nil {
			svc.reranker = r
		}
	}
}

// WithMetrics sets an optional telemetry recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(svc *Service) { svc.metrics = m }
}

// WithCloser registers a resource released by Close, such as an index or
// a scorer.
func WithCloser(c io.Closer) Option {
	return func(svc *Service) {
		if c != nil {
			svc.closers = append(svc.closers, c)
		}
	}
}
