package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/framescope/framescope/internal/config"
	"github.com/framescope/framescope/internal/embed"
	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/nlp"
	"github.com/framescope/framescope/internal/search"
	"github.com/framescope/framescope/internal/selection"
	"github.com/framescope/framescope/internal/store"
	"github.com/framescope/framescope/internal/telemetry"
	"github.com/framescope/framescope/internal/vectorize"
	"github.com/framescope/framescope/pkg/searcher"
)

// engine is the assembled search stack shared by the commands.
type engine struct {
	cfg      *config.Config
	table    *frame.Table
	embedder embed.Embedder

	// index is nil when no dense index has been built.
	index     store.DenseIndex
	indexInfo store.IndexInfo

	search    *search.Service
	selection *selection.Service
	metrics   *telemetry.QueryMetrics

	closers []func() error
}

type engineOptions struct {
	// telemetry records searches to the local metrics database.
	telemetry bool

	// exporter also receives every search event.
	exporter *telemetry.PrometheusExporter
}

// loadConfig loads the configuration for the --config directory.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fserrors.ConfigError("failed to load configuration", err)
	}
	return cfg, nil
}

// openEngine loads the frame table and wires searchers, reranker, telemetry
// and selections. Text search is left out when no dense index is usable.
func openEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (_ *engine, err error) {
	e := &engine{cfg: cfg}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	e.table, err = frame.Load(cfg.Paths.MetadataDir, cfg.LoadOptions())
	if err != nil {
		return nil, err
	}

	analyzer, err := nlp.NewAnalyzer()
	if err != nil {
		return nil, err
	}

	embedOpts, err := cfg.EmbedOptions()
	if err != nil {
		return nil, fserrors.ConfigError("invalid embeddings configuration", err)
	}
	e.embedder, err = embed.NewEmbedder(embedOpts)
	if err != nil {
		return nil, fserrors.VectorizerFailed("failed to create embedder", err)
	}
	e.closers = append(e.closers, e.embedder.Close)

	var svcOpts []search.Option

	objectVec, err := vectorize.NewObject(e.table)
	if err != nil {
		return nil, err
	}
	objectSearcher, err := searcher.NewObjectSearcher(
		searcher.WithObjectVectorizer(objectVec),
		searcher.WithObjectIndex(objectVec.Index()),
		searcher.WithObjectFrames(e.table),
		searcher.WithObjectOvershoot(cfg.Search.Overshoot),
	)
	if err != nil {
		return nil, err
	}
	svcOpts = append(svcOpts, search.WithObjectSearcher(objectSearcher))

	tagVec, err := vectorize.NewTag(e.table, analyzer, analyzer)
	if err != nil {
		return nil, err
	}
	tagSearcher, err := searcher.NewTagSearcher(
		searcher.WithTagVectorizer(tagVec),
		searcher.WithTagIndex(tagVec.Index()),
		searcher.WithTagFrames(e.table),
		searcher.WithTagOvershoot(cfg.Search.Overshoot),
	)
	if err != nil {
		return nil, err
	}
	svcOpts = append(svcOpts, search.WithTagSearcher(tagSearcher))

	textOpt, err := e.openTextSearch(ctx, analyzer)
	if err != nil {
		return nil, err
	}
	if textOpt != nil {
		svcOpts = append(svcOpts, textOpt)
	}

	reranker, closer := newReranker(ctx, cfg, e.embedder)
	svcOpts = append(svcOpts, search.WithReranker(reranker))
	if closer != nil {
		svcOpts = append(svcOpts, search.WithCloser(closer))
	}

	var recorders telemetry.Multi
	if opts.telemetry && cfg.Telemetry.Enabled {
		if m, err := e.openMetrics(); err != nil {
			slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		} else {
			recorders = append(recorders, m)
		}
	}
	if opts.exporter != nil {
		recorders = append(recorders, opts.exporter)
	}
	if len(recorders) > 0 {
		svcOpts = append(svcOpts, search.WithMetrics(recorders))
	}

	e.search, err = search.NewService(cfg.SearchConfig(), svcOpts...)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, e.search.Close)

	selStore, err := store.NewSelectionStore(cfg.Selection.Backend, cfg.SelectionPath())
	if err != nil {
		return nil, fserrors.New(fserrors.ErrCodeSelectionStore, "failed to open selection store", err)
	}
	e.closers = append(e.closers, selStore.Close)
	e.selection, err = selection.NewService(selStore, e.table)
	if err != nil {
		return nil, err
	}

	slog.Info("engine_ready",
		slog.Int("frames", e.table.Len()),
		slog.Bool("text", e.search.Supports(frame.ModalityText)),
		slog.String("reranker", cfg.Reranker.Type),
		slog.String("embedder", e.embedder.ModelName()))
	return e, nil
}

// openTextSearch returns the text searcher option, or nil when the dense
// index is missing or was built for another embedding width.
func (e *engine) openTextSearch(ctx context.Context, analyzer *nlp.Analyzer) (search.Option, error) {
	idx, info, err := openDenseIndex(ctx, e.cfg)
	e.indexInfo = info
	if err != nil {
		slog.Warn("text_search_unavailable", slog.String("error", err.Error()))
		return nil, nil
	}
	if idx.Dimensions() != e.embedder.Dimensions() {
		slog.Warn("text_search_unavailable",
			slog.String("error", store.ErrDimensionMismatch{Expected: idx.Dimensions(), Got: e.embedder.Dimensions()}.Error()))
		_ = idx.Close()
		return nil, nil
	}
	e.index = idx

	textVec, err := vectorize.NewText(analyzer, e.embedder)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	opts := []searcher.TextOption{
		searcher.WithTextVectorizer(textVec),
		searcher.WithDenseIndex(idx),
		searcher.WithTextFrames(e.table),
		searcher.WithTextOvershoot(e.cfg.Search.Overshoot),
	}
	if r := e.cfg.Refinement(); r != nil {
		opts = append(opts, searcher.WithRefinement(*r))
	}
	textSearcher, err := searcher.NewTextSearcher(opts...)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	e.closers = append(e.closers, idx.Close)
	return search.WithTextSearcher(textSearcher), nil
}

func (e *engine) openMetrics() (*telemetry.QueryMetrics, error) {
	metricsStore, err := telemetry.OpenSQLiteMetricsStore(e.cfg.TelemetryPath())
	if err != nil {
		return nil, err
	}
	e.metrics = telemetry.NewQueryMetrics(metricsStore, e.cfg.TelemetryConfig())
	// flush before the store is closed
	e.closers = append(e.closers, metricsStore.Close, e.metrics.Close)
	return e.metrics, nil
}

// connectPGVector retries the initial connection, which fails while a
// freshly started database is still accepting connections.
func connectPGVector(ctx context.Context, cfg *config.Config) (*store.PGVectorIndex, error) {
	policy := fserrors.DefaultRetryConfig()
	policy.Jitter = true
	policy.RetryIf = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return fserrors.RetryWithResult(ctx, policy, func() (*store.PGVectorIndex, error) {
		return store.NewPGVectorIndex(ctx, cfg.PGVectorConfig())
	})
}

// openDenseIndex opens the built index of the configured backend.
func openDenseIndex(ctx context.Context, cfg *config.Config) (store.DenseIndex, store.IndexInfo, error) {
	switch cfg.Index.Backend {
	case config.BackendPGVector:
		idx, err := connectPGVector(ctx, cfg)
		if err != nil {
			return nil, store.IndexInfo{Backend: config.BackendPGVector, Location: cfg.Index.PGTable},
				fserrors.IndexUnavailable("failed to connect to pgvector", err)
		}
		info := idx.Info()
		if idx.Len() == 0 {
			_ = idx.Close()
			return nil, info, fserrors.IndexUnavailable("pgvector table is empty", nil)
		}
		return idx, info, nil
	default:
		path := cfg.HNSWPath()
		info := store.IndexInfo{Backend: config.BackendHNSW, Location: path, Metric: cfg.Index.Metric}
		if _, err := os.Stat(path); err != nil {
			return nil, info, fserrors.IndexUnavailable("no text index found at "+path, err)
		}
		idx, err := store.OpenHNSWIndex(path)
		if err != nil {
			return nil, info, fserrors.New(fserrors.ErrCodeIndexCorrupt, "failed to load text index", err)
		}
		return idx, idx.Info(path), nil
	}
}

// newReranker builds the configured reranker. Backends that cannot start
// fall back to the fused order.
func newReranker(ctx context.Context, cfg *config.Config, embedder embed.Embedder) (search.Reranker, search.Scorer) {
	switch cfg.Reranker.Type {
	case config.RerankerEmbedding:
		scorer := search.NewEmbeddingScorer(embedder)
		return search.NewSemanticReranker(scorer), nil
	case config.RerankerCrossEncoder:
		scorer, err := search.NewCrossEncoderScorer(ctx, cfg.CrossEncoderConfig())
		if err != nil {
			slog.Warn("reranker_unavailable",
				slog.String("type", cfg.Reranker.Type),
				slog.String("error", err.Error()))
			return search.SimpleReranker{}, nil
		}
		return search.NewSemanticReranker(scorer), scorer
	default:
		return search.SimpleReranker{}, nil
	}
}

// Close releases everything in reverse order of acquisition.
func (e *engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}
