package config

import (
	"time"

	"github.com/framescope/framescope/internal/embed"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/search"
	"github.com/framescope/framescope/internal/session"
	"github.com/framescope/framescope/internal/store"
	"github.com/framescope/framescope/internal/telemetry"
	"github.com/framescope/framescope/pkg/searcher"
)

// Weights returns the configured default modality weights.
func (c *Config) Weights() query.Weights {
	return query.Weights{
		Text:   c.Search.TextWeight,
		Object: c.Search.ObjectWeight,
		Tag:    c.Search.TagWeight,
	}
}

// SearchConfig returns the search service configuration.
func (c *Config) SearchConfig() search.Config {
	return search.Config{
		DefaultPerPage: c.Search.DefaultPerPage,
		MaxPerPage:     c.Search.MaxPerPage,
		MaxDepth:       c.Search.MaxDepth,
		RRFConstant:    c.Search.RRFConstant,
		DefaultWeights: c.Weights(),
	}
}

// Refinement returns the text refinement settings, or nil when disabled.
func (c *Config) Refinement() *searcher.Refinement {
	if !c.Search.Refinement.Enabled {
		return nil
	}
	return &searcher.Refinement{
		Neighbors:        c.Search.Refinement.Neighbors,
		SimilarityWeight: c.Search.Refinement.SimilarityWeight,
	}
}

// EmbedOptions returns the embedder options.
func (c *Config) EmbedOptions() (embed.Options, error) {
	provider, err := embed.ParseProvider(c.Embeddings.Provider)
	if err != nil {
		return embed.Options{}, err
	}
	return embed.Options{
		Provider:   provider,
		Model:      c.Embeddings.Model,
		BaseURL:    c.Embeddings.BaseURL,
		APIKey:     c.Embeddings.APIKey,
		Dimensions: c.Embeddings.Dimensions,
		BatchSize:  c.Embeddings.BatchSize,
		Timeout:    Duration(c.Embeddings.Timeout, 30*time.Second),
		CacheSize:  c.Embeddings.CacheSize,
	}, nil
}

// DenseIndexConfig returns the HNSW configuration.
func (c *Config) DenseIndexConfig() store.DenseIndexConfig {
	cfg := store.DefaultDenseIndexConfig(c.Embeddings.Dimensions)
	cfg.Metric = c.Index.Metric
	if c.Index.M > 0 {
		cfg.M = c.Index.M
	}
	if c.Index.EfSearch > 0 {
		cfg.EfSearch = c.Index.EfSearch
	}
	return cfg
}

// PGVectorConfig returns the pgvector configuration.
func (c *Config) PGVectorConfig() store.PGVectorConfig {
	return store.PGVectorConfig{
		DSN:        c.Index.PGDSN,
		Table:      c.Index.PGTable,
		Dimensions: c.Embeddings.Dimensions,
		Metric:     c.Index.Metric,
	}
}

// CrossEncoderConfig returns the remote reranker configuration.
func (c *Config) CrossEncoderConfig() search.CrossEncoderConfig {
	return search.CrossEncoderConfig{
		Endpoint:     c.Reranker.Endpoint,
		Model:        c.Reranker.Model,
		Timeout:      Duration(c.Reranker.Timeout, 10*time.Second),
		MaxFailures:  c.Reranker.MaxFailures,
		ResetTimeout: Duration(c.Reranker.ResetTimeout, 30*time.Second),
	}
}

// TelemetryConfig returns the query metrics configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		TopTermsCapacity:    c.Telemetry.TopTerms,
		ZeroResultsCapacity: c.Telemetry.ZeroResults,
		FlushInterval:       Duration(c.Telemetry.FlushInterval, time.Minute),
	}
}

// LoadOptions returns the metadata loader options.
func (c *Config) LoadOptions() frame.LoadOptions {
	return frame.LoadOptions{
		FrameWidth:      c.Frames.Width,
		FrameHeight:     c.Frames.Height,
		KeyframesPrefix: c.Frames.KeyframesPrefix,
		VideosPrefix:    c.Frames.VideosPrefix,
	}
}

// SessionConfig returns the session manager configuration.
func (c *Config) SessionConfig() session.ManagerConfig {
	return session.ManagerConfig{
		StoragePath:    c.Sessions.StoragePath,
		MaxSessions:    c.Sessions.MaxSessions,
		DefaultWeights: c.Weights(),
	}
}
