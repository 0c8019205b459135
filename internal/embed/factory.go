package embed

import (
	"fmt"
	"strings"
	"time"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderStatic is the offline hash embedder.
	ProviderStatic ProviderType = "static"

	// ProviderOpenAI is any OpenAI-compatible embeddings endpoint.
	ProviderOpenAI ProviderType = "openai"
)

// ParseProvider maps a config string to a provider. Empty selects static.
func ParseProvider(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ProviderStatic):
		return ProviderStatic, nil
	case string(ProviderOpenAI), "ollama":
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown embedder %q (valid: static, openai)", s)
	}
}

// Options configures NewEmbedder.
type Options struct {
	Provider   ProviderType
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	// CacheSize is the query cache size; negative disables caching.
	CacheSize int
}

// NewEmbedder builds the configured embedder, wrapped in a CachedEmbedder
// unless CacheSize is negative.
func NewEmbedder(opts Options) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)
	switch opts.Provider {
	case ProviderStatic, "":
		embedder = NewStaticEmbedder(opts.Dimensions)
	case ProviderOpenAI:
		embedder, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    opts.BaseURL,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			Timeout:    opts.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedder %q", opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize >= 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}
