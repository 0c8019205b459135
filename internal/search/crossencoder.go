package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	fserrors "github.com/framescope/framescope/internal/errors"
)

// Cross-encoder defaults
const (
	DefaultCrossEncoderTimeout = 30 * time.Second
	DefaultCrossEncoderModel   = "cross-encoder/ms-marco-MiniLM-L-6-v2"
)

// CrossEncoderConfig configures a remote cross-encoder.
type CrossEncoderConfig struct {
	// Endpoint is the server base URL; requests go to {Endpoint}/rerank.
	Endpoint string

	Model   string
	Timeout time.Duration

	// MaxFailures consecutive errors open the circuit for ResetTimeout.
	MaxFailures  int
	ResetTimeout time.Duration

	// SkipHealthCheck skips the GET {Endpoint}/health probe on creation.
	SkipHealthCheck bool
}

// CrossEncoderScorer scores query/document pairs with a remote
// cross-encoder. Calls go through a circuit breaker so a failing backend
// short-circuits to the degraded path.
type CrossEncoderScorer struct {
	client  *http.Client
	config  CrossEncoderConfig
	breaker *fserrors.CircuitBreaker
	mu      sync.RWMutex
	closed  bool
}

// NewCrossEncoderScorer creates a scorer and, unless skipped, checks health.
func NewCrossEncoderScorer(ctx context.Context, cfg CrossEncoderConfig) (*CrossEncoderScorer, error) {
	if cfg.Endpoint == "" {
		return nil, fserrors.ConfigError("cross-encoder endpoint is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCrossEncoderModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultCrossEncoderTimeout
	}

	var opts []fserrors.CircuitBreakerOption
	if cfg.MaxFailures > 0 {
		opts = append(opts, fserrors.WithMaxFailures(cfg.MaxFailures))
	}
	if cfg.ResetTimeout > 0 {
		opts = append(opts, fserrors.WithResetTimeout(cfg.ResetTimeout))
	}

	s := &CrossEncoderScorer{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config:  cfg,
		breaker: fserrors.NewCircuitBreaker("cross-encoder", opts...),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.healthCheck(checkCtx); err != nil {
			return nil, fserrors.New(fserrors.ErrCodeRerankerUnavailable, "cross-encoder health check failed", err)
		}
	}

	slog.Debug("cross_encoder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))
	return s, nil
}

func (s *CrossEncoderScorer) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to cross-encoder: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cross-encoder unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score posts the pairs to {Endpoint}/rerank. Documents the server leaves
// out score 0.
func (s *CrossEncoderScorer) Score(ctx context.Context, q string, documents []string) ([]float64, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("cross-encoder is closed")
	}
	if len(documents) == 0 {
		return []float64{}, nil
	}

	return fserrors.CircuitExecute(s.breaker, func() ([]float64, error) {
		return s.score(ctx, q, documents)
	})
}

func (s *CrossEncoderScorer) score(ctx context.Context, q string, documents []string) ([]float64, error) {
	start := time.Now()
	payload, err := json.Marshal(rerankRequest{Query: q, Documents: documents, Model: s.config.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, s.config.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fserrors.New(fserrors.ErrCodeRerankerUnavailable, "rerank request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fserrors.New(fserrors.ErrCodeRerankerUnavailable,
			fmt.Sprintf("rerank failed (status %d): %s", resp.StatusCode, string(body)), nil)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			slog.Warn("cross_encoder_invalid_index",
				slog.Int("index", r.Index),
				slog.Int("documents", len(documents)))
			continue
		}
		scores[r.Index] = r.Score
	}

	slog.Debug("cross_encoder_scored",
		slog.Int("documents", len(documents)),
		slog.Int("payload_bytes", len(payload)),
		slog.Duration("total", time.Since(start)))
	return scores, nil
}

// Available reports whether the scorer is open and its circuit allows calls.
func (s *CrossEncoderScorer) Available(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.breaker.Allow()
}

// Breaker exposes the circuit breaker state.
func (s *CrossEncoderScorer) Breaker() *fserrors.CircuitBreaker {
	return s.breaker
}

// Close releases idle connections.
func (s *CrossEncoderScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if transport, ok := s.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
