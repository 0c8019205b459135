package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/framescope/framescope/internal/telemetry"
)

// Resource URIs.
const (
	QueryMetricsURI = "framescope://query_metrics"
	IndexStatusURI  = "framescope://index_status"
)

// QueryMetricsOutput is the JSON structure of the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary               `json:"summary"`
	QueryTypeCounts     map[telemetry.QueryType]int64     `json:"query_type_counts"`
	TopTerms            []telemetry.TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                          `json:"zero_result_queries"`
	LatencyDistribution map[telemetry.LatencyBucket]int64 `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	FailedQueries int64   `json:"failed_queries"`
	Since         string  `json:"since"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

// addJSONResource registers a read-only resource whose body is render().
// Callers that hold s.mu keep holding it; the map is written in place.
func (s *Server) addJSONResource(name, uri, description string, render func(context.Context) ([]byte, error)) {
	s.resources[uri] = render
	s.mcp.AddResource(
		&mcp.Resource{Name: name, URI: uri, Description: description, MIMEType: "application/json"},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.ReadResource(ctx, uri)
		},
	)
}

// ReadResource renders a registered resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	render, ok := s.resources[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, NewInvalidParamsError("unknown resource: " + uri)
	}

	body, err := render(ctx)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: string(body)}},
	}, nil
}

func (s *Server) registerResources() {
	s.addJSONResource("index_status", IndexStatusURI,
		"Frame count, text index coverage, embedder and searchable modalities",
		func(ctx context.Context) ([]byte, error) {
			return marshalResource(s.handleIndexStatus(ctx))
		})
}

func (s *Server) registerQueryMetricsResource() {
	s.addJSONResource("query_metrics", QueryMetricsURI,
		"Search telemetry: modality mix, top terms, zero-result queries and latency buckets",
		func(context.Context) ([]byte, error) { return s.QueryMetricsJSON() })
}

// QueryMetricsJSON renders the current telemetry snapshot.
func (s *Server) QueryMetricsJSON() ([]byte, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()
	if metrics == nil {
		return nil, NewInvalidParamsError("query metrics not available")
	}

	snap := metrics.Snapshot()
	return marshalResource(QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:  snap.TotalQueries,
			FailedQueries: snap.FailedCount,
			Since:         snap.Since.Format(time.RFC3339),
			ZeroResultPct: snap.ZeroResultPercentage(),
		},
		QueryTypeCounts:     snap.QueryTypeCounts,
		TopTerms:            snap.TopTerms,
		ZeroResultQueries:   snap.ZeroResultQueries,
		LatencyDistribution: snap.LatencyDistribution,
	})
}

func marshalResource(v any) ([]byte, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return body, nil
}
