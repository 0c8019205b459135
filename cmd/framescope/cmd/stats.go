package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/framescope/framescope/internal/output"
	"github.com/framescope/framescope/internal/telemetry"
)

// statsReport is the persisted telemetry over a date range.
type statsReport struct {
	From                string                            `json:"from"`
	To                  string                            `json:"to"`
	TotalQueries        int64                             `json:"total_queries"`
	FailedQueries       int64                             `json:"failed_queries"`
	QueryTypeCounts     map[telemetry.QueryType]int64     `json:"query_type_counts"`
	LatencyDistribution map[telemetry.LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []telemetry.TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                          `json:"zero_result_queries"`
}

func newStatsCmd() *cobra.Command {
	var (
		days       int
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search telemetry",
		Long: `Show what has been searched: the modality mix, latency buckets, the most
frequent query terms and recent queries that found nothing.

Telemetry is recorded by search and serve when telemetry.enabled is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.TelemetryPath()
			if _, err := os.Stat(path); err != nil {
				output.New(cmd.OutOrStdout()).Status("", "No telemetry recorded yet")
				return nil
			}

			store, err := telemetry.OpenSQLiteMetricsStore(path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			report, err := buildStatsReport(store, days, limit, time.Now())
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.New(cmd.OutOrStdout()).JSON(report)
			}
			renderStats(output.New(cmd.OutOrStdout()), report)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Days of history to include")
	cmd.Flags().IntVar(&limit, "limit", 10, "Top terms and zero-result queries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func buildStatsReport(store *telemetry.SQLiteMetricsStore, days, limit int, now time.Time) (*statsReport, error) {
	if days < 1 {
		days = 1
	}
	r := &statsReport{
		From: now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly),
		To:   now.Format(time.DateOnly),
	}

	var err error
	if r.QueryTypeCounts, err = store.GetQueryTypeCounts(r.From, r.To); err != nil {
		return nil, fmt.Errorf("failed to read query counts: %w", err)
	}
	for _, n := range r.QueryTypeCounts {
		r.TotalQueries += n
	}
	failed, err := store.GetFailureCounts(r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("read failure counts: %w", err)
	}
	for _, n := range failed {
		r.FailedQueries += n
	}
	if r.LatencyDistribution, err = store.GetLatencyCounts(r.From, r.To); err != nil {
		return nil, fmt.Errorf("failed to read latencies: %w", err)
	}
	if r.TopTerms, err = store.GetTopTerms(limit); err != nil {
		return nil, fmt.Errorf("failed to read top terms: %w", err)
	}
	if r.ZeroResultQueries, err = store.GetZeroResultQueries(limit); err != nil {
		return nil, fmt.Errorf("failed to read zero-result queries: %w", err)
	}
	return r, nil
}

func renderStats(out *output.Writer, r *statsReport) {
	out.Section(fmt.Sprintf("Searches %s to %s", r.From, r.To))
	out.KV("total", r.TotalQueries)
	if r.FailedQueries > 0 {
		out.KV("failed", r.FailedQueries)
	}

	types := make([]string, 0, len(r.QueryTypeCounts))
	for qt := range r.QueryTypeCounts {
		types = append(types, string(qt))
	}
	sort.Strings(types)
	for _, qt := range types {
		out.KV(qt, r.QueryTypeCounts[telemetry.QueryType(qt)])
	}

	out.Newline()
	out.Section("Latency")
	for _, b := range []telemetry.LatencyBucket{
		telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100,
		telemetry.BucketP500, telemetry.BucketP1000,
	} {
		out.KV(string(b), r.LatencyDistribution[b])
	}

	if len(r.TopTerms) > 0 {
		out.Newline()
		out.Section("Top terms")
		for _, t := range r.TopTerms {
			out.KV(t.Term, t.Count)
		}
	}
	if len(r.ZeroResultQueries) > 0 {
		out.Newline()
		out.Section("No results")
		for _, q := range r.ZeroResultQueries {
			out.Status("", q)
		}
	}
}
