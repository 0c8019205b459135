package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCmd_NoTelemetry(t *testing.T) {
	dir := setupProject(t)

	out, err := runCLI(t, dir, "stats")

	require.NoError(t, err)
	assert.Contains(t, out, "No telemetry recorded yet")
}

func TestStatsCmd_CountsSearches(t *testing.T) {
	// Given: two recorded searches
	dir := setupProject(t)
	for _, tag := range []string{"beach", "street"} {
		_, err := runCLI(t, dir, "search", "--json", "--tag", tag)
		require.NoError(t, err)
	}

	// When: reading the stats
	out, err := runCLI(t, dir, "stats", "--json", "--days", "1")

	// Then: both are counted in today's range
	require.NoError(t, err, out)
	var report statsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, int64(2), report.TotalQueries)
	assert.Equal(t, report.From, report.To)
	var latencies int64
	for _, n := range report.LatencyDistribution {
		latencies += n
	}
	assert.Equal(t, int64(2), latencies)

	out, err = runCLI(t, dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Latency")
}
