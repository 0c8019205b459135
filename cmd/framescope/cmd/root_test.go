package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	dir := setupProject(t)

	out, err := runCLI(t, dir, "--help")

	require.NoError(t, err)
	for _, sub := range []string{"search", "index", "select", "session", "serve", "config", "stats", "logs", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_LogsToFile(t *testing.T) {
	// Given: an isolated home
	dir := setupProject(t)

	// When: running a command that logs
	out, err := runCLI(t, dir, "search", "--tag", "beach")

	// Then: log lines go to the log file, not the terminal
	require.NoError(t, err)
	assert.NotContains(t, out, "search_complete")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(home, ".framescope", "logs", "server.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "search_complete")
}

func TestRootCmd_DebugLogsToStderr(t *testing.T) {
	dir := setupProject(t)

	out, err := runCLI(t, dir, "--debug", "search", "--tag", "beach")

	require.NoError(t, err)
	assert.Contains(t, out, "search_complete")
}

func TestRootCmd_ProfilesWritten(t *testing.T) {
	dir := setupProject(t)
	profDir := t.TempDir()
	cpu := filepath.Join(profDir, "cpu.prof")
	mem := filepath.Join(profDir, "mem.prof")

	_, err := runCLI(t, dir, "--profile-cpu", cpu, "--profile-mem", mem, "search", "--tag", "beach")

	require.NoError(t, err)
	assert.FileExists(t, cpu)
	assert.FileExists(t, mem)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	dir := setupProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".framescope.yaml"),
		[]byte("search:\n  text_weight: 7\n"), 0o644))

	_, err := runCLI(t, dir, "search", "--tag", "beach")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_")
}
