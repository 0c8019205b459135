package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/framescope/framescope/internal/embed"
)

// isolate points the user config at an empty directory and clears every
// FRAMESCOPE_* override.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, name := range []string{
		"FRAMESCOPE_METADATA_PATH", "FRAMESCOPE_INDEX_PATH", "FRAMESCOPE_RESULTS_CSV",
		"FRAMESCOPE_USER_ID", "FRAMESCOPE_TEXT_WEIGHT", "FRAMESCOPE_OBJECT_WEIGHT",
		"FRAMESCOPE_TAG_WEIGHT", "FRAMESCOPE_RRF_CONSTANT", "FRAMESCOPE_EMBEDDER",
		"FRAMESCOPE_EMBEDDINGS_MODEL", "FRAMESCOPE_EMBEDDINGS_BASE_URL",
		"FRAMESCOPE_EMBEDDINGS_API_KEY", "FRAMESCOPE_INDEX_BACKEND", "FRAMESCOPE_PG_DSN",
		"FRAMESCOPE_SELECTION_BACKEND", "FRAMESCOPE_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
	return xdg
}

func writeUserConfig(t *testing.T, xdg, body string) {
	t.Helper()
	dir := filepath.Join(xdg, "framescope")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
}

func writeProjectConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.InDelta(t, 0.6, cfg.Search.TextWeight, 1e-12)
	assert.InDelta(t, 0.2, cfg.Search.ObjectWeight, 1e-12)
	assert.InDelta(t, 0.2, cfg.Search.TagWeight, 1e-12)
	assert.Equal(t, 60.0, cfg.Search.RRFConstant)
	assert.Equal(t, 20, cfg.Search.DefaultPerPage)
	assert.Equal(t, 100, cfg.Search.MaxPerPage)
	assert.Equal(t, 10_000, cfg.Search.MaxDepth)
	assert.False(t, cfg.Search.Refinement.Enabled)
	assert.Equal(t, 1280, cfg.Frames.Width)
	assert.Equal(t, 720, cfg.Frames.Height)
	assert.Equal(t, BackendHNSW, cfg.Index.Backend)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, RerankerSimple, cfg.Reranker.Type)
	assert.Equal(t, "sqlite", cfg.Selection.Backend)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.True(t, filepath.IsAbs(cfg.Sessions.StoragePath))
	require.NoError(t, cfg.Validate())
}

func TestGetUserConfigPath(t *testing.T) {
	t.Run("xdg", func(t *testing.T) {
		xdg := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", xdg)
		assert.Equal(t, filepath.Join(xdg, "framescope", "config.yaml"), GetUserConfigPath())
		assert.Equal(t, filepath.Join(xdg, "framescope"), GetUserConfigDir())
	})
	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, err := os.UserHomeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".config", "framescope", "config.yaml"), GetUserConfigPath())
	})
}

func TestLoad_NoFiles_ReturnsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Search, cfg.Search)
	assert.False(t, UserConfigExists())
}

func TestLoad_Layering(t *testing.T) {
	// Given: user config, project config and an env override
	xdg := isolate(t)
	project := t.TempDir()
	writeUserConfig(t, xdg, `
search:
  rrf_constant: 30
  default_per_page: 10
embeddings:
  model: user-model
`)
	writeProjectConfig(t, project, ProjectFile, `
search:
  default_per_page: 25
embeddings:
  model: project-model
paths:
  metadata_dir: meta
`)
	t.Setenv("FRAMESCOPE_EMBEDDINGS_MODEL", "env-model")

	// When: loading
	cfg, err := Load(project)
	require.NoError(t, err)

	// Then: each layer overrides the previous one
	assert.Equal(t, 30.0, cfg.Search.RRFConstant)
	assert.Equal(t, 25, cfg.Search.DefaultPerPage)
	assert.Equal(t, "env-model", cfg.Embeddings.Model)
	assert.Equal(t, filepath.Join(project, "meta"), cfg.Paths.MetadataDir)
	assert.True(t, UserConfigExists())
}

func TestLoad_YmlFallback(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	writeProjectConfig(t, project, ProjectFileAlt, "selection:\n  user: alice\n")

	cfg, err := Load(project)

	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Selection.User)
}

func TestLoad_ExplicitZeroWeight(t *testing.T) {
	// Given: a project file that disables the tag modality weight
	isolate(t)
	project := t.TempDir()
	writeProjectConfig(t, project, ProjectFile, `
search:
  tag_weight: 0
  refinement:
    enabled: true
telemetry:
  enabled: false
`)

	cfg, err := Load(project)

	require.NoError(t, err)
	assert.Zero(t, cfg.Search.TagWeight)
	assert.InDelta(t, 0.6, cfg.Search.TextWeight, 1e-12)
	assert.True(t, cfg.Search.Refinement.Enabled)
	assert.Equal(t, 5, cfg.Search.Refinement.Neighbors)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "search: [unclosed"},
		{"wrong type", "search:\n  max_per_page: many\n"},
		{"invalid value", "index:\n  backend: faiss\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			project := t.TempDir()
			writeProjectConfig(t, project, ProjectFile, tt.body)

			_, err := Load(project)

			assert.Error(t, err)
		})
	}
}

func TestLoad_InvalidUserConfig(t *testing.T) {
	xdg := isolate(t)
	writeUserConfig(t, xdg, "::: not yaml")

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user config")
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("FRAMESCOPE_TEXT_WEIGHT", "0")
	t.Setenv("FRAMESCOPE_OBJECT_WEIGHT", "0.7")
	t.Setenv("FRAMESCOPE_TAG_WEIGHT", "1.5") // out of range, ignored
	t.Setenv("FRAMESCOPE_RRF_CONSTANT", "abc")
	t.Setenv("FRAMESCOPE_USER_ID", "bob")
	t.Setenv("FRAMESCOPE_SELECTION_BACKEND", "memory")
	t.Setenv("FRAMESCOPE_METADATA_PATH", "/data/meta")
	t.Setenv("FRAMESCOPE_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Zero(t, cfg.Search.TextWeight)
	assert.InDelta(t, 0.7, cfg.Search.ObjectWeight, 1e-12)
	assert.InDelta(t, 0.2, cfg.Search.TagWeight, 1e-12)
	assert.Equal(t, 60.0, cfg.Search.RRFConstant)
	assert.Equal(t, "bob", cfg.Selection.User)
	assert.Equal(t, "memory", cfg.Selection.Backend)
	assert.Equal(t, "/data/meta", cfg.Paths.MetadataDir)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"negative weight", func(c *Config) { c.Search.TextWeight = -0.1 }, "text_weight"},
		{"weight above one", func(c *Config) { c.Search.TagWeight = 1.1 }, "tag_weight"},
		{"zero rrf", func(c *Config) { c.Search.RRFConstant = 0 }, "rrf_constant"},
		{"negative overshoot", func(c *Config) { c.Search.Overshoot = -1 }, "overshoot"},
		{"max per page", func(c *Config) { c.Search.MaxPerPage = 101 }, "max_per_page"},
		{"depth below page size", func(c *Config) { c.Search.MaxDepth = 50 }, "max_depth"},
		{"default above max", func(c *Config) { c.Search.DefaultPerPage = 200 }, "default_per_page"},
		{"refinement", func(c *Config) {
			c.Search.Refinement = RefinementConfig{Enabled: true}
		}, "refinement"},
		{"frame size", func(c *Config) { c.Frames.Width = 0 }, "frames"},
		{"provider", func(c *Config) { c.Embeddings.Provider = "mlx" }, "embeddings.provider"},
		{"pgvector dsn", func(c *Config) { c.Index.Backend = BackendPGVector }, "pg_dsn"},
		{"metric", func(c *Config) { c.Index.Metric = "dot" }, "index.metric"},
		{"reranker", func(c *Config) { c.Reranker.Type = "llm" }, "reranker.type"},
		{"cross-encoder endpoint", func(c *Config) { c.Reranker.Type = RerankerCrossEncoder }, "endpoint"},
		{"selection", func(c *Config) { c.Selection.Backend = "redis" }, "selection.backend"},
		{"log level", func(c *Config) { c.Server.LogLevel = "trace" }, "log_level"},
		{"duration", func(c *Config) { c.Reranker.Timeout = "soon" }, "reranker.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_AllZeroWeightsAllowed(t *testing.T) {
	// Degenerate weights pass through the normalizer and are reported at query time.
	cfg := NewConfig()
	cfg.Search.TextWeight, cfg.Search.ObjectWeight, cfg.Search.TagWeight = 0, 0, 0

	assert.NoError(t, cfg.Validate())
}

func TestConverters(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.Refinement.Enabled = true
	cfg.Reranker.Timeout = "2s"
	cfg.Telemetry.FlushInterval = ""
	cfg.Paths.DataDir = "/var/framescope"

	sc := cfg.SearchConfig()
	assert.Equal(t, 20, sc.DefaultPerPage)
	assert.Equal(t, cfg.Weights(), sc.DefaultWeights)

	ref := cfg.Refinement()
	require.NotNil(t, ref)
	assert.Equal(t, 5, ref.Neighbors)

	opts, err := cfg.EmbedOptions()
	require.NoError(t, err)
	assert.Equal(t, embed.ProviderStatic, opts.Provider)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	assert.Equal(t, 512, cfg.DenseIndexConfig().Dimensions)
	assert.Equal(t, "frame_embeddings", cfg.PGVectorConfig().Table)
	assert.Equal(t, 2*time.Second, cfg.CrossEncoderConfig().Timeout)
	assert.Equal(t, time.Minute, cfg.TelemetryConfig().FlushInterval)
	assert.Equal(t, 1280, cfg.LoadOptions().FrameWidth)
	assert.Equal(t, cfg.Sessions.MaxSessions, cfg.SessionConfig().MaxSessions)
	assert.Equal(t, "/var/framescope/selection.db", cfg.SelectionPath())
	assert.Equal(t, "/var/framescope/telemetry.db", cfg.TelemetryPath())

	cfg.Search.Refinement.Enabled = false
	assert.Nil(t, cfg.Refinement())
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Selection.User = "carol"
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, *cfg, back)
}
