// Package config loads the framescope configuration.
//
// Values are layered in increasing precedence: built-in defaults, the user
// config ($XDG_CONFIG_HOME/framescope/config.yaml), the project file
// .framescope.yaml, then FRAMESCOPE_* environment variables. The result is
// validated before use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFile is the per-directory config file name. ProjectFileAlt is
// read when ProjectFile is absent.
const (
	ProjectFile    = ".framescope.yaml"
	ProjectFileAlt = ".framescope.yml"
)

// Config is the complete framescope configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Frames     FramesConfig     `yaml:"frames" json:"frames"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Selection  SelectionConfig  `yaml:"selection" json:"selection"`
	Sessions   SessionsConfig   `yaml:"sessions" json:"sessions"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig locates the metadata, the built index and the outputs.
type PathsConfig struct {
	// MetadataDir holds keyframes_metadata.json and its siblings.
	MetadataDir string `yaml:"metadata_dir" json:"metadata_dir"`

	// IndexDir holds the HNSW graph, the index manifest and the build lock.
	IndexDir string `yaml:"index_dir" json:"index_dir"`

	// DataDir holds selection and telemetry databases.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// ResultsCSV is the default selection export path.
	ResultsCSV string `yaml:"results_csv" json:"results_csv"`
}

// FramesConfig controls metadata loading.
type FramesConfig struct {
	Width           int    `yaml:"width" json:"width"`
	Height          int    `yaml:"height" json:"height"`
	KeyframesPrefix string `yaml:"keyframes_prefix" json:"keyframes_prefix"`
	VideosPrefix    string `yaml:"videos_prefix" json:"videos_prefix"`
}

// SearchConfig holds default modality weights, fusion and paging settings.
type SearchConfig struct {
	TextWeight   float64 `yaml:"text_weight" json:"text_weight"`
	ObjectWeight float64 `yaml:"object_weight" json:"object_weight"`
	TagWeight    float64 `yaml:"tag_weight" json:"tag_weight"`

	// RRFConstant is the fusion smoothing constant k.
	RRFConstant float64 `yaml:"rrf_constant" json:"rrf_constant"`

	DefaultPerPage int `yaml:"default_per_page" json:"default_per_page"`
	MaxPerPage     int `yaml:"max_per_page" json:"max_per_page"`

	// MaxDepth bounds page*per_page for a single request.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`

	// Overshoot is the extra candidates each searcher fetches before filtering.
	Overshoot int `yaml:"overshoot" json:"overshoot"`

	Refinement RefinementConfig `yaml:"refinement" json:"refinement"`
}

// RefinementConfig enables neighbour refinement of text search.
type RefinementConfig struct {
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	Neighbors        int     `yaml:"neighbors" json:"neighbors"`
	SimilarityWeight float64 `yaml:"similarity_weight" json:"similarity_weight"`
}

// IndexConfig selects and tunes the dense index.
type IndexConfig struct {
	// Backend is "hnsw" or "pgvector".
	Backend  string `yaml:"backend" json:"backend"`
	Metric   string `yaml:"metric" json:"metric"`
	M        int    `yaml:"m" json:"m"`
	EfSearch int    `yaml:"ef_search" json:"ef_search"`

	PGDSN   string `yaml:"pg_dsn" json:"pg_dsn"`
	PGTable string `yaml:"pg_table" json:"pg_table"`

	// EmbeddingsFile is an optional JSONL file of precomputed frame vectors.
	EmbeddingsFile string `yaml:"embeddings_file" json:"embeddings_file"`
}

// EmbeddingsConfig configures the text encoder.
type EmbeddingsConfig struct {
	// Provider is "static" or "openai" (any OpenAI-compatible endpoint).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	APIKey     string `yaml:"api_key" json:"api_key"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`

	// CacheSize is the query cache size; negative disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// RerankerConfig selects the post-fusion reranker.
type RerankerConfig struct {
	// Type is "simple", "embedding" or "cross-encoder".
	Type         string `yaml:"type" json:"type"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	Model        string `yaml:"model" json:"model"`
	Timeout      string `yaml:"timeout" json:"timeout"`
	MaxFailures  int    `yaml:"max_failures" json:"max_failures"`
	ResetTimeout string `yaml:"reset_timeout" json:"reset_timeout"`
}

// SelectionConfig configures where selections live and whose they are.
type SelectionConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend" json:"backend"`
	User    string `yaml:"user" json:"user"`
}

// SessionsConfig configures saved search sessions.
type SessionsConfig struct {
	StoragePath string `yaml:"storage_path" json:"storage_path"`
	MaxSessions int    `yaml:"max_sessions" json:"max_sessions"`
}

// TelemetryConfig configures local query telemetry.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`
	TopTerms      int    `yaml:"top_terms" json:"top_terms"`
	ZeroResults   int    `yaml:"zero_results" json:"zero_results"`
}

// ServerConfig configures the MCP server and logging.
type ServerConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Known option values.
const (
	BackendHNSW     = "hnsw"
	BackendPGVector = "pgvector"

	RerankerSimple       = "simple"
	RerankerEmbedding    = "embedding"
	RerankerCrossEncoder = "cross-encoder"

	// HNSWFile is the graph file name under paths.index_dir.
	HNSWFile = "frames.hnsw"
)

// HomeDir returns ~/.framescope, or a temp-dir fallback.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".framescope")
	}
	return filepath.Join(home, ".framescope")
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	root := HomeDir()
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			MetadataDir: "metadata",
			IndexDir:    filepath.Join(root, "index"),
			DataDir:     filepath.Join(root, "data"),
			ResultsCSV:  "results.csv",
		},
		Frames: FramesConfig{
			Width:           1280,
			Height:          720,
			KeyframesPrefix: "keyframes",
			VideosPrefix:    "videos",
		},
		Search: SearchConfig{
			TextWeight:     0.6,
			ObjectWeight:   0.2,
			TagWeight:      0.2,
			RRFConstant:    60,
			DefaultPerPage: 20,
			MaxPerPage:     100,
			MaxDepth:       10_000,
			Overshoot:      50,
			Refinement: RefinementConfig{
				Enabled:          false,
				Neighbors:        5,
				SimilarityWeight: 0.15,
			},
		},
		Index: IndexConfig{
			Backend:  BackendHNSW,
			Metric:   "cos",
			M:        16,
			EfSearch: 64,
			PGTable:  "frame_embeddings",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "clip-vit-b-32",
			Dimensions: 512,
			BatchSize:  32,
			Timeout:    "30s",
			CacheSize:  1000,
		},
		Reranker: RerankerConfig{
			Type:         RerankerSimple,
			Timeout:      "10s",
			MaxFailures:  3,
			ResetTimeout: "30s",
		},
		Selection: SelectionConfig{
			Backend: "sqlite",
			User:    "default",
		},
		Sessions: SessionsConfig{
			StoragePath: filepath.Join(root, "sessions"),
			MaxSessions: 20,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			FlushInterval: "60s",
			TopTerms:      100,
			ZeroResults:   100,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/framescope/config.yaml, or
// ~/.config/framescope/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "framescope", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "framescope", "config.yaml")
	}
	return filepath.Join(home, ".config", "framescope", "config.yaml")
}

// GetUserConfigDir returns the directory of the user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the effective configuration for dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := projectConfigPath(dir); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
		cfg.resolveRelative(dir)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func projectConfigPath(dir string) string {
	for _, name := range []string{ProjectFile, ProjectFileAlt} {
		if path := filepath.Join(dir, name); fileExists(path) {
			return path
		}
	}
	return ""
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed, rawKeys(data))
	return nil
}

// rawKeys returns the dotted keys present in a YAML document, so that
// explicit zero values (weights, booleans) are honoured on merge.
func rawKeys(data []byte) map[string]bool {
	var doc map[string]any
	keys := make(map[string]bool)
	if yaml.Unmarshal(data, &doc) != nil {
		return keys
	}
	for section, v := range doc {
		fields, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for field := range fields {
			keys[section+"."+field] = true
		}
	}
	return keys
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// mergeWith copies non-zero values from other. Keys listed in explicit are
// copied even when zero.
func (c *Config) mergeWith(other *Config, explicit map[string]bool) {
	setInt(&c.Version, other.Version)

	setString(&c.Paths.MetadataDir, other.Paths.MetadataDir)
	setString(&c.Paths.IndexDir, other.Paths.IndexDir)
	setString(&c.Paths.DataDir, other.Paths.DataDir)
	setString(&c.Paths.ResultsCSV, other.Paths.ResultsCSV)

	setInt(&c.Frames.Width, other.Frames.Width)
	setInt(&c.Frames.Height, other.Frames.Height)
	setString(&c.Frames.KeyframesPrefix, other.Frames.KeyframesPrefix)
	setString(&c.Frames.VideosPrefix, other.Frames.VideosPrefix)

	if other.Search.TextWeight != 0 || explicit["search.text_weight"] {
		c.Search.TextWeight = other.Search.TextWeight
	}
	if other.Search.ObjectWeight != 0 || explicit["search.object_weight"] {
		c.Search.ObjectWeight = other.Search.ObjectWeight
	}
	if other.Search.TagWeight != 0 || explicit["search.tag_weight"] {
		c.Search.TagWeight = other.Search.TagWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	setInt(&c.Search.DefaultPerPage, other.Search.DefaultPerPage)
	setInt(&c.Search.MaxPerPage, other.Search.MaxPerPage)
	setInt(&c.Search.MaxDepth, other.Search.MaxDepth)
	if other.Search.Overshoot != 0 || explicit["search.overshoot"] {
		c.Search.Overshoot = other.Search.Overshoot
	}
	if explicit["search.refinement"] {
		r := other.Search.Refinement
		c.Search.Refinement.Enabled = r.Enabled
		setInt(&c.Search.Refinement.Neighbors, r.Neighbors)
		if r.SimilarityWeight != 0 {
			c.Search.Refinement.SimilarityWeight = r.SimilarityWeight
		}
	}

	setString(&c.Index.Backend, other.Index.Backend)
	setString(&c.Index.Metric, other.Index.Metric)
	setInt(&c.Index.M, other.Index.M)
	setInt(&c.Index.EfSearch, other.Index.EfSearch)
	setString(&c.Index.PGDSN, other.Index.PGDSN)
	setString(&c.Index.PGTable, other.Index.PGTable)
	setString(&c.Index.EmbeddingsFile, other.Index.EmbeddingsFile)

	setString(&c.Embeddings.Provider, other.Embeddings.Provider)
	setString(&c.Embeddings.Model, other.Embeddings.Model)
	setString(&c.Embeddings.BaseURL, other.Embeddings.BaseURL)
	setString(&c.Embeddings.APIKey, other.Embeddings.APIKey)
	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	setString(&c.Embeddings.Timeout, other.Embeddings.Timeout)
	if other.Embeddings.CacheSize != 0 || explicit["embeddings.cache_size"] {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	setString(&c.Reranker.Type, other.Reranker.Type)
	setString(&c.Reranker.Endpoint, other.Reranker.Endpoint)
	setString(&c.Reranker.Model, other.Reranker.Model)
	setString(&c.Reranker.Timeout, other.Reranker.Timeout)
	setInt(&c.Reranker.MaxFailures, other.Reranker.MaxFailures)
	setString(&c.Reranker.ResetTimeout, other.Reranker.ResetTimeout)

	setString(&c.Selection.Backend, other.Selection.Backend)
	setString(&c.Selection.User, other.Selection.User)

	setString(&c.Sessions.StoragePath, other.Sessions.StoragePath)
	setInt(&c.Sessions.MaxSessions, other.Sessions.MaxSessions)

	if explicit["telemetry.enabled"] {
		c.Telemetry.Enabled = other.Telemetry.Enabled
	}
	setString(&c.Telemetry.FlushInterval, other.Telemetry.FlushInterval)
	setInt(&c.Telemetry.TopTerms, other.Telemetry.TopTerms)
	setInt(&c.Telemetry.ZeroResults, other.Telemetry.ZeroResults)

	setString(&c.Server.LogLevel, other.Server.LogLevel)
	setString(&c.Server.MetricsAddr, other.Server.MetricsAddr)
}

// resolveRelative anchors relative project paths at dir.
func (c *Config) resolveRelative(dir string) {
	for _, p := range []*string{&c.Paths.MetadataDir, &c.Paths.IndexDir, &c.Paths.DataDir, &c.Paths.ResultsCSV, &c.Index.EmbeddingsFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// applyEnvOverrides applies FRAMESCOPE_* environment variables. Malformed
// numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	setString(&c.Paths.MetadataDir, os.Getenv("FRAMESCOPE_METADATA_PATH"))
	setString(&c.Paths.IndexDir, os.Getenv("FRAMESCOPE_INDEX_PATH"))
	setString(&c.Paths.ResultsCSV, os.Getenv("FRAMESCOPE_RESULTS_CSV"))
	setString(&c.Selection.User, os.Getenv("FRAMESCOPE_USER_ID"))

	// explicit zero weights are allowed
	weight := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
				*dst = w
			}
		}
	}
	weight("FRAMESCOPE_TEXT_WEIGHT", &c.Search.TextWeight)
	weight("FRAMESCOPE_OBJECT_WEIGHT", &c.Search.ObjectWeight)
	weight("FRAMESCOPE_TAG_WEIGHT", &c.Search.TagWeight)

	if v := os.Getenv("FRAMESCOPE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}

	setString(&c.Embeddings.Provider, os.Getenv("FRAMESCOPE_EMBEDDER"))
	setString(&c.Embeddings.Model, os.Getenv("FRAMESCOPE_EMBEDDINGS_MODEL"))
	setString(&c.Embeddings.BaseURL, os.Getenv("FRAMESCOPE_EMBEDDINGS_BASE_URL"))
	setString(&c.Embeddings.APIKey, os.Getenv("FRAMESCOPE_EMBEDDINGS_API_KEY"))
	setString(&c.Index.Backend, os.Getenv("FRAMESCOPE_INDEX_BACKEND"))
	setString(&c.Index.PGDSN, os.Getenv("FRAMESCOPE_PG_DSN"))
	setString(&c.Selection.Backend, os.Getenv("FRAMESCOPE_SELECTION_BACKEND"))
	setString(&c.Server.LogLevel, os.Getenv("FRAMESCOPE_LOG_LEVEL"))
}

// Validate checks ranges and known option values.
func (c *Config) Validate() error {
	weights := map[string]float64{
		"text_weight":   c.Search.TextWeight,
		"object_weight": c.Search.ObjectWeight,
		"tag_weight":    c.Search.TagWeight,
	}
	for name, w := range weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("search.%s must be between 0 and 1, got %g", name, w)
		}
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %g", c.Search.RRFConstant)
	}
	if c.Search.Overshoot < 0 {
		return fmt.Errorf("search.overshoot must be non-negative, got %d", c.Search.Overshoot)
	}
	if c.Search.MaxPerPage < 1 || c.Search.MaxPerPage > 100 {
		return fmt.Errorf("search.max_per_page must be between 1 and 100, got %d", c.Search.MaxPerPage)
	}
	if c.Search.MaxDepth < c.Search.MaxPerPage {
		return fmt.Errorf("search.max_depth must be at least max_per_page (%d), got %d",
			c.Search.MaxPerPage, c.Search.MaxDepth)
	}
	if c.Search.DefaultPerPage < 1 || c.Search.DefaultPerPage > c.Search.MaxPerPage {
		return fmt.Errorf("search.default_per_page must be between 1 and max_per_page (%d), got %d",
			c.Search.MaxPerPage, c.Search.DefaultPerPage)
	}
	if r := c.Search.Refinement; r.Enabled && (r.Neighbors < 1 || r.SimilarityWeight <= 0) {
		return fmt.Errorf("search.refinement needs neighbors >= 1 and similarity_weight > 0")
	}
	if c.Frames.Width <= 0 || c.Frames.Height <= 0 {
		return fmt.Errorf("frames.width and frames.height must be positive")
	}

	if err := oneOf("embeddings.provider", c.Embeddings.Provider, "static", "openai", "ollama"); err != nil {
		return err
	}
	if err := oneOf("index.backend", c.Index.Backend, BackendHNSW, BackendPGVector); err != nil {
		return err
	}
	if err := oneOf("index.metric", c.Index.Metric, "cos", "l2"); err != nil {
		return err
	}
	if c.Index.Backend == BackendPGVector && c.Index.PGDSN == "" {
		return fmt.Errorf("index.pg_dsn is required for the pgvector backend")
	}
	if err := oneOf("reranker.type", c.Reranker.Type, RerankerSimple, RerankerEmbedding, RerankerCrossEncoder); err != nil {
		return err
	}
	if c.Reranker.Type == RerankerCrossEncoder && c.Reranker.Endpoint == "" {
		return fmt.Errorf("reranker.endpoint is required for the cross-encoder reranker")
	}
	if err := oneOf("selection.backend", c.Selection.Backend, "sqlite", "memory"); err != nil {
		return err
	}
	if err := oneOf("server.log_level", c.Server.LogLevel, "debug", "info", "warn", "error"); err != nil {
		return err
	}

	for name, d := range map[string]string{
		"embeddings.timeout":       c.Embeddings.Timeout,
		"reranker.timeout":         c.Reranker.Timeout,
		"reranker.reset_timeout":   c.Reranker.ResetTimeout,
		"telemetry.flush_interval": c.Telemetry.FlushInterval,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func oneOf(field, value string, valid ...string) error {
	v := strings.ToLower(value)
	for _, ok := range valid {
		if v == ok {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(valid, ", "), value)
}

// Duration parses a validated duration string, returning def when empty.
func Duration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// SelectionPath is the sqlite selection database path.
func (c *Config) SelectionPath() string {
	return filepath.Join(c.Paths.DataDir, "selection.db")
}

// HNSWPath is the HNSW graph file inside the index directory.
func (c *Config) HNSWPath() string {
	return filepath.Join(c.Paths.IndexDir, HNSWFile)
}

// TelemetryPath is the sqlite telemetry database path.
func (c *Config) TelemetryPath() string {
	return filepath.Join(c.Paths.DataDir, "telemetry.db")
}

// WriteYAML writes the configuration to path, creating its directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
