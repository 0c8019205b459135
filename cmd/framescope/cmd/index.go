package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/framescope/framescope/internal/config"
	"github.com/framescope/framescope/internal/embed"
	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/index"
	"github.com/framescope/framescope/internal/output"
	"github.com/framescope/framescope/internal/preflight"
	"github.com/framescope/framescope/internal/store"
	"github.com/framescope/framescope/internal/ui"
	"github.com/framescope/framescope/pkg/version"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build and inspect the dense text index",
		Long: `Build and inspect the dense index used by text search.

Object and tag search are computed from the metadata at startup and need
no index. Text search needs one vector per frame, either precomputed
(a JSONL file of {"key": ..., "vector": [...]}) or produced by embedding
each frame's tags and detected objects with the configured embedder.`,
	}

	cmd.AddCommand(newIndexBuildCmd())
	cmd.AddCommand(newIndexInfoCmd())
	cmd.AddCommand(newIndexCheckCmd())

	return cmd
}

type indexBuildOptions struct {
	embeddings string
	force      bool
	plain      bool
	batchSize  int
	wait       time.Duration
}

func newIndexBuildCmd() *cobra.Command {
	var opts indexBuildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the text index",
		Example: `  framescope index build
  framescope index build --embeddings clip.jsonl --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexBuild(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.embeddings, "embeddings", "", "JSONL file of precomputed frame vectors (default from config)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replace an existing index")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Vectors embedded or added per batch")
	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "Wait this long for a running build to finish")

	return cmd
}

func runIndexBuild(ctx context.Context, cmd *cobra.Command, opts indexBuildOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.Paths.IndexDir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	lock := store.NewFileLock(cfg.Paths.IndexDir)
	lockCtx, cancelLock := context.WithTimeout(ctx, opts.wait)
	locked, err := lock.LockContext(lockCtx, 250*time.Millisecond)
	cancelLock()
	if err != nil {
		return fmt.Errorf("failed to lock index directory: %w", err)
	}
	if !locked {
		return fserrors.New(fserrors.ErrCodeIndexBuild,
			"another index build is running in "+cfg.Paths.IndexDir, nil)
	}
	defer func() { _ = lock.Unlock() }()

	embeddingsFile := opts.embeddings
	if embeddingsFile == "" {
		embeddingsFile = cfg.Index.EmbeddingsFile
	}

	if preflight.NeedsCheck(cfg.Paths.DataDir, version.Version) {
		results, err := runPreflight(ctx, cfg, embeddingsFile == "")
		if err != nil {
			return err
		}
		if preflight.HasCriticalFailures(results) {
			renderChecks(output.New(cmd.ErrOrStderr()), results, false)
			return fserrors.New(fserrors.ErrCodeIndexBuild, "system check failed", nil).
				WithSuggestion("run 'framescope doctor' for details")
		}
		if err := preflight.MarkPassed(cfg.Paths.DataDir, version.Version); err != nil {
			slog.Warn("preflight_marker_failed", slog.String("error", err.Error()))
		}
	}

	table, err := frame.Load(cfg.Paths.MetadataDir, cfg.LoadOptions())
	if err != nil {
		return err
	}

	var embedder embed.Embedder
	if embeddingsFile == "" {
		embedOpts, err := cfg.EmbedOptions()
		if err != nil {
			return fserrors.ConfigError("invalid embeddings configuration", err)
		}
		embedOpts.CacheSize = -1
		if embedder, err = embed.NewEmbedder(embedOpts); err != nil {
			return fserrors.VectorizerFailed("failed to create embedder", err)
		}
		defer func() { _ = embedder.Close() }()
		if !embedder.Available(ctx) {
			return fserrors.VectorizerFailed("embedder "+embedder.ModelName()+" is not reachable", nil)
		}
	}

	idx, indexPath, err := newBuildIndex(ctx, cfg, opts.force)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(noColor || ui.DetectNoColor()),
		ui.WithTitle(cfg.Paths.MetadataDir)))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Table:    table,
		Index:    idx,
		Embedder: embedder,
		Backend:  cfg.Index.Backend,
	})
	if err != nil {
		return err
	}

	batch := opts.batchSize
	if batch == 0 {
		batch = cfg.Embeddings.BatchSize
	}
	_, err = runner.Run(ctx, index.RunnerConfig{
		EmbeddingsFile: embeddingsFile,
		IndexPath:      indexPath,
		BatchSize:      batch,
	})
	if errors.Is(err, context.Canceled) {
		slog.Warn("index_build_interrupted")
	}
	return err
}

// newBuildIndex creates an empty index of the configured backend. An
// existing index is only replaced with force. indexPath is empty for
// backends that persist on write.
func newBuildIndex(ctx context.Context, cfg *config.Config, force bool) (store.DenseIndex, string, error) {
	switch cfg.Index.Backend {
	case config.BackendPGVector:
		idx, err := connectPGVector(ctx, cfg)
		if err != nil {
			return nil, "", fserrors.IndexUnavailable("failed to connect to pgvector", err)
		}
		if idx.Len() > 0 {
			if !force {
				_ = idx.Close()
				return nil, "", fserrors.New(fserrors.ErrCodeIndexBuild,
					fmt.Sprintf("table %s already holds %d vectors", cfg.Index.PGTable, idx.Len()), nil).
					WithSuggestion("rerun with --force to replace it")
			}
			if err := idx.Truncate(ctx); err != nil {
				_ = idx.Close()
				return nil, "", fserrors.New(fserrors.ErrCodeIndexBuild, "failed to clear pgvector table", err)
			}
		}
		return idx, "", nil
	default:
		path := cfg.HNSWPath()
		if _, err := os.Stat(path); err == nil && !force {
			return nil, "", fserrors.New(fserrors.ErrCodeIndexBuild, "an index already exists at "+path, nil).
				WithSuggestion("rerun with --force to replace it")
		}
		idx, err := store.NewHNSWIndex(cfg.DenseIndexConfig())
		if err != nil {
			return nil, "", fserrors.ConfigError("invalid index configuration", err)
		}
		return idx, path, nil
	}
}

func newIndexInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show frame and index status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexInfo(cmd.Context(), cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runIndexInfo(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := frame.Load(cfg.Paths.MetadataDir, cfg.LoadOptions())
	if err != nil {
		return err
	}

	info := ui.StatusInfo{
		MetadataDir:    cfg.Paths.MetadataDir,
		Frames:         table.Len(),
		EmbedderType:   cfg.Embeddings.Provider,
		EmbedderStatus: "offline",
	}
	idx, indexInfo, err := openDenseIndex(ctx, cfg)
	info.Index = indexInfo
	if err == nil {
		_ = idx.Close()
	} else {
		slog.Debug("index_info_unavailable", slog.String("error", err.Error()))
	}
	if info.Frames > 0 {
		info.Coverage = float64(info.Index.Count) / float64(info.Frames)
	}

	if embedOpts, err := cfg.EmbedOptions(); err != nil {
		info.EmbedderStatus = "error"
	} else if embedder, err := embed.NewEmbedder(embedOpts); err != nil {
		info.EmbedderStatus = "error"
	} else {
		if embedder.Available(ctx) {
			info.EmbedderStatus = "ready"
		}
		_ = embedder.Close()
	}

	if selStore, err := store.NewSelectionStore(cfg.Selection.Backend, cfg.SelectionPath()); err == nil {
		if keys, err := selStore.Members(ctx, store.SelectedKey(cfg.Selection.User)); err == nil {
			info.Selected = len(keys)
		}
		_ = selStore.Close()
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

func newIndexCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that every frame has a usable vector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexCheck(cmd.Context(), cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runIndexCheck(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := frame.Load(cfg.Paths.MetadataDir, cfg.LoadOptions())
	if err != nil {
		return err
	}
	idx, info, err := openDenseIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	expect := index.ConsistencyExpectations{IndexModel: info.Model}
	if embedOpts, err := cfg.EmbedOptions(); err == nil {
		if embedder, err := embed.NewEmbedder(embedOpts); err == nil {
			expect.Dimensions = embedder.Dimensions()
			// precomputed vectors are named after their file
			if cfg.Index.EmbeddingsFile == "" {
				expect.Model = embedder.ModelName()
			}
			_ = embedder.Close()
		}
	}

	checker := index.NewConsistencyChecker(table, idx, expect)
	res, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if jsonOutput {
		if err := out.JSON(res); err != nil {
			return err
		}
	} else if res.OK() {
		out.Successf("%d frames checked, index is consistent", res.Checked)
	} else {
		out.Warningf("%d frames checked, %d problems", res.Checked, len(res.Inconsistencies))
		for _, issue := range res.Inconsistencies {
			if issue.Key != "" {
				out.Statusf("", "%s %s: %s", issue.Type, issue.Key, issue.Details)
			} else {
				out.Statusf("", "%s: %s", issue.Type, issue.Details)
			}
		}
	}
	if !res.OK() {
		return fserrors.New(fserrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("index has %d inconsistencies", len(res.Inconsistencies)), nil).
			WithSuggestion("rebuild with 'framescope index build --force'")
	}
	return nil
}
