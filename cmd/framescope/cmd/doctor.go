package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/framescope/framescope/internal/config"
	"github.com/framescope/framescope/internal/embed"
	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/output"
	"github.com/framescope/framescope/internal/preflight"
	"github.com/framescope/framescope/internal/store"
	"github.com/framescope/framescope/internal/ui"
	"github.com/framescope/framescope/pkg/version"
)

// doctorReport is the JSON form of a doctor run.
type doctorReport struct {
	Status   string                  `json:"status"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that search and indexing can run",
		Long: `Check the metadata directory, the index and data directories, free disk
space, the open file limit, the embedder and the text index.

A missing detection or tag file, an unreachable embedder or a missing
text index only disable one modality and are reported as warnings.`,
		Example: `  framescope doctor
  framescope doctor --verbose
  framescope doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, verbose, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	results, err := runPreflight(ctx, cfg, false)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if jsonOutput {
		if err := out.JSON(newDoctorReport(results)); err != nil {
			return err
		}
	} else {
		renderChecks(out, results, verbose)
		if age := preflight.MarkerAge(cfg.Paths.DataDir); age > 0 {
			out.Newline()
			out.Statusf("", "Last successful check: %s", ui.FormatAge(time.Now().Add(-age)))
		}
	}

	if preflight.HasCriticalFailures(results) {
		return fserrors.New(fserrors.ErrCodeInternal, "system check failed", nil).
			WithSuggestion("fix the failed checks and rerun 'framescope doctor'")
	}
	if err := preflight.MarkPassed(cfg.Paths.DataDir, version.Version); err != nil {
		slog.Warn("preflight_marker_failed", slog.String("error", err.Error()))
	}
	return nil
}

// runPreflight checks the configured paths, the embedder and the text index.
func runPreflight(ctx context.Context, cfg *config.Config, needEmbedder bool) ([]preflight.CheckResult, error) {
	opts := []preflight.Option{
		preflight.WithIndexProbe(func(ctx context.Context) (store.IndexInfo, error) {
			idx, info, err := openDenseIndex(ctx, cfg)
			if err != nil {
				return info, err
			}
			return info, idx.Close()
		}),
	}
	if embedOpts, err := cfg.EmbedOptions(); err != nil {
		return nil, fserrors.ConfigError("invalid embeddings configuration", err)
	} else if embedder, err := embed.NewEmbedder(embedOpts); err == nil {
		defer func() { _ = embedder.Close() }()
		opts = append(opts, preflight.WithEmbedder(embedder))
	} else {
		slog.Debug("preflight_embedder_unavailable", slog.String("error", err.Error()))
	}

	checker := preflight.New(opts...)
	return checker.RunAll(ctx, preflight.Target{
		MetadataDir:  cfg.Paths.MetadataDir,
		IndexDir:     cfg.Paths.IndexDir,
		DataDir:      cfg.Paths.DataDir,
		NeedEmbedder: needEmbedder,
	}), nil
}

func renderChecks(out *output.Writer, results []preflight.CheckResult, verbose bool) {
	out.Section("System checks")
	for _, r := range results {
		switch {
		case r.Status == preflight.StatusPass:
			out.Successf("%-17s %s", r.Name, r.Message)
		case r.IsCritical():
			out.Errorf("%-17s %s", r.Name, r.Message)
		default:
			out.Warningf("%-17s %s", r.Name, r.Message)
		}
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			out.Statusf("", "  %s", r.Details)
		}
	}
	out.Newline()
	out.KV("status", preflight.Summary(results))
}

func newDoctorReport(results []preflight.CheckResult) doctorReport {
	report := doctorReport{Status: preflight.Summary(results), Checks: results}
	for _, r := range results {
		if r.IsCritical() {
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		} else if r.Status != preflight.StatusPass {
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}
	return report
}
