package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/mcp"
	"github.com/framescope/framescope/internal/output"
	"github.com/framescope/framescope/internal/validation"
)

func newValidateCmd() *cobra.Command {
	var (
		jsonOutput  bool
		minPassRate float64
	)

	cmd := &cobra.Command{
		Use:   "validate <queries.yaml>",
		Short: "Run retrieval regression queries",
		Long: `Run a YAML file of regression queries through the search_keyframes tool
and report which expected frames were found.

Positive queries list frame keys (or key prefixes such as L01_V002) that
must rank within the top N results. Negative queries only have to finish,
with or without an error.`,
		Example: `  framescope validate queries.yaml
  framescope validate queries.yaml --min-pass-rate 0.8 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := validation.LoadQueries(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := openEngine(cmd.Context(), cfg, engineOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			srv, err := mcp.NewServer(eng.search, eng.selection, eng.embedder, cfg)
			if err != nil {
				return err
			}
			srv.SetIndexInfo(eng.table.Len(), eng.indexInfo)

			report := validation.NewValidator(srv).RunAll(cmd.Context(), set)

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				if err := out.JSON(report); err != nil {
					return err
				}
			} else {
				renderValidation(out, report)
			}

			if report.PassRate() < minPassRate || report.NegativePass < report.NegativeTotal {
				return fserrors.New(fserrors.ErrCodeSearchFailed,
					fmt.Sprintf("%d of %d positive and %d of %d negative queries passed",
						report.PositivePass, report.PositiveTotal, report.NegativePass, report.NegativeTotal), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().Float64Var(&minPassRate, "min-pass-rate", 1, "Fail below this share of passing positive queries")

	return cmd
}

func renderValidation(out *output.Writer, r *validation.Report) {
	row := func(tr validation.TestResult) {
		label := tr.Spec.ID
		if tr.Spec.Name != "" {
			label += " " + tr.Spec.Name
		}
		ms := float64(tr.Duration.Microseconds()) / 1000
		switch {
		case !tr.Passed && tr.Error != "":
			out.Errorf("%s: %s", label, tr.Error)
		case !tr.Passed:
			out.Errorf("%s: expected %s, got %s", label,
				strings.Join(tr.Spec.Expected, ", "), strings.Join(tr.TopResults, ", "))
		case tr.MatchedAt >= 0:
			out.Successf("%s: #%d (%.1f ms)", label, tr.MatchedAt+1, ms)
		default:
			out.Successf("%s (%.1f ms)", label, ms)
		}
	}

	if len(r.Positive) > 0 {
		out.Section("Positive")
		for _, tr := range r.Positive {
			row(tr)
		}
	}
	if len(r.Negative) > 0 {
		out.Newline()
		out.Section("Negative")
		for _, tr := range r.Negative {
			row(tr)
		}
	}
	out.Newline()
	out.KV("positive", fmt.Sprintf("%d/%d (%.0f%%)", r.PositivePass, r.PositiveTotal, r.PassRate()*100))
	out.KV("negative", fmt.Sprintf("%d/%d", r.NegativePass, r.NegativeTotal))
}
