package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framescope/framescope/internal/config"
	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/output"
	"github.com/framescope/framescope/internal/selection"
	"github.com/framescope/framescope/internal/store"
)

func newSelectCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Manage selected frames",
		Long: `Mark frames as selected for a user and export the selection as CSV
(frame_id,frame_path). Selections persist across runs and are marked in
search results.`,
	}
	cmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Selection owner (default from config)")

	cmd.AddCommand(newSelectToggleCmd(&user))
	cmd.AddCommand(newSelectListCmd(&user))
	cmd.AddCommand(newSelectClearCmd(&user))
	cmd.AddCommand(newSelectExportCmd(&user))

	return cmd
}

// openSelection loads the frame table and the configured selection store.
// The returned close func releases the store.
func openSelection(cfg *config.Config) (*selection.Service, func() error, error) {
	table, err := frame.Load(cfg.Paths.MetadataDir, cfg.LoadOptions())
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewSelectionStore(cfg.Selection.Backend, cfg.SelectionPath())
	if err != nil {
		return nil, nil, fserrors.New(fserrors.ErrCodeSelectionStore, "failed to open selection store", err)
	}
	svc, err := selection.NewService(st, table)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return svc, st.Close, nil
}

// withSelection runs fn against the selection service for the resolved user.
func withSelection(ctx context.Context, user string, fn func(ctx context.Context, cfg *config.Config, svc *selection.Service, user string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if user == "" {
		user = cfg.Selection.User
	}
	svc, closeFn, err := openSelection(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()
	return fn(ctx, cfg, svc, user)
}

func newSelectToggleCmd(user *string) *cobra.Command {
	var score float64

	cmd := &cobra.Command{
		Use:   "toggle <frame-id>...",
		Short: "Select or deselect frames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSelection(cmd.Context(), *user, func(ctx context.Context, _ *config.Config, svc *selection.Service, user string) error {
				out := output.New(cmd.OutOrStdout())
				for _, key := range args {
					selected, err := svc.Toggle(ctx, user, key, score)
					if err != nil {
						return err
					}
					if selected {
						out.Successf("selected %s", key)
					} else {
						out.Statusf("-", "deselected %s", key)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&score, "score", 0, "Score stored with newly selected frames")
	return cmd
}

func newSelectListCmd(user *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List selected frames",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSelection(cmd.Context(), *user, func(ctx context.Context, _ *config.Config, svc *selection.Service, user string) error {
				frames, err := svc.Selected(ctx, user)
				if err != nil {
					return err
				}
				out := output.New(cmd.OutOrStdout())
				if jsonOutput {
					return out.JSON(frames)
				}
				if len(frames) == 0 {
					out.Status("", "No frames selected for "+user)
					return nil
				}
				out.Section(fmt.Sprintf("Selected frames (%s)", user))
				for _, f := range frames {
					out.Statusf("", "%-20s %.4f  %s", f.Key, f.FinalScore, f.Keyframe.FramePath)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newSelectClearCmd(user *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop the whole selection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSelection(cmd.Context(), *user, func(ctx context.Context, _ *config.Config, svc *selection.Service, user string) error {
				if err := svc.Clear(ctx, user); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("cleared selection for %s", user)
				return nil
			})
		},
	}
}

func newSelectExportCmd(user *string) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the selection as CSV",
		Example: `  framescope select export
  framescope select export -o picks.csv
  framescope select export -o -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSelection(cmd.Context(), *user, func(ctx context.Context, cfg *config.Config, svc *selection.Service, user string) error {
				if path == "-" {
					_, err := svc.ExportCSV(ctx, cmd.OutOrStdout(), user)
					return err
				}
				target := path
				if target == "" {
					target = cfg.Paths.ResultsCSV
				}
				n, err := svc.SaveCSV(ctx, target, user)
				if err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("exported %d frames to %s", n, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&path, "output", "o", "", "CSV path, - for stdout (default from config)")
	return cmd
}
