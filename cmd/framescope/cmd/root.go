// Package cmd provides the CLI commands for FrameScope.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	fserrors "github.com/framescope/framescope/internal/errors"
	"github.com/framescope/framescope/internal/logging"
	"github.com/framescope/framescope/internal/profiling"
	"github.com/framescope/framescope/pkg/version"
)

// Global flags.
var (
	configDir string
	debugMode bool
	noColor   bool

	profileCPU   string
	profileMem   string
	profileTrace string

	profiles       *profiling.Session
	loggingCleanup func()
)

// selfLogging marks commands that configure logging themselves.
const selfLogging = "self-logging"

// NewRootCmd creates the root command for the framescope CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "framescope",
		Short: "Multi-modal keyframe search",
		Long: `FrameScope searches video keyframes by free text, by objects drawn on a
7x7 position grid and by tags, fusing the three rankings with weighted
reciprocal rank fusion.

Point it at a metadata directory (keyframes_metadata.json and friends),
build the text index once, then search or serve the index to AI clients
over MCP.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("framescope version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configDir, "config", "C", ".", "Directory holding .framescope.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.framescope/logs/ and stderr")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSelectCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging installs file logging and starts profiles.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[selfLogging] == "" {
		logCfg := logging.DefaultConfig()
		if debugMode {
			logCfg = logging.DebugConfig()
			logCfg.Stderr = cmd.ErrOrStderr()
		}
		if cleanup, err := logging.SetupDefault(logCfg); err == nil {
			loggingCleanup = cleanup
			slog.Debug("debug_logging_enabled",
				slog.String("log_file", logCfg.FilePath),
				slog.String("version", version.Version))
		}
	}

	var err error
	profiles, err = profiling.Start(profiling.Options{
		CPU:   profileCPU,
		Heap:  profileMem,
		Trace: profileTrace,
	})
	return err
}

// stopProfilingAndLogging flushes profiles and closes the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	err := profiles.Stop()
	profiles = nil
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints any error.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err == nil {
		return nil
	}
	// hooks are skipped on failure
	_ = stopProfilingAndLogging(root, nil)

	var fe *fserrors.FrameScopeError
	switch {
	case errors.As(err, &fe) && debugMode:
		_, _ = fmt.Fprintln(root.ErrOrStderr(), fserrors.FormatForUser(err, true))
	case fe != nil:
		_, _ = fmt.Fprint(root.ErrOrStderr(), fserrors.FormatForCLI(err))
	default:
		_, _ = fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}
