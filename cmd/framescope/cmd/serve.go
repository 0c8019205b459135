package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/framescope/framescope/internal/logging"
	"github.com/framescope/framescope/internal/mcp"
	"github.com/framescope/framescope/internal/telemetry"
)

type serveOptions struct {
	transport   string
	metricsAddr string
	logLevel    string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve keyframe search to AI clients over MCP",
		Long: `Start the MCP server. Clients get the search_keyframes, toggle_selection,
list_selection, clear_selection and index_status tools.

Stdout carries the protocol, so logs only go to ~/.framescope/logs/.
With --metrics-addr, Prometheus metrics are served on /metrics.`,
		Example: `  framescope serve
  framescope serve --metrics-addr :9464`,
		Annotations: map[string]string{selfLogging: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport: stdio")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default from config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := opts.logLevel
	if level == "" {
		level = cfg.Server.LogLevel
	}
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupDefault(logging.MCPConfig(level))
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := opts.metricsAddr
	if !cmd.Flags().Changed("metrics-addr") {
		addr = cfg.Server.MetricsAddr
	}
	var exporter *telemetry.PrometheusExporter
	if addr != "" {
		exporter = telemetry.NewPrometheusExporter(nil)
	}

	eng, err := openEngine(ctx, cfg, engineOptions{telemetry: true, exporter: exporter})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	srv, err := mcp.NewServer(eng.search, eng.selection, eng.embedder, cfg)
	if err != nil {
		return err
	}
	srv.SetIndexInfo(eng.table.Len(), eng.indexInfo)
	srv.SetMetrics(eng.metrics)

	if exporter != nil {
		shutdown := serveMetrics(addr, exporter.Handler())
		defer shutdown()
	}

	return srv.Serve(ctx, opts.transport)
}

// serveMetrics exposes handler on addr/metrics in the background and returns
// a func that shuts the listener down.
func serveMetrics(addr string, handler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics_server_starting", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics_server_failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
