// Package main is the entry point for the gulfwatch binary.
// It rewrites "Gulf of America" to "Gulf of Mexico" in HTML documents, once,
// continuously for a watched file, or for every page served through a proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/gulfwatch/pkg/config"
	"github.com/polisai/gulfwatch/pkg/domain"
	"github.com/polisai/gulfwatch/pkg/filter"
	"github.com/polisai/gulfwatch/pkg/logging"
	"github.com/polisai/gulfwatch/pkg/proxy"
	"github.com/polisai/gulfwatch/pkg/rewrite"
	"github.com/polisai/gulfwatch/pkg/session"
	"github.com/polisai/gulfwatch/pkg/telemetry"
	"github.com/polisai/gulfwatch/pkg/watch"
)

const (
	defaultLogLevel         = "info"
	gracefulShutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd creates the root command for gulfwatch
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gulfwatch",
		Short: "Keep \"Gulf of America\" reading \"Gulf of Mexico\"",
		Long: `gulfwatch rewrites every occurrence of "Gulf of America" to "Gulf of Mexico"
in the visible text of HTML documents. Code, scripts, styles, form fields
and editable regions are left untouched.

Examples:
  gulfwatch rewrite page.html -o page.fixed.html
  gulfwatch watch --input draft.html --output public/index.html
  gulfwatch proxy --upstream https://example.com --listen :8090`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Human readable log output instead of JSON")

	rootCmd.AddCommand(newRewriteCmd(), newWatchCmd(), newProxyCmd())
	return rootCmd
}

// loadRuntime loads configuration and builds the logger for a subcommand.
// Flags that were set explicitly override the file and the environment.
func loadRuntime(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if cmd.Flags().Changed("log-level") {
		level, _ := cmd.Flags().GetString("log-level")
		cfg.Logging.Level = level
		if err := cfg.Logging.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: logging configuration: %w", domain.ErrConfigInvalid, err)
		}
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty, _ = cmd.Flags().GetBool("pretty")
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// sessionOptions builds the engine settings shared by every subcommand and
// logs the active rule.
func sessionOptions(cfg *config.Config, logger *slog.Logger) session.Options {
	rule := rewrite.Default()
	f := filter.New(filter.DefaultExclusions())
	logger.Info("Rewrite rule loaded",
		"search", rule.Search(),
		"replacement", rule.Replacement(),
		"excluded_tags", f.Exclusions().Len(),
	)
	return session.Options{
		Filter:     f,
		Rule:       rule,
		Logger:     logger,
		QueueSize:  cfg.Engine.QueueSize,
		MaxRounds:  cfg.Engine.MaxRounds,
		MaxPending: cfg.Engine.MaxPending,
	}
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Environment:  cfg.Telemetry.Environment,
		Insecure:     cfg.Telemetry.Insecure,
		Headers:      cfg.Telemetry.Headers,
		ResourceTags: cfg.Telemetry.ResourceTags,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}
}

// setupTelemetry installs the tracer provider and returns its shutdown hook.
func setupTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := telemetry.SetupProvider(ctx, telemetryConfig(cfg))
	if err != nil {
		logger.Warn("Telemetry disabled", "error", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}
}

func newRewriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite [file]",
		Short: "Rewrite one HTML document from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRewrite,
	}
	cmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout")
	return cmd
}

func runRewrite(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer setupTelemetry(ctx, cfg, logger)()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		// #nosec G304 -- path is supplied by the operator
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var out io.Writer = cmd.OutOrStdout()
	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	stats, err := session.RewriteHTML(ctx, in, out, sessionOptions(cfg, logger))
	if err != nil {
		return err
	}
	logger.Info("Document rewritten",
		"scanned", stats.Scanned,
		"excluded", stats.Excluded,
		"rewritten", stats.Rewritten,
	)
	return nil
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror an HTML file into a rewritten copy as it changes",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	cmd.Flags().String("input", "", "HTML file to watch")
	cmd.Flags().String("output", "", "File that receives the rewritten document")
	cmd.Flags().Duration("debounce", 0, "Quiet period before reloading after a change")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("input"); v != "" {
		cfg.Watch.Input = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		cfg.Watch.Output = v
	}
	if v, _ := cmd.Flags().GetDuration("debounce"); v > 0 {
		cfg.Watch.Debounce = v
	}

	ctx := cmd.Context()
	defer setupTelemetry(ctx, cfg, logger)()

	w, err := watch.New(watch.Options{
		Input:    cfg.Watch.Input,
		Output:   cfg.Watch.Output,
		Debounce: cfg.Watch.Debounce,
		Session:  sessionOptions(cfg, logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Starting watcher", "input", cfg.Watch.Input, "output", cfg.Watch.Output)
	if err := w.Run(ctx); err != nil {
		return err
	}
	logger.Info("Watcher stopped")
	return nil
}

func newProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve an upstream site with HTML pages rewritten",
		Args:  cobra.NoArgs,
		RunE:  runProxy,
	}
	cmd.Flags().String("upstream", "", "Upstream base URL")
	cmd.Flags().String("listen", "", "Address for proxied traffic")
	cmd.Flags().String("admin-listen", "", "Address for /healthz and /metrics")
	return cmd
}

func runProxy(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("upstream"); v != "" {
		cfg.Proxy.Upstream = v
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Server.DataAddress = v
	}
	if v, _ := cmd.Flags().GetString("admin-listen"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	upstream, err := cfg.Proxy.UpstreamURL()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	defer setupTelemetry(ctx, cfg, logger)()

	metrics := proxy.NewMetrics()
	handler, err := proxy.NewHandler(proxy.Config{
		Upstream:     upstream,
		MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
		Session:      sessionOptions(cfg, logger),
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	dataServer := &http.Server{
		Handler:      metrics.MetricsMiddleware(otelhttp.NewHandler(handler, "gulfwatch.proxy")),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	adminServer := &http.Server{
		Handler:           proxy.NewAdminHandler(metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	if err := serve(dataServer, cfg.Server.DataAddress, "data", logger, errCh); err != nil {
		return err
	}
	if err := serve(adminServer, cfg.Server.AdminAddress, "admin", logger, errCh); err != nil {
		shutdown(dataServer, logger)
		return err
	}

	logger.Info("Proxy started", "upstream", upstream.String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-errCh:
		logger.Error("Server failed", "error", runErr)
	}

	shutdown(dataServer, logger)
	shutdown(adminServer, logger)
	logger.Info("Proxy stopped")
	return runErr
}

// serve binds addr and serves in the background; serve errors go to errCh.
func serve(server *http.Server, addr, name string, logger *slog.Logger, errCh chan<- error) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s server listen on %s: %w", name, addr, err)
	}
	logger.Info("Server listening", "server", name, "addr", ln.Addr().String())

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
	return nil
}

func shutdown(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
}
