package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"jdhub/ratekeeper/pkg/cli"
	"jdhub/ratekeeper/pkg/config"
	"jdhub/ratekeeper/pkg/limits/report"
	"jdhub/ratekeeper/pkg/server"
	"jdhub/ratekeeper/pkg/telemetry/health"
	"jdhub/ratekeeper/pkg/telemetry/logging"
	"jdhub/ratekeeper/pkg/telemetry/metrics"
	"jdhub/ratekeeper/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the ratekeeper server",
	Long: `Start the ratekeeper HTTP server with the specified configuration.

The server answers rate limit checks, records usage, and serves usage
statistics and recommendations until it receives SIGINT or SIGTERM.

Examples:
  # Start with default config
  ratekeeper run

  # Start with custom config
  ratekeeper run --config /etc/ratekeeper/config.yaml

  # Override listen address
  ratekeeper run --listen 0.0.0.0:8080

  # Validate config without starting server
  ratekeeper run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.Setup(cfg.Telemetry.Logging)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	fmt.Fprintf(out, "Ratekeeper v%s\n", Version)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to initialize tracing: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	var (
		collector *metrics.Collector
		reg       prometheus.Registerer
	)
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
		collector.SetBuildInfo(Version, GitCommit)
		reg = collector.Registerer()
	}

	eng, err := newEngine(cfg, reg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("failed to close limits service", "error", err)
		}
	}()
	fmt.Fprintf(out, "✓ Limits loaded (%d services, %s storage)\n", len(eng.limits.Services()), cfg.Storage.Backend)

	if cfg.Limits.Watch && configFileExists() {
		if err := watchLimits(ctx, eng, logger); err != nil {
			logger.Warn("limits hot reload disabled", "error", err)
		} else {
			fmt.Fprintln(out, "✓ Watching limits for changes")
		}
	}

	if cfg.Analytics.Report.Enabled {
		sched := report.NewScheduler(eng.limits, report.Config{
			Schedule: cfg.Analytics.Report.Schedule,
			Period:   cfg.Analytics.DefaultPeriod,
		}, reg, cfg.Telemetry.Metrics.Namespace)
		if err := sched.Start(ctx); err != nil {
			logger.Warn("failed to start report scheduler", "error", err)
		} else {
			defer sched.Stop()
			if next := sched.NextRun(); next != nil {
				logger.Debug("report scheduler started", "next_run", next)
			}
		}
	}

	checker := health.New(5 * time.Second)
	registerHealthChecks(checker, eng, cfg.Recorder.AsyncBuffer)

	metricsPath := cfg.Telemetry.Metrics.Path
	srv, err := server.New(&cfg.Server, server.Deps{
		Limits:      eng.limits,
		Pricing:     eng.pricing,
		Metrics:     collector,
		Health:      checker,
		Logger:      logger,
		MetricsPath: metricsPath,
		Version:     Version,
		Commit:      GitCommit,
		BuildTime:   BuildDate,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintf(out, "✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	if collector != nil {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, metricsPath)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// watchLimits reloads service limits whenever the config file changes.
func watchLimits(ctx context.Context, eng *engine, logger *slog.Logger) error {
	watcher, err := config.NewLimitsWatcher(cfgFile, logger)
	if err != nil {
		return err
	}

	go func() {
		err := watcher.Watch(ctx, func(lc *config.LimitsConfig) error {
			services, err := lc.TypedServices()
			if err != nil {
				return err
			}
			return eng.limits.ReplaceRateLimits(services)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("limits watcher stopped", "error", err)
		}
	}()
	return nil
}

// registerHealthChecks adds readiness checks for the store and recorder.
func registerHealthChecks(checker *health.Checker, eng *engine, bufferSize int) {
	checker.RegisterCheck("store", func(ctx context.Context) error {
		_, err := eng.store.Query(ctx, "", time.Now())
		return err
	})
	checker.RegisterCheck("recorder", func(context.Context) error {
		stats := eng.limits.RecorderStats()
		if bufferSize > 0 && stats.Pending >= int64(bufferSize) {
			return fmt.Errorf("usage buffer full (%d pending)", stats.Pending)
		}
		return nil
	})
}
