package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"jdhub/ratekeeper/pkg/cli"
	"jdhub/ratekeeper/pkg/config"
	"jdhub/ratekeeper/pkg/limits"
	"jdhub/ratekeeper/pkg/limits/analytics"
	"jdhub/ratekeeper/pkg/limits/recorder"
	"jdhub/ratekeeper/pkg/limits/storage"
	"jdhub/ratekeeper/pkg/pricing"
)

// loadConfig loads dotenv files and the configuration. A missing default
// config file falls back to built-in defaults; an explicit --config must
// exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, cli.NewConfigError("env", err.Error())
	}

	if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		slog.Debug("config file not found, using defaults", "path", cfgFile)
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, cli.NewConfigError("", err.Error())
		}
		return cfg, nil
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}

// configFileExists reports whether the config file is on disk, which
// decides whether limits can be watched.
func configFileExists() bool {
	_, err := os.Stat(cfgFile)
	return err == nil
}

// openStore creates the usage store selected by cfg.
func openStore(cfg *config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{
			MaxRecords: cfg.Memory.MaxRecords,
		}), nil
	case "sqlite":
		store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
			Path:               cfg.SQLite.Path,
			Driver:             cfg.SQLite.Driver,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// engine bundles the components every command builds from configuration.
type engine struct {
	limits  *limits.Service
	pricing *pricing.Calculator
	store   storage.Store
}

// newEngine builds the limits service from cfg. Metrics are registered with
// reg when it is non-nil. The service owns the store; Close releases both.
func newEngine(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*engine, error) {
	services, err := cfg.Limits.TypedServices()
	if err != nil {
		return nil, cli.NewConfigError("limits.services", err.Error())
	}

	store, err := openStore(&cfg.Storage)
	if err != nil {
		return nil, err
	}

	calc := pricing.NewCalculator(&cfg.Pricing)
	thresholds := analytics.ThresholdsFromConfig(&cfg.Analytics)

	var m *limits.Metrics
	if reg != nil {
		m = limits.NewMetrics(reg, cfg.Telemetry.Metrics.Namespace)
	}

	svc, err := limits.NewService(limits.Config{
		Limits: services,
		Store:  store,
		Recorder: &recorder.Config{
			AsyncBuffer:  cfg.Recorder.AsyncBuffer,
			WriteTimeout: cfg.Recorder.WriteTimeout,
		},
		Advisor:                calc,
		Thresholds:             &thresholds,
		StatsPeriod:            cfg.Analytics.DefaultPeriod,
		RecommendationLookback: cfg.Analytics.RecommendationLookback,
		Metrics:                m,
		Logger:                 logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &engine{limits: svc, pricing: calc, store: store}, nil
}

// Close flushes pending usage records and closes the store.
func (e *engine) Close() error {
	return e.limits.Close()
}
