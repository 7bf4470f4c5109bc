package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"jdhub/ratekeeper/pkg/cli"
)

var statsFlags struct {
	period time.Duration
	format string
}

var statsCmd = &cobra.Command{
	Use:   "stats SERVICE",
	Short: "Show usage statistics for a service",
	Long: `Aggregate the usage recorded for a service over a trailing period.

Statistics are read from the configured store, so this is most useful with
the sqlite backend while a server writes to the same database.

Examples:
  # Last 24 hours
  ratekeeper stats openai

  # Last week as JSON
  ratekeeper stats openai --period 168h --format json`,
	Args: cobra.ExactArgs(1),
	RunE: showStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().DurationVar(&statsFlags.period, "period", 0, "trailing period (default analytics.default_period)")
	statsCmd.Flags().StringVar(&statsFlags.format, "format", "text", "output format: text, json, csv")
}

func showStats(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(statsFlags.format)
	if err != nil {
		return err
	}
	if statsFlags.period < 0 {
		return fmt.Errorf("period must be positive, got %s", statsFlags.period)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	warnMemoryBackend(cmd, cfg.Storage.Backend)

	eng, err := newEngine(cfg, nil, slog.Default())
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	defer eng.Close()

	stats := eng.limits.GetUsageStats(cmd.Context(), args[0], statsFlags.period)
	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), statsTable{stats}); err != nil {
		return err
	}
	if stats.Error != "" && !stats.Partial {
		return cli.NewCommandError("stats", fmt.Errorf("%s", stats.Error))
	}
	return nil
}

// warnMemoryBackend notes that offline commands see no history with the
// in-process store.
func warnMemoryBackend(cmd *cobra.Command, backend string) {
	if backend == "memory" {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: storage backend is memory; no recorded history is available to this command")
	}
}
