package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"jdhub/ratekeeper/pkg/cli"
)

var recommendFlags struct {
	format string
}

var recommendCmd = &cobra.Command{
	Use:   "recommend SERVICE",
	Short: "Show cost optimization recommendations for a service",
	Long: `Analyze recorded usage of a service and suggest ways to reduce cost:
cheaper models for simple calls, reliability fixes, batching, and budget
warnings.

Examples:
  ratekeeper recommend openai
  ratekeeper recommend openai --format json`,
	Args: cobra.ExactArgs(1),
	RunE: showRecommendations,
}

func init() {
	rootCmd.AddCommand(recommendCmd)

	recommendCmd.Flags().StringVar(&recommendFlags.format, "format", "text", "output format: text, json, csv")
}

func showRecommendations(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(recommendFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	warnMemoryBackend(cmd, cfg.Storage.Backend)

	eng, err := newEngine(cfg, nil, slog.Default())
	if err != nil {
		return cli.NewCommandError("recommend", err)
	}
	defer eng.Close()

	result := eng.limits.GetCostOptimizationRecommendations(cmd.Context(), args[0])
	if result.Error != "" {
		return cli.NewCommandError("recommend", fmt.Errorf("%s", result.Error))
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText && len(result.Recommendations) == 0 {
		fmt.Fprintf(out, "No recommendations for %s\n", result.Service)
		return nil
	}
	if err := cli.NewFormatter(format).FormatTo(out, recommendationsTable{result}); err != nil {
		return err
	}

	if format == cli.FormatText {
		fmt.Fprintln(out)
		for _, r := range result.Recommendations {
			fmt.Fprintf(out, "%s: %s\n", r.Title, r.Description)
		}
	}
	return nil
}
