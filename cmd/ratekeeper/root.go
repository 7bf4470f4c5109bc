package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jdhub/ratekeeper/pkg/cli"
)

var (
	// Global flags
	cfgFile  string
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "ratekeeper",
	Short: "Ratekeeper - rate limiting and cost governance for external APIs",
	Long: `Ratekeeper enforces per-service rate limits and cost budgets on calls to
external APIs such as LLM providers.

Callers check their estimated usage before each call and record the measured
usage afterwards. Ratekeeper keeps sliding windows and token buckets per
service, persists usage records, and reports statistics and cost
optimization recommendations.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a status derived from the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env.local, .env)")
}
