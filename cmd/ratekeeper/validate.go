package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"jdhub/ratekeeper/pkg/cli"
	"jdhub/ratekeeper/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file, including environment overrides,
and print the resulting service limits.

Every invalid field is reported, not only the first.

Examples:
  # Validate the default config file
  ratekeeper validate

  # Validate a specific file and print limits as JSON
  ratekeeper validate --config /etc/ratekeeper/config.yaml --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json, csv")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(validateFlags.format)
	if err != nil {
		return err
	}

	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return cli.NewConfigError("env", err.Error())
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) && len(verr.Errors) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s is invalid:\n", cfgFile)
			for _, fe := range verr.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", fe.Error())
			}
			return cli.NewConfigError(verr.Errors[0].Field, fmt.Sprintf("%d validation errors", len(verr.Errors)))
		}
		return cli.NewConfigError("", err.Error())
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText {
		fmt.Fprintf(out, "✓ %s is valid\n\n", cfgFile)
	}
	return cli.NewFormatter(format).FormatTo(out, limitsTable(cfg.Limits.Services))
}
