package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the pipeline.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate workpump configuration without starting the pipeline.

This command parses the YAML, applies WORKPUMP_* overrides, expands
environment variables in the store DSN, and validates all fields. It does
not connect to the store. It's useful for CI/CD pipelines or pre-deployment
checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  workpump validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	if configFile == "" {
		fmt.Fprintf(out, "Config is valid! (environment and defaults only)\n")
	} else {
		fmt.Fprintf(out, "Config is valid!\n")
	}
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  Batch size:    %d\n", cfg.BatchSize)
	fmt.Fprintf(out, "  Workers:       %d\n", cfg.Workers)
	fmt.Fprintf(out, "  Retry:         %d attempts, %s initial delay\n",
		cfg.Retry.Attempts, cfg.Retry.InitialDelay.Duration())
	fmt.Fprintf(out, "  Store:         %s\n", cfg.Store.Driver)

	return nil
}
