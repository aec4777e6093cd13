// Package main is the entry point for the workpump CLI.
//
// workpump can be embedded as a library or run as a standalone binary
// configured by YAML and WORKPUMP_* environment variables. This CLI provides
// the standalone binary.
//
// Usage:
//
//	workpump serve -c config.yaml             # Run the pipeline and dashboard
//	workpump validate -c config.yaml          # Validate configuration
//	workpump migrate -c config.yaml           # Apply store migrations
//	workpump enqueue -c config.yaml a b c     # Insert pending items
//	workpump version                          # Show version info
package main

import (
	"fmt"
	"os"

	// sets GOMEMLIMIT from the cgroup memory limit when one exists
	_ "github.com/KimMachineGun/automemlimit"
	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "workpump",
	Short: "A durable work queue with bounded, retrying workers",
	Long: `workpump admits pending items from a durable store into an in-memory
queue and executes them on a bounded worker pool with exponential backoff.

Quick start:
  1. Create a config file (workpump.yaml)
  2. Run: workpump serve -c workpump.yaml
  3. Add work: workpump enqueue -c workpump.yaml "first job"
  4. Open http://localhost:8080 in your browser

Example config:
  port: 8080
  poll_interval: 5s
  workers: 4
  store:
    driver: sqlite
    dsn: workpump.db`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this workpump binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "workpump %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (optional, WORKPUMP_* env vars override it)")
}
