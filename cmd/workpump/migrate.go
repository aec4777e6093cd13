package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/workpump"
	"github.com/jpalmerr/workpump/config"
)

// migrateCmd applies schema migrations and exits.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store schema migrations",
	Long: `Open the configured store, apply any pending schema migrations and exit.

serve applies migrations on startup as well; this command lets a deploy run
them as a separate step.

Example:
  WORKPUMP_STORE_DRIVER=postgres WORKPUMP_STORE_DSN=postgres://... workpump migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := workpump.OpenStore(cmd.Context(), config.BuildStoreConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", cfg.Store.Driver)
	return nil
}
