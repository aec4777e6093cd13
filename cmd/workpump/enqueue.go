package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/workpump"
	"github.com/jpalmerr/workpump/config"
)

// enqueueCmd inserts pending items into the store.
var enqueueCmd = &cobra.Command{
	Use:   "enqueue PAYLOAD...",
	Short: "Insert pending items",
	Long: `Insert one pending item per argument and print the new ids.

A running pipeline admits them on its next poll.

Example:
  workpump enqueue -c config.yaml '{"invoice": 42}' '{"invoice": 43}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == config.DriverMemory {
		return errors.New("enqueue needs a durable store, the memory driver is per-process")
	}

	ctx := cmd.Context()
	st, err := workpump.OpenStore(ctx, config.BuildStoreConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	for _, payload := range args {
		it, err := st.Insert(ctx, payload)
		if err != nil {
			return fmt.Errorf("failed to enqueue: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), it.ID)
	}
	return nil
}
