package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/workpump"
	"github.com/jpalmerr/workpump/config"
)

const (
	shutdownTimeout = 30 * time.Second
)

// newLogger creates the process logger described by cfg.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads the --config flag and loads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// serveCmd runs the pipeline.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline and dashboard server",
	Long: `Run the workpump pipeline.

The server will:
  - Load configuration from the YAML file and WORKPUMP_* variables
  - Open the store and apply migrations
  - Re-admit every pending item, then poll for new ones
  - Execute items on the worker pool, logging each payload
  - Serve the dashboard, JSON API and /metrics on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM, then drains
in-flight executions.

Example:
  workpump serve -c config.yaml
  WORKPUMP_STORE_DRIVER=memory workpump serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// logProcessor is the built-in processor: it logs the payload and succeeds.
func logProcessor(logger *slog.Logger) workpump.Processor {
	return func(ctx context.Context, it workpump.WorkItem) error {
		logger.InfoContext(ctx, "processing item",
			"item_id", it.ID,
			"attempt", it.AttemptCount,
			"payload", it.Payload,
		)
		return nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.Log)

	logger.Info("config loaded",
		"store", cfg.Store.Driver,
		"workers", cfg.Workers,
		"batch_size", cfg.BatchSize,
	)

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := workpump.OpenStore(ctx, config.BuildStoreConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	opts := config.BuildOptions(cfg, st, logger)
	opts = append(opts,
		workpump.WithProcessor(logProcessor(logger)),
		workpump.WithOutcomeCallback(func(it workpump.WorkItem) {
			logger.Info("item finished", "item_id", it.ID, "state", it.State, "attempts", it.AttemptCount)
		}),
	)

	p, err := workpump.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	// start pipeline - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- p.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("pipeline error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for the drain with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("pipeline error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
