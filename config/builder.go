package config

import (
	"log/slog"

	"github.com/jpalmerr/workpump"
)

// BuildStoreConfig converts the store section into the form [workpump.OpenStore]
// expects.
func BuildStoreConfig(cfg *Config) workpump.StoreConfig {
	return workpump.StoreConfig{
		Driver:   cfg.Store.Driver,
		DSN:      cfg.Store.DSN,
		MaxConns: cfg.Store.MaxConns,
	}
}

// BuildOptions converts parsed configuration into pipeline options.
//
// st and logger are passed through; the caller owns the store and adds its
// own processor and callbacks. cfg must come from [Parse] or [Load] so that
// defaults are applied.
func BuildOptions(cfg *Config, st workpump.Store, logger *slog.Logger) []workpump.Option {
	opts := []workpump.Option{
		workpump.WithStore(st),
		workpump.WithPort(cfg.Port),
		workpump.WithPollInterval(cfg.PollInterval.Duration()),
		workpump.WithBatchSize(cfg.BatchSize),
		workpump.WithWorkers(cfg.Workers),
		workpump.WithRetryPolicy(cfg.Retry.Policy()),
	}

	// zero disables the override and keeps the pipeline default
	if cfg.WarmupInterval > 0 {
		opts = append(opts, workpump.WithWarmupInterval(cfg.WarmupInterval.Duration()))
	}

	if cfg.InsertRate > 0 {
		opts = append(opts, workpump.WithInsertRateLimit(cfg.InsertRate, max(cfg.InsertBurst, 1)))
	}

	if cfg.Title != "" {
		opts = append(opts, workpump.WithTitle(cfg.Title))
	}

	if logger != nil {
		opts = append(opts, workpump.WithLogger(logger))
	}

	return opts
}
