package workpump

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/workpump/internal/retry"
	"github.com/jpalmerr/workpump/internal/worker"
)

// Processor does the work for one item. Returning nil marks the item
// processed; an error is retried per the [RetryPolicy]. It should honour ctx.
type Processor = worker.Processor

// RetryPolicy controls attempts and exponential backoff.
type RetryPolicy = retry.Policy

// ErrPermanent marks a processor error that must not be retried.
var ErrPermanent = worker.ErrPermanent

// pipelineConfig holds mutable state during Pipeline construction.
type pipelineConfig struct {
	title          string
	store          Store
	processor      Processor
	pollInterval   time.Duration
	batchSize      int
	workers        int
	retry          RetryPolicy
	warmupInterval time.Duration
	insertRate     float64
	insertBurst    int
	port           int
	serveHTTP      bool
	registry       *prometheus.Registry
	logger         *slog.Logger
	callbacks      []func(WorkItem)
}

// Option is a function that configures a [Pipeline] during construction.
//
// Options return an error if validation fails.
type Option func(*pipelineConfig) error

// WithStore sets the durable store. Defaults to an in-memory store.
//
// Example:
//
//	st, _ := workpump.OpenStore(ctx, workpump.StoreConfig{Driver: "sqlite", DSN: "items.db"})
//	p, err := workpump.New(workpump.WithStore(st))
//
// Returns an error if the store is nil.
func WithStore(s Store) Option {
	return func(cfg *pipelineConfig) error {
		if s == nil {
			return errors.New("store cannot be nil")
		}
		cfg.store = s
		return nil
	}
}

// WithProcessor sets the function that does the work for each item.
// Defaults to a processor that succeeds immediately.
//
// Returns an error if the processor is nil.
func WithProcessor(fn Processor) Option {
	return func(cfg *pipelineConfig) error {
		if fn == nil {
			return errors.New("processor cannot be nil")
		}
		cfg.processor = fn
		return nil
	}
}

// WithPollInterval sets the time between admission cycles. Defaults to 5s.
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *pipelineConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithBatchSize caps the number of items admitted per cycle. Defaults to 50.
//
// Returns an error if the value is zero or negative.
func WithBatchSize(n int) Option {
	return func(cfg *pipelineConfig) error {
		if n <= 0 {
			return errors.New("batch size must be positive")
		}
		cfg.batchSize = n
		return nil
	}
}

// WithWorkers sets the maximum number of items executing at once.
// Defaults to 4.
//
// Returns an error if the value is zero or negative.
func WithWorkers(n int) Option {
	return func(cfg *pipelineConfig) error {
		if n <= 0 {
			return errors.New("workers must be positive")
		}
		cfg.workers = n
		return nil
	}
}

// WithRetryPolicy sets attempts and backoff. Defaults to 3 attempts with a
// 500ms initial delay.
//
// Example:
//
//	workpump.WithRetryPolicy(workpump.RetryPolicy{
//	    Attempts:     5,
//	    InitialDelay: time.Second,
//	    MaxDelay:     30 * time.Second,
//	})
//
// Returns an error if the policy is invalid.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cfg *pipelineConfig) error {
		if err := p.Validate(); err != nil {
			return err
		}
		cfg.retry = p
		return nil
	}
}

// WithWarmupInterval sets the period of the queue depth probe.
// Defaults to 30s.
//
// Returns an error if the duration is zero or negative.
func WithWarmupInterval(d time.Duration) Option {
	return func(cfg *pipelineConfig) error {
		if d <= 0 {
			return errors.New("warmup interval must be positive")
		}
		cfg.warmupInterval = d
		return nil
	}
}

// WithInsertRateLimit caps POST /api/items at perSecond requests with the
// given burst. Excess requests get 429. Unlimited by default.
func WithInsertRateLimit(perSecond float64, burst int) Option {
	return func(cfg *pipelineConfig) error {
		if perSecond <= 0 {
			return errors.New("insert rate must be positive")
		}
		if burst < 1 {
			return errors.New("insert burst must be at least 1")
		}
		cfg.insertRate = perSecond
		cfg.insertBurst = burst
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard, API and metrics.
// Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *pipelineConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		cfg.serveHTTP = true
		return nil
	}
}

// WithoutHTTP disables the HTTP server. The pipeline still runs.
func WithoutHTTP() Option {
	return func(cfg *pipelineConfig) error {
		cfg.serveHTTP = false
		return nil
	}
}

// WithRegistry registers the pipeline's metrics with reg and serves reg at
// /metrics. Defaults to a private registry per pipeline.
//
// Returns an error if the registry is nil.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cfg *pipelineConfig) error {
		if reg == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the pipeline.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pipelineConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithOutcomeCallback registers a function called when an item reaches a
// terminal state, with the item as persisted.
//
// Multiple callbacks may be registered; they execute in registration order
// on a single goroutine. Delivery is best effort: up to 1024 terminal
// outcomes are buffered, and further outcomes are dropped while a slow
// callback holds the goroutine.
// Panics within callbacks are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithOutcomeCallback(cb func(WorkItem)) Option {
	return func(cfg *pipelineConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "workpump".
func WithTitle(title string) Option {
	return func(cfg *pipelineConfig) error {
		cfg.title = title
		return nil
	}
}
