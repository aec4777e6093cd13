package workpump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/workpump/dashboard"
	"github.com/jpalmerr/workpump/internal/metrics"
	"github.com/jpalmerr/workpump/internal/poller"
	"github.com/jpalmerr/workpump/internal/queue"
	"github.com/jpalmerr/workpump/internal/retry"
	"github.com/jpalmerr/workpump/internal/server"
	"github.com/jpalmerr/workpump/internal/store"
	"github.com/jpalmerr/workpump/internal/warmup"
	"github.com/jpalmerr/workpump/internal/worker"
	"github.com/jpalmerr/workpump/item"
)

const (
	defaultPollInterval   = poller.DefaultInterval
	defaultBatchSize      = poller.DefaultBatchSize
	defaultWorkers        = worker.DefaultWorkers
	defaultWarmupInterval = warmup.DefaultInterval
	defaultPort           = 8080

	// outcomeBuffer holds terminal snapshots awaiting the outcome callbacks.
	outcomeBuffer = 1024
)

// ErrRunning is returned by [Pipeline.Start] while a previous Start is still
// running.
var ErrRunning = errors.New("pipeline already running")

// Pipeline is the main orchestrator: it admits pending items from a durable
// [Store] into an in-memory queue and executes them on a bounded worker pool.
//
// It is created using [New] with functional options and started with
// [Pipeline.Start]. The typical lifecycle is:
//
//	p, err := workpump.New(
//	    workpump.WithStore(st),
//	    workpump.WithProcessor(process),
//	)
//	if err != nil {
//	    slog.Error("failed to create pipeline", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	p.Start(ctx) // blocks until context cancelled
//
// Cancelling the context stops admission and drains in-flight executions
// before Start returns.
type Pipeline struct {
	title          string
	store          *store.Broadcaster
	ping           func(ctx context.Context) error
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
	metrics        *metrics.Metrics
	logger         *slog.Logger
	callbacks      []func(WorkItem)

	running atomic.Bool
	// queue and pool are replaced on every Start; readers tolerate nil.
	queue atomic.Pointer[queue.Queue[item.WorkItem]]
	pool  atomic.Pointer[worker.Pool]
}

// New creates a new [Pipeline] with the given options.
//
// All options have defaults:
//   - Store: in-memory
//   - Processor: succeeds immediately
//   - Poll interval: 5 seconds, batch size 50
//   - Workers: 4
//   - Retry: 3 attempts, 500ms initial delay, doubling
//   - Port: 8080
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Pipeline, error) {
	cfg := &pipelineConfig{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		workers:        defaultWorkers,
		retry:          retry.DefaultPolicy(),
		warmupInterval: defaultWarmupInterval,
		port:           defaultPort,
		serveHTTP:      true,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.store == nil {
		cfg.store = store.NewMemoryStore()
	}
	if cfg.processor == nil {
		cfg.processor = worker.Nop
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		title:          cfg.title,
		store:          store.NewBroadcaster(cfg.store),
		processor:      cfg.processor,
		pollInterval:   cfg.pollInterval,
		batchSize:      cfg.batchSize,
		workers:        cfg.workers,
		retry:          cfg.retry,
		warmupInterval: cfg.warmupInterval,
		insertRate:     cfg.insertRate,
		insertBurst:    cfg.insertBurst,
		port:           cfg.port,
		serveHTTP:      cfg.serveHTTP,
		registry:       cfg.registry,
		logger:         logger,
		callbacks:      cfg.callbacks,
	}
	if pinger, ok := cfg.store.(interface {
		Ping(ctx context.Context) error
	}); ok {
		p.ping = pinger.Ping
	}

	p.metrics = metrics.New(cfg.registry)
	p.metrics.ObserveQueueDepth(p.QueueDepth)
	return p, nil
}

// Start rehydrates the queue, then runs admission, execution and the HTTP
// server until ctx is cancelled.
//
// Start is a blocking call. During execution:
//
//   - Every unqueued item is admitted before the first execution starts
//   - The store is polled immediately, then at the configured interval
//   - At most Workers items execute at once, each retried per the policy
//   - The dashboard, API and metrics are served on the configured port
//
// On cancellation Start stops polling, waits for in-flight executions to
// finish and returns nil. Items left in the queue stay queued in the store.
//
// Returns an error if rehydration fails or the HTTP server fails to start,
// and [ErrRunning] if the pipeline is already running.
func (p *Pipeline) Start(ctx context.Context) error {
	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	p.logger.Info("workpump starting",
		"workers", p.workers,
		"batch_size", p.batchSize,
		"retry_attempts", p.retry.Attempts,
	)
	p.logger.Info("polling configured", "interval", p.pollInterval.String())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := queue.New[item.WorkItem]()
	p.queue.Store(q)

	var wg sync.WaitGroup
	var outcomes <-chan item.WorkItem
	if len(p.callbacks) > 0 {
		outcomes = p.store.SubscribeFunc(isTerminal, outcomeBuffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.deliverOutcomes(outcomes)
		}()
	}

	admission := poller.New(p.store, q, p.pollInterval, p.batchSize, p.logger, p.metrics)
	pool := worker.New(p.store, q, p.processor, worker.Config{
		Workers: p.workers,
		Retry:   p.retry,
		Logger:  p.logger,
		Metrics: p.metrics,
	})
	p.pool.Store(pool)

	poolDone := make(chan struct{})
	// cleanup stops admission, drains the pool and releases the queue
	cleanup := func() {
		cancel()
		admission.Stop()
		<-poolDone
		q.Close()
		if outcomes != nil {
			p.store.Unsubscribe(outcomes)
		}
		wg.Wait()
	}

	// backlog is admitted before any worker consumes
	if _, err := admission.Rehydrate(runCtx); err != nil {
		close(poolDone)
		cleanup()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	go func() {
		defer close(poolDone)
		if err := pool.Run(runCtx); err != nil {
			p.logger.Error("worker pool failed", "error", err)
		}
	}()

	admission.Start(runCtx)

	probe := warmup.New(p.QueueDepth, p.warmupInterval, p.logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		probe.Run(runCtx)
	}()

	if p.serveHTTP {
		p.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", p.port))
		httpServer := server.NewServer(p.store, server.Config{
			Port:        p.port,
			Assets:      dashboard.Assets,
			Title:       p.title,
			Logger:      p.logger,
			QueueDepth:  p.QueueDepth,
			InFlight:    p.InFlight,
			Gatherer:    p.registry,
			Ping:        p.ping,
			InsertRate:  rate.Limit(p.insertRate),
			InsertBurst: p.insertBurst,
		})
		if err := httpServer.Start(runCtx); err != nil {
			cleanup()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	<-ctx.Done()
	cleanup()
	p.logger.Info("workpump stopped", "queue_depth", q.Len())
	return nil
}

// deliverOutcomes invokes the outcome callbacks for every terminal snapshot
// until ch is closed.
func (p *Pipeline) deliverOutcomes(ch <-chan item.WorkItem) {
	for it := range ch {
		for _, cb := range p.callbacks {
			invokeCallbackSafe(cb, it, p.logger)
		}
	}
}

func isTerminal(it item.WorkItem) bool { return it.State.Terminal() }

// invokeCallbackSafe calls an outcome callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(WorkItem), it WorkItem, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("outcome callback panicked",
				"panic", r,
				"item_id", it.ID,
			)
		}
	}()
	cb(it)
}

// Enqueue inserts a new pending item. The poller admits it on a later cycle.
func (p *Pipeline) Enqueue(ctx context.Context, payload string) (WorkItem, error) {
	return p.store.Insert(ctx, payload)
}

// Get returns the stored item with the given id, or an error wrapping
// [ErrNotFound].
func (p *Pipeline) Get(ctx context.Context, id uuid.UUID) (WorkItem, error) {
	return p.store.Get(ctx, id)
}

// PendingCount returns the number of items that are not yet processed or
// failed, whether or not they have been admitted.
func (p *Pipeline) PendingCount(ctx context.Context) (int, error) {
	return p.store.Count(ctx, store.NonTerminal)
}

// QueueDepth returns the approximate number of items waiting in the
// in-memory queue. It is zero before the first Start.
func (p *Pipeline) QueueDepth() int {
	q := p.queue.Load()
	if q == nil {
		return 0
	}
	return q.Len()
}

// InFlight returns the number of executions currently running.
func (p *Pipeline) InFlight() int {
	pool := p.pool.Load()
	if pool == nil {
		return 0
	}
	return pool.InFlight()
}

// Port returns the configured HTTP port.
func (p *Pipeline) Port() int {
	return p.port
}

// PollInterval returns the configured interval between admission cycles.
func (p *Pipeline) PollInterval() time.Duration {
	return p.pollInterval
}

// BatchSize returns the maximum number of items admitted per cycle.
func (p *Pipeline) BatchSize() int {
	return p.batchSize
}

// Workers returns the maximum number of concurrent executions.
func (p *Pipeline) Workers() int {
	return p.workers
}

// RetryPolicy returns the configured retry policy.
func (p *Pipeline) RetryPolicy() RetryPolicy {
	return p.retry
}

// InsertRateLimit returns the configured insert rate per second and burst.
// A zero rate means inserts are unlimited.
func (p *Pipeline) InsertRateLimit() (float64, int) {
	return p.insertRate, p.insertBurst
}

// Registry returns the registry the pipeline's metrics are registered with.
func (p *Pipeline) Registry() *prometheus.Registry {
	return p.registry
}
