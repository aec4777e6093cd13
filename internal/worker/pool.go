package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/workpump/internal/metrics"
	"github.com/jpalmerr/workpump/internal/retry"
	"github.com/jpalmerr/workpump/internal/store"
	"github.com/jpalmerr/workpump/item"
)

// DefaultWorkers is the default maximum number of concurrent executions.
const DefaultWorkers = 4

var (
	// ErrPermanent marks a processor error that must not be retried. Wrap it:
	//
	//	return fmt.Errorf("payload rejected: %w", worker.ErrPermanent)
	ErrPermanent = errors.New("permanent failure")

	// ErrRunning is returned by [Pool.Run] when the pool is already running.
	ErrRunning = errors.New("pool already running")
)

// outcome label for executions dropped without a terminal write
const abandoned = "abandoned"

// Processor does the work for one item. It should honour ctx.
type Processor func(ctx context.Context, it item.WorkItem) error

// Nop is a [Processor] that always succeeds.
func Nop(context.Context, item.WorkItem) error { return nil }

// Source is the consumer side of the in-memory queue.
type Source interface {
	Pop(ctx context.Context) (item.WorkItem, bool)
}

// Config holds pool settings. Zero values select the defaults.
type Config struct {
	Workers int
	Retry   retry.Policy
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now stamps ProcessedAt and FailedAt.
	Now func() time.Time
}

// Pool runs items popped from a [Source] with at most Workers executions in
// flight.
type Pool struct {
	store   store.Store
	source  Source
	process Processor
	policy  retry.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	permits  chan struct{}
	inFlight atomic.Int32
	wg       sync.WaitGroup
	running atomic.Bool
}

// New creates a [Pool]. A nil process is replaced with [Nop].
func New(s store.Store, src Source, process Processor, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if process == nil {
		process = Nop
	}
	return &Pool{
		store:   s,
		source:  src,
		process: process,
		policy:  cfg.Retry,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		permits: make(chan struct{}, cfg.Workers),
	}
}

// Workers returns the maximum number of concurrent executions.
func (p *Pool) Workers() int { return cap(p.permits) }

// InFlight returns the number of executions currently running. The permit
// held by the dispatcher while it waits for an item is not counted.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Run dispatches items until ctx is cancelled, then waits for in-flight
// executions to finish. It returns nil after a clean drain.
func (p *Pool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	p.logger.Info("worker pool started", "workers", p.Workers())
	for p.dispatch(ctx) {
	}

	p.logger.Info("worker pool draining", "in_flight", p.InFlight())
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

// dispatch starts at most one execution and reports whether the loop should
// continue.
func (p *Pool) dispatch(ctx context.Context) bool {
	select {
	case p.permits <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	// select picks randomly when both are ready
	if ctx.Err() != nil {
		<-p.permits
		return false
	}

	it, ok := p.source.Pop(ctx)
	if !ok {
		<-p.permits
		return false
	}

	p.inFlight.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.permits }()
		defer p.inFlight.Add(-1)
		p.execute(ctx, it)
	}()
	return true
}

// execute runs one item to a terminal state, or leaves it queued when
// cancelled or abandoned. Store writes ignore cancellation so a draining
// execution can still record its result.
func (p *Pool) execute(ctx context.Context, queued item.WorkItem) {
	start := time.Now()
	p.metrics.ExecutionStarted()
	writeCtx := context.WithoutCancel(ctx)
	log := p.logger.With("item_id", queued.ID)

	var dropped bool
	res := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) retry.Outcome {
		out, drop := p.attempt(ctx, writeCtx, log, queued.ID, attempt)
		dropped = drop
		return out
	})

	label := res.Kind.String()
	switch {
	case dropped:
		label = abandoned
	case res.Kind == retry.Succeeded:
		if err := p.store.MarkProcessed(writeCtx, queued.ID, p.now()); err != nil {
			log.Error("persist processed failed, item left non-terminal", "error", err)
		}
	case res.Kind == retry.Exhausted || res.Kind == retry.Fatal:
		log.Warn("item failed", "outcome", res.Kind, "attempts", res.Attempts, "error", res.Err)
		if err := p.store.MarkFailed(writeCtx, queued.ID, p.now()); err != nil {
			log.Error("persist failed state failed, item left non-terminal", "error", err)
		}
	case res.Kind == retry.Cancelled:
		log.Info("execution cancelled, item left queued", "attempts", res.Attempts)
	}
	p.metrics.ExecutionFinished(label, time.Since(start))
}

// attempt performs steps fetch, count, process for one try. drop reports
// that the item should be left alone without a terminal write.
func (p *Pool) attempt(ctx, writeCtx context.Context, log *slog.Logger, id uuid.UUID, n int) (out retry.Outcome, drop bool) {
	current, err := p.store.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Info("item no longer in store, abandoning")
		return retry.Stop(err), true
	case err != nil:
		if ctx.Err() != nil {
			return retry.Cancel(err), false
		}
		log.Warn("fetch failed", "attempt", n, "error", err)
		return retry.Retry(err), false
	case current.State.Terminal():
		log.Info("item already terminal, abandoning", "state", current.State)
		return retry.Stop(fmt.Errorf("item %s already %s", id, current.State)), true
	}

	current, err = p.store.IncrementAttempts(writeCtx, id)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, item.ErrInvalidTransition):
		log.Info("item changed underneath execution, abandoning", "error", err)
		return retry.Stop(err), true
	case err != nil:
		log.Warn("persist attempt count failed", "attempt", n, "error", err)
		return retry.Retry(err), false
	}
	p.metrics.AttemptStarted()

	err = p.safeProcess(ctx, log, current)
	switch {
	case err == nil:
		return retry.Success(), false
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return retry.Cancel(err), false
	case errors.Is(err, ErrPermanent):
		return retry.Stop(err), false
	default:
		log.Debug("attempt failed", "attempt", current.AttemptCount, "error", err,
			"next_delay", p.policy.Delay(n))
		return retry.Retry(err), false
	}
}

// safeProcess calls the processor with panic recovery.
// A panic is logged with its stack and a correlation ID, and returned as an
// ordinary error so the retry policy applies.
func (p *Pool) safeProcess(ctx context.Context, log *slog.Logger, it item.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			log.Error("processor panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			err = fmt.Errorf("processor panic (correlation_id: %s)", correlationID)
		}
	}()
	return p.process(ctx, it)
}
