package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/workpump/internal/metrics"
	"github.com/jpalmerr/workpump/internal/store"
	"github.com/jpalmerr/workpump/item"
)

const (
	// DefaultInterval is the time between admission cycles.
	DefaultInterval = 5 * time.Second
	// DefaultBatchSize is the maximum number of rows admitted per cycle.
	DefaultBatchSize = 50
)

// Queue is the admission side of the in-memory queue.
type Queue interface {
	Push(it item.WorkItem) error
}

// Poller periodically scans the store for unqueued items and pushes them
// into a [Queue].
//
// A failed scan or write is logged and the cycle is skipped; the poller
// always re-arms for the next tick.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Poller struct {
	store     store.Store
	queue     Queue
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a [Poller]. A non-positive interval or batchSize falls back to
// [DefaultInterval] or [DefaultBatchSize]. m may be nil.
func New(s store.Store, q Queue, interval time.Duration, batchSize int, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:     s,
		queue:     q,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		metrics:   m,
	}
}

// Start begins the polling loop in a background goroutine.
//
// Start is non-blocking and returns immediately. The poller will:
//  1. Run one cycle immediately
//  2. Run one cycle per interval tick
//  3. Continue until [Poller.Stop] is called or ctx is cancelled
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	pollCtx := p.ctx // capture under lock to avoid race
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		p.cycle(pollCtx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				p.cycle(pollCtx)
			}
		}
	}()
}

// Stop halts the poller and waits for an in-progress cycle to finish.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		if p.cancel != nil {
			p.cancel()
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Poller) cycle(ctx context.Context) {
	n, err := p.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.PollFailed()
		p.logger.Error("poll cycle skipped", "error", err)
		return
	}
	if n > 0 {
		p.logger.Debug("admitted items", "count", n)
	}
}

// Poll runs one admission cycle and reports how many items were admitted.
//
// It reads up to the batch size of unqueued rows, oldest first, pushes each
// into the queue, then persists the queued flag for every pushed row in a
// single write. A row whose push fails stays unqueued for a later cycle.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	n, _, err := p.admitBatch(ctx)
	return n, err
}

// Rehydrate admits unqueued rows page by page until none remain, persisting
// each page before reading the next. It runs once at startup, before workers
// consume.
//
// Rows already marked queued but never finished are not recovered.
func (p *Poller) Rehydrate(ctx context.Context) (int, error) {
	total := 0
	for {
		n, scanned, err := p.admitBatch(ctx)
		total += n
		if err != nil {
			return total, fmt.Errorf("rehydrate: %w", err)
		}
		// a page with no successful push would be scanned again forever
		if scanned < p.batchSize || n == 0 {
			break
		}
	}
	if total > 0 {
		p.logger.Info("rehydrated items", "count", total)
	}
	return total, nil
}

func (p *Poller) admitBatch(ctx context.Context) (admitted, scanned int, err error) {
	rows, err := p.store.Scan(ctx, store.Unqueued, p.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("scan unqueued: %w", err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, it := range rows {
		if err := it.Admit(); err != nil {
			p.logger.Warn("skipping item", "item_id", it.ID, "state", it.State, "error", err)
			continue
		}
		if err := p.queue.Push(it); err != nil {
			p.metrics.AdmissionFailed()
			p.logger.Warn("admission failed, item left unqueued", "item_id", it.ID, "error", err)
			continue
		}
		ids = append(ids, it.ID)
	}
	if len(ids) == 0 {
		return 0, len(rows), nil
	}

	if err := p.store.MarkQueued(ctx, ids...); err != nil {
		return 0, len(rows), fmt.Errorf("mark %d queued: %w", len(ids), err)
	}
	p.metrics.Admitted(len(ids))
	return len(ids), len(rows), nil
}
