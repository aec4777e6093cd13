package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/workpump/internal/metrics"
	"github.com/jpalmerr/workpump/internal/queue"
	"github.com/jpalmerr/workpump/internal/store"
	"github.com/jpalmerr/workpump/item"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStore fails Scan or MarkQueued on demand.
type flakyStore struct {
	store.Store
	scanErr error
	markErr error
}

func (f *flakyStore) Scan(ctx context.Context, flt store.Filter, limit int) ([]item.WorkItem, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.Store.Scan(ctx, flt, limit)
}

func (f *flakyStore) MarkQueued(ctx context.Context, ids ...uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	return f.Store.MarkQueued(ctx, ids...)
}

func insertN(t *testing.T, s store.Store, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		it, err := s.Insert(context.Background(), "payload")
		require.NoError(t, err)
		ids = append(ids, it.ID)
	}
	return ids
}

func drain(q *queue.Queue[item.WorkItem]) []uuid.UUID {
	var ids []uuid.UUID
	for {
		it, ok := q.TryPop()
		if !ok {
			return ids
		}
		ids = append(ids, it.ID)
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(store.NewMemoryStore(), queue.New[item.WorkItem](), 0, 0, nil, nil)
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, DefaultBatchSize, p.batchSize)
	assert.NotNil(t, p.logger)
}

func TestPoller_PollAdmitsOldestFirstUpToBatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()
	ids := insertN(t, s, 5)

	p := New(s, q, time.Minute, 3, testLogger(), nil)
	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, ids[:3], drain(q))

	for i, id := range ids {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		want := item.StatePending
		if i < 3 {
			want = item.StateQueued
		}
		assert.Equal(t, want, got.State, "item %d", i)
	}

	// next cycle picks up the rest and nothing twice
	n, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ids[3:], drain(q))

	n, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPoller_PushedItemsAreQueuedState(t *testing.T) {
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()
	insertN(t, s, 1)

	p := New(s, q, time.Minute, 10, testLogger(), nil)
	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	it, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, item.StateQueued, it.State)
}

func TestPoller_PushFailureLeavesItemUnqueued(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()
	q.Close()
	ids := insertN(t, s, 2)

	reg := prometheus.NewRegistry()
	p := New(s, q, time.Minute, 10, testLogger(), metrics.New(reg))
	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, id := range ids {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, item.StatePending, got.State)
	}
}

func TestPoller_ScanErrorSkipsCycle(t *testing.T) {
	s := &flakyStore{Store: store.NewMemoryStore(), scanErr: errors.New("disk on fire")}
	q := queue.New[item.WorkItem]()
	insertN(t, s, 2)

	p := New(s, q, time.Minute, 10, testLogger(), nil)
	n, err := p.Poll(context.Background())
	assert.ErrorIs(t, err, s.scanErr)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, q.Len())
}

// TestPoller_MarkQueuedErrorReadmitsNextCycle covers the accepted tradeoff:
// items pushed but not persisted as queued are pushed again later.
func TestPoller_MarkQueuedErrorReadmitsNextCycle(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: store.NewMemoryStore(), markErr: errors.New("write failed")}
	q := queue.New[item.WorkItem]()
	ids := insertN(t, s, 2)

	p := New(s, q, time.Minute, 10, testLogger(), nil)
	_, err := p.Poll(ctx)
	assert.ErrorIs(t, err, s.markErr)
	assert.Equal(t, 2, q.Len())

	s.markErr = nil
	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, append(append([]uuid.UUID{}, ids...), ids...), drain(q))
}

func TestPoller_IgnoresQueuedAndTerminalRows(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()
	ids := insertN(t, s, 3)
	require.NoError(t, s.MarkQueued(ctx, ids[0], ids[1]))
	require.NoError(t, s.MarkProcessed(ctx, ids[1], time.Now()))

	p := New(s, q, time.Minute, 10, testLogger(), nil)
	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{ids[2]}, drain(q))
}

// TestPoller_StartPollsImmediately verifies the first cycle does not wait
// for the first tick.
func TestPoller_StartPollsImmediately(t *testing.T) {
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()
	insertN(t, s, 1)

	p := New(s, q, time.Hour, 10, testLogger(), nil)
	p.Start(context.Background())
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := q.Pop(ctx)
	assert.True(t, ok, "item not admitted by initial cycle")
}

func TestPoller_PollsOnInterval(t *testing.T) {
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()

	p := New(s, q, 20*time.Millisecond, 10, testLogger(), nil)
	p.Start(context.Background())
	defer p.Stop()

	// inserted after the initial cycle
	time.Sleep(10 * time.Millisecond)
	insertN(t, s, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := q.Pop(ctx)
	assert.True(t, ok, "item not admitted by a later cycle")
}

// TestPoller_StopBeforeStart verifies that calling Stop() on a poller
// that was never started does not panic and is a safe no-op.
func TestPoller_StopBeforeStart(t *testing.T) {
	p := New(store.NewMemoryStore(), queue.New[item.WorkItem](), time.Minute, 1, testLogger(), nil)

	// this must not panic
	p.Stop()
}

// TestPoller_StopTwice verifies that Stop() is idempotent and can be
// called multiple times without panic or deadlock.
func TestPoller_StopTwice(t *testing.T) {
	p := New(store.NewMemoryStore(), queue.New[item.WorkItem](), time.Minute, 1, testLogger(), nil)
	p.Start(context.Background())

	// both calls must complete without panic or deadlock
	p.Stop()
	p.Stop()
}

func TestPoller_StopBeforeStartThenStart(t *testing.T) {
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()
	insertN(t, s, 1)

	p := New(s, q, time.Minute, 1, testLogger(), nil)
	p.Stop()
	p.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, q.Len(), "Start after Stop must be a no-op")
}

func TestPoller_ConcurrentStartStop(t *testing.T) {
	p := New(store.NewMemoryStore(), queue.New[item.WorkItem](), time.Minute, 1, testLogger(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			p.Stop()
		}()
	}
	wg.Wait()
	p.Stop()
}

func TestPoller_ContextCancellation(t *testing.T) {
	p := New(store.NewMemoryStore(), queue.New[item.WorkItem](), 10*time.Millisecond, 1, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Stop() did not return after context cancellation")
	}
}

// TestPoller_Rehydrate seeds one unqueued row and one queued-but-unfinished
// row. Only the first is recovered.
func TestPoller_Rehydrate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()

	fresh := item.New("fresh", time.Now())
	stranded := item.New("stranded", time.Now())
	stranded.State = item.StateQueued
	s.Put(fresh)
	s.Put(stranded)

	p := New(s, q, time.Minute, 10, testLogger(), nil)
	n, err := p.Rehydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{fresh.ID}, drain(q))

	got, err := s.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StateQueued, got.State)

	got, err = s.Get(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, stranded, got)
}

func TestPoller_RehydratePagesThroughBacklog(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()
	ids := insertN(t, s, 7)

	p := New(s, q, time.Minute, 2, testLogger(), nil)
	n, err := p.Rehydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, ids, drain(q))

	remaining, err := s.Count(ctx, store.Unqueued)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestPoller_RehydrateStopsWhenQueueRejects(t *testing.T) {
	s := store.NewMemoryStore()
	q := queue.New[item.WorkItem]()
	q.Close()
	insertN(t, s, 5)

	p := New(s, q, time.Minute, 2, testLogger(), nil)

	done := make(chan struct{})
	go func() {
		n, err := p.Rehydrate(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Rehydrate() did not terminate with a closed queue")
	}
}

func TestPoller_RehydrateScanError(t *testing.T) {
	s := &flakyStore{Store: store.NewMemoryStore(), scanErr: errors.New("boom")}
	p := New(s, queue.New[item.WorkItem](), time.Minute, 2, testLogger(), nil)
	_, err := p.Rehydrate(context.Background())
	assert.ErrorIs(t, err, s.scanErr)
}
