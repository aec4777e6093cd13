package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.Pop(context.Background())
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopWaitsForPush(t *testing.T) {
	q := New[string]()

	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()

	// consumer must be suspended, not return early
	select {
	case v := <-got:
		t.Fatalf("Pop() returned %q before any Push", v)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Push("hello"))

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Pop() did not wake after Push")
	}
}

// TestQueue_PopCancelledWhileEmpty verifies that a cancelled Pop returns the
// "no item" result promptly.
func TestQueue_PopCancelledWhileEmpty(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after cancellation")
	}
}

func TestQueue_PopAlreadyCancelledWithItemsReturnsItem(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(7))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a buffered value is preferred over the cancellation
	v, ok := q.Pop(ctx)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestQueue_Close(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(1))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(2), ErrClosed)

	v, ok := q.TryPop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = q.TryPop()
	assert.False(t, ok)
}

// TestQueue_ConcurrentProducersConsumers pushes from many goroutines and pops
// from many goroutines; every value must be delivered exactly once.
func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := New[int]()
	const producers, perProducer, consumers = 8, 250, 6
	total := producers * perProducer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []int
		cwg sync.WaitGroup
	)
	for i := 0; i < consumers; i++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, ok := q.Pop(ctx)
				if !ok {
					return
				}
				mu.Lock()
				got = append(got, v)
				n := len(got)
				mu.Unlock()
				if n == total {
					cancel()
				}
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(base int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(base + i)
				_ = q.Len()
			}
		}(p * perProducer)
	}
	pwg.Wait()

	waited := make(chan struct{})
	go func() {
		cwg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumers stalled, received %d/%d", len(got), total)
	}

	require.Len(t, got, total)
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("value %d delivered %d at index %d", i, v, i)
		}
	}
}

// TestQueue_PerProducerOrder verifies that values pushed by a single producer
// are popped in the order they were pushed.
func TestQueue_PerProducerOrder(t *testing.T) {
	q := New[int]()
	go func() {
		for i := 0; i < 1000; i++ {
			_ = q.Push(i)
		}
	}()

	for i := 0; i < 1000; i++ {
		v, ok := q.Pop(context.Background())
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}
