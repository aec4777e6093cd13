// Package queue provides the in-process FIFO hand-off between the poller and
// the worker pool.
//
// The queue is unbounded: [Queue.Push] never blocks. [Queue.Pop] suspends the
// caller until a value is available or its context is cancelled. Any number
// of producers and consumers may use a Queue concurrently without external
// locking.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by [Queue.Push] after [Queue.Close].
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of T with a blocking, cancellable Pop.
//
// Values are handed out in push order. Once handed out, a value belongs to the
// consumer; the Queue keeps no record of it.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// ready holds at most one token. It is signalled whenever the queue goes
	// from empty to non-empty, and re-signalled by a consumer that leaves
	// values behind, so every waiting consumer eventually wakes.
	ready chan struct{}
}

// New creates an empty [Queue].
func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
	}
}

// Push appends v to the tail of the queue. It never blocks and fails only
// after the queue has been closed.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop removes and returns the value at the head of the queue, waiting until
// one is available. It returns false if ctx is cancelled first. Values still
// buffered in a closed queue are returned normally.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if v, ok := q.tryPop(); ok {
			return v, true
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-q.ready:
		}
	}
}

// TryPop removes and returns the head of the queue without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	return q.tryPop()
}

func (q *Queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		var zero T
		return zero, false
	}
	v := q.items[0]
	var zero T
	q.items[0] = zero // release reference for GC
	q.items = q.items[1:]
	remaining := len(q.items)
	if remaining == 0 {
		// drop the backing array so a burst does not pin memory forever
		q.items = nil
	}
	q.mu.Unlock()

	if remaining > 0 {
		q.signal()
	}
	return v, true
}

// signal makes a token available without blocking. If a token is already
// pending, the next consumer to take it will re-check the queue anyway.
func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns a point-in-time count of buffered values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting new values. Buffered values can still
// be popped. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
