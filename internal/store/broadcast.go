package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpalmerr/workpump/item"
)

// subscriberBuffer is the channel capacity given to each subscriber.
const subscriberBuffer = 100

// Broadcaster decorates a [Store] with a publish-subscribe mechanism.
//
// After every successful write the Broadcaster reads the affected items back
// and sends the snapshots to all subscribers. Sends are non-blocking: if a
// subscriber's buffer is full the update is dropped for that subscriber, so a
// slow consumer never stalls the pipeline.
type Broadcaster struct {
	Store

	subscribers map[chan item.WorkItem]func(item.WorkItem) bool
	subMu       sync.RWMutex
}

// NewBroadcaster wraps s.
func NewBroadcaster(s Store) *Broadcaster {
	return &Broadcaster{
		Store:       s,
		subscribers: make(map[chan item.WorkItem]func(item.WorkItem) bool),
	}
}

// Subscribe creates a new subscription and returns a channel for receiving
// item snapshots.
//
// Caller must call [Broadcaster.Unsubscribe] when done to prevent resource leaks.
func (b *Broadcaster) Subscribe() <-chan item.WorkItem {
	return b.SubscribeFunc(nil, subscriberBuffer)
}

// SubscribeFunc is like [Broadcaster.Subscribe] but only delivers snapshots
// for which keep returns true, into a channel of the given capacity. Filtered
// snapshots never occupy the buffer. A nil keep delivers everything.
func (b *Broadcaster) SubscribeFunc(keep func(item.WorkItem) bool, buffer int) <-chan item.WorkItem {
	ch := make(chan item.WorkItem, max(buffer, 1))
	b.subMu.Lock()
	b.subscribers[ch] = keep
	b.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (b *Broadcaster) Unsubscribe(ch <-chan item.WorkItem) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for subCh := range b.subscribers {
		if subCh == ch {
			delete(b.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Insert implements [Store].
func (b *Broadcaster) Insert(ctx context.Context, payload string) (item.WorkItem, error) {
	it, err := b.Store.Insert(ctx, payload)
	if err == nil {
		b.publish(it)
	}
	return it, err
}

// MarkQueued implements [Store].
func (b *Broadcaster) MarkQueued(ctx context.Context, ids ...uuid.UUID) error {
	if err := b.Store.MarkQueued(ctx, ids...); err != nil {
		return err
	}
	b.publishIDs(ctx, ids...)
	return nil
}

// IncrementAttempts implements [Store].
func (b *Broadcaster) IncrementAttempts(ctx context.Context, id uuid.UUID) (item.WorkItem, error) {
	it, err := b.Store.IncrementAttempts(ctx, id)
	if err == nil {
		b.publish(it)
	}
	return it, err
}

// MarkProcessed implements [Store].
func (b *Broadcaster) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := b.Store.MarkProcessed(ctx, id, at); err != nil {
		return err
	}
	b.publishIDs(ctx, id)
	return nil
}

// MarkFailed implements [Store].
func (b *Broadcaster) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := b.Store.MarkFailed(ctx, id, at); err != nil {
		return err
	}
	b.publishIDs(ctx, id)
	return nil
}

// publishIDs reads each item back and publishes it. Items that cannot be
// read are skipped; the write itself already succeeded.
func (b *Broadcaster) publishIDs(ctx context.Context, ids ...uuid.UUID) {
	if !b.hasSubscribers() {
		return
	}
	for _, id := range ids {
		it, err := b.Store.Get(ctx, id)
		if err != nil {
			continue
		}
		b.publish(it)
	}
}

func (b *Broadcaster) hasSubscribers() bool {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscribers) > 0
}

// publish sends it to all active subscribers without blocking.
func (b *Broadcaster) publish(it item.WorkItem) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for ch, keep := range b.subscribers {
		if keep != nil && !keep(it) {
			continue
		}
		select {
		case ch <- it:
		default:
			// subscriber is slow, drop the message
		}
	}
}
