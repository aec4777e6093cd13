package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpalmerr/workpump/item"
)

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore provides thread-safe storage keyed by item ID. Every write goes
// through the item transition methods, so it enforces the same state rules as
// the SQL stores. Contents are lost when the process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*memoryEntry
	seq   uint64
	now   func() time.Time
}

type memoryEntry struct {
	item item.WorkItem
	seq  uint64
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[uuid.UUID]*memoryEntry),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetClock sets the function used to stamp CreatedAt on insert.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Put stores it as-is, replacing any item with the same ID. It exists so
// tests and imports can seed rows in arbitrary states.
func (m *MemoryStore) Put(it item.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[it.ID]; ok {
		e.item = it
		return
	}
	m.seq++
	m.items[it.ID] = &memoryEntry{item: it, seq: m.seq}
}

// Insert implements [Store].
func (m *MemoryStore) Insert(_ context.Context, payload string) (item.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := item.New(payload, m.now())
	m.seq++
	m.items[it.ID] = &memoryEntry{item: it, seq: m.seq}
	return it, nil
}

// Get implements [Store].
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (item.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	if !ok {
		return item.WorkItem{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return e.item, nil
}

// Scan implements [Store].
func (m *MemoryStore) Scan(_ context.Context, f Filter, limit int) ([]item.WorkItem, error) {
	m.mu.RLock()
	matched := make([]*memoryEntry, 0, len(m.items))
	for _, e := range m.items {
		if f.Matches(e.item.State) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.Before(b.item.CreatedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	results := make([]item.WorkItem, len(matched))
	for i, e := range matched {
		results[i] = e.item
	}
	m.mu.RUnlock()
	return results, nil
}

// Count implements [Store].
func (m *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.items {
		if f.Matches(e.item.State) {
			n++
		}
	}
	return n, nil
}

// MarkQueued implements [Store]. All updates are applied under one lock.
func (m *MemoryStore) MarkQueued(_ context.Context, ids ...uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.items[id]
		if !ok || e.item.State != item.StatePending {
			continue
		}
		_ = e.item.Admit()
	}
	return nil
}

// IncrementAttempts implements [Store].
func (m *MemoryStore) IncrementAttempts(_ context.Context, id uuid.UUID) (item.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return item.WorkItem{}, fmt.Errorf("increment attempts %s: %w", id, ErrNotFound)
	}
	if err := e.item.Attempt(); err != nil {
		return item.WorkItem{}, err
	}
	return e.item, nil
}

// MarkProcessed implements [Store].
func (m *MemoryStore) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, "mark processed", func(it *item.WorkItem) error {
		return it.Complete(at)
	})
}

// MarkFailed implements [Store].
func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, "mark failed", func(it *item.WorkItem) error {
		return it.Fail(at)
	})
}

// update applies fn to a copy and stores it only if fn succeeds.
func (m *MemoryStore) update(id uuid.UUID, op string, fn func(*item.WorkItem) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	next := e.item
	if err := fn(&next); err != nil {
		return err
	}
	e.item = next
	return nil
}
