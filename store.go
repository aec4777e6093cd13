package workpump

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpalmerr/workpump/internal/store"
	"github.com/jpalmerr/workpump/item"
)

// WorkItem is a unit of work tracked from insertion to a terminal state.
type WorkItem = item.WorkItem

// State is the lifecycle state of a [WorkItem].
type State = item.State

// Lifecycle states.
const (
	StatePending   = item.StatePending
	StateQueued    = item.StateQueued
	StateProcessed = item.StateProcessed
	StateFailed    = item.StateFailed
)

// Store is the durable item store consumed by a [Pipeline].
type Store = store.Store

// ErrNotFound is returned by [Pipeline.Get] for unknown ids.
var ErrNotFound = store.ErrNotFound

// ManagedStore is a [Store] that owns a connection.
type ManagedStore interface {
	Store
	Ping(ctx context.Context) error
	Close() error
}

// StoreConfig selects and configures a store for [OpenStore].
type StoreConfig struct {
	// Driver is "sqlite", "postgres" or "memory".
	Driver string
	// DSN is the sqlite file or postgres connection string.
	DSN string
	// MaxConns caps the postgres pool. Zero keeps the driver default.
	MaxConns int32
}

// OpenStore opens the configured store and applies schema migrations.
func OpenStore(ctx context.Context, cfg StoreConfig) (ManagedStore, error) {
	switch cfg.Driver {
	case "sqlite":
		if cfg.DSN == "" {
			return nil, errors.New("sqlite store requires a dsn")
		}
		s, err := store.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("postgres store requires a dsn")
		}
		s, err := store.OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return memoryStore{store.NewMemoryStore()}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewMemoryStore returns an empty in-process store. Contents are lost on exit.
func NewMemoryStore() Store {
	return store.NewMemoryStore()
}

// memoryStore adapts MemoryStore to ManagedStore.
type memoryStore struct {
	*store.MemoryStore
}

func (memoryStore) Ping(context.Context) error { return nil }
func (memoryStore) Close() error               { return nil }
