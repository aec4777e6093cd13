package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jpalmerr/workpump/item"
)

// ErrNotFound is returned when no item has the requested ID.
var ErrNotFound = errors.New("work item not found")

// Filter selects items by lifecycle state. An empty filter matches every item.
type Filter struct {
	States []item.State
}

var (
	// Unqueued matches items waiting for admission.
	Unqueued = Filter{States: []item.State{item.StatePending}}

	// NonTerminal matches items that have not reached a terminal state. Its
	// count is the "pending count" reported to callers.
	NonTerminal = Filter{States: []item.State{item.StatePending, item.StateQueued}}
)

// Matches reports whether s is selected by the filter.
func (f Filter) Matches(s item.State) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, want := range f.States {
		if want == s {
			return true
		}
	}
	return false
}

// where renders the filter as a condition over the queued/processed/failed
// columns, or nil when the filter matches everything.
func (f Filter) where() sq.Sqlizer {
	if len(f.States) == 0 {
		return nil
	}
	var or sq.Or
	for _, s := range f.States {
		switch s {
		case item.StatePending:
			or = append(or, sq.Eq{"queued": false, "processed": false, "failed": false})
		case item.StateQueued:
			or = append(or, sq.Eq{"queued": true, "processed": false, "failed": false})
		case item.StateProcessed:
			or = append(or, sq.Eq{"processed": true})
		case item.StateFailed:
			or = append(or, sq.Eq{"failed": true})
		}
	}
	if len(or) == 0 {
		return sq.Expr("1 = 0")
	}
	return or
}

// selectWhere applies f to a select builder.
func selectWhere(sb sq.SelectBuilder, f Filter) sq.SelectBuilder {
	if w := f.where(); w != nil {
		sb = sb.Where(w)
	}
	return sb
}

// Store defines the durable operations the pipeline depends on.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Insert persists a new pending item and returns it with its assigned ID.
	Insert(ctx context.Context, payload string) (item.WorkItem, error)

	// Get returns the item with the given ID, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (item.WorkItem, error)

	// Scan returns up to limit items matching f, oldest CreatedAt first.
	// Items created at the same instant are returned in insertion order.
	// A limit of zero or less means no limit.
	Scan(ctx context.Context, f Filter, limit int) ([]item.WorkItem, error)

	// Count returns the number of items matching f.
	Count(ctx context.Context, f Filter) (int, error)

	// MarkQueued sets queued on every listed item that is still pending, in a
	// single write. Items that are missing, already queued or terminal are
	// skipped.
	MarkQueued(ctx context.Context, ids ...uuid.UUID) error

	// IncrementAttempts adds one to the attempt count of a non-terminal item
	// and returns the updated item. The item is marked queued if it was not.
	IncrementAttempts(ctx context.Context, id uuid.UUID) (item.WorkItem, error)

	// MarkProcessed moves a queued item to its terminal success state.
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed moves a queued item to its terminal failure state.
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// transitionError explains why a guarded write touched no row: either the
// item is gone or it is in a state that does not allow the write.
func transitionError(ctx context.Context, s Store, op string, id uuid.UUID) error {
	it, err := s.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return fmt.Errorf("%s item %s in state %s: %w", op, id, it.State, item.ErrInvalidTransition)
}
