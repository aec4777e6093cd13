// Package item defines the WorkItem record tracked by workpump and the
// lifecycle it moves through.
//
// A WorkItem is persisted by an external writer, admitted into the in-process
// queue by the poller, executed by the worker pool and finally reconciled to a
// terminal state in the durable store:
//
//	Pending -> Queued -> Processed
//	                  \-> Failed
//
// The durable representation uses three booleans (queued, processed, failed).
// In memory the lifecycle is a single tagged [State] and every change goes
// through a transition method, so the flags cannot desynchronize.
package item

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a transition is not allowed from the
// item's current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the lifecycle state of a [WorkItem].
type State string

const (
	// StatePending is a persisted item that has not been admitted yet.
	StatePending State = "pending"

	// StateQueued is an admitted item, waiting in the queue or executing.
	StateQueued State = "queued"

	// StateProcessed is the terminal success state.
	StateProcessed State = "processed"

	// StateFailed is the terminal failure state, reached once retries are exhausted.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether no further transitions can occur from s.
func (s State) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateQueued, StateProcessed, StateFailed:
		return true
	}
	return false
}

// Flags returns the durable boolean representation of s.
//
// Terminal states keep queued set: an item can only reach a terminal state
// after it was admitted, and queued never reverts.
func (s State) Flags() (queued, processed, failed bool) {
	switch s {
	case StateQueued:
		return true, false, false
	case StateProcessed:
		return true, true, false
	case StateFailed:
		return true, false, true
	default:
		return false, false, false
	}
}

// FromFlags derives the State from its durable boolean representation.
// A row with both processed and failed set is corrupt and rejected.
func FromFlags(queued, processed, failed bool) (State, error) {
	switch {
	case processed && failed:
		return "", fmt.Errorf("processed and failed are both set: %w", ErrInvalidTransition)
	case processed:
		return StateProcessed, nil
	case failed:
		return StateFailed, nil
	case queued:
		return StateQueued, nil
	default:
		return StatePending, nil
	}
}

// WorkItem is a unit of work tracked through admission, execution and
// terminal outcome.
//
// ID, Payload and CreatedAt are immutable after creation. The remaining
// fields change only through the transition methods.
type WorkItem struct {
	// ID is assigned by the store on creation.
	ID uuid.UUID `json:"id"`

	// Payload is an opaque description of the work.
	Payload string `json:"payload"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// AttemptCount is incremented once per execution attempt, retries included.
	AttemptCount int `json:"attempt_count"`

	// CreatedAt orders admission.
	CreatedAt time.Time `json:"created_at"`

	// ProcessedAt is set exactly once, on the transition to StateProcessed.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// FailedAt is set exactly once, on the transition to StateFailed.
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// New returns a pending WorkItem with a fresh ID.
func New(payload string, createdAt time.Time) WorkItem {
	return WorkItem{
		ID:        uuid.New(),
		Payload:   payload,
		State:     StatePending,
		CreatedAt: createdAt,
	}
}

// Admit moves a pending item to StateQueued. Admitting an already queued item
// is a no-op.
func (w *WorkItem) Admit() error {
	switch w.State {
	case StatePending:
		w.State = StateQueued
		return nil
	case StateQueued:
		return nil
	default:
		return w.invalid("admit")
	}
}

// Attempt records one execution attempt. An item that is executing is by
// definition admitted, so a pending item moves to StateQueued as well.
func (w *WorkItem) Attempt() error {
	if w.State.Terminal() {
		return w.invalid("attempt")
	}
	w.State = StateQueued
	w.AttemptCount++
	return nil
}

// Complete moves a queued item to StateProcessed.
func (w *WorkItem) Complete(at time.Time) error {
	if w.State != StateQueued {
		return w.invalid("complete")
	}
	w.State = StateProcessed
	w.ProcessedAt = &at
	return nil
}

// Fail moves a queued item to StateFailed.
func (w *WorkItem) Fail(at time.Time) error {
	if w.State != StateQueued {
		return w.invalid("fail")
	}
	w.State = StateFailed
	w.FailedAt = &at
	return nil
}

func (w *WorkItem) invalid(op string) error {
	return fmt.Errorf("%s item %s in state %s: %w", op, w.ID, w.State, ErrInvalidTransition)
}
