package item

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsPending(t *testing.T) {
	now := time.Now().UTC()
	w := New("resize image 42", now)

	assert.NotEqual(t, uuid.Nil, w.ID)
	assert.Equal(t, "resize image 42", w.Payload)
	assert.Equal(t, StatePending, w.State)
	assert.Equal(t, 0, w.AttemptCount)
	assert.Equal(t, now, w.CreatedAt)
	assert.Nil(t, w.ProcessedAt)
	assert.Nil(t, w.FailedAt)
}

func TestWorkItem_HappyPath(t *testing.T) {
	w := New("p", time.Now())

	require.NoError(t, w.Admit())
	assert.Equal(t, StateQueued, w.State)

	require.NoError(t, w.Attempt())
	require.NoError(t, w.Attempt())
	assert.Equal(t, 2, w.AttemptCount)

	at := time.Now()
	require.NoError(t, w.Complete(at))
	assert.Equal(t, StateProcessed, w.State)
	require.NotNil(t, w.ProcessedAt)
	assert.Equal(t, at, *w.ProcessedAt)
	assert.Nil(t, w.FailedAt)
}

func TestWorkItem_AdmitIsIdempotent(t *testing.T) {
	w := New("p", time.Now())
	require.NoError(t, w.Admit())
	require.NoError(t, w.Admit())
	assert.Equal(t, StateQueued, w.State)
}

func TestWorkItem_AttemptAdmitsPending(t *testing.T) {
	w := New("p", time.Now())
	require.NoError(t, w.Attempt())
	assert.Equal(t, StateQueued, w.State)
	assert.Equal(t, 1, w.AttemptCount)
}

func TestWorkItem_TerminalStatesNeverRevert(t *testing.T) {
	tests := []struct {
		name     string
		terminal func(w *WorkItem) error
	}{
		{"processed", func(w *WorkItem) error { return w.Complete(time.Now()) }},
		{"failed", func(w *WorkItem) error { return w.Fail(time.Now()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New("p", time.Now())
			require.NoError(t, w.Admit())
			require.NoError(t, tt.terminal(&w))
			before := w

			assert.ErrorIs(t, w.Admit(), ErrInvalidTransition)
			assert.ErrorIs(t, w.Attempt(), ErrInvalidTransition)
			assert.ErrorIs(t, w.Complete(time.Now()), ErrInvalidTransition)
			assert.ErrorIs(t, w.Fail(time.Now()), ErrInvalidTransition)
			assert.Equal(t, before, w)
		})
	}
}

func TestWorkItem_CompleteRequiresQueued(t *testing.T) {
	w := New("p", time.Now())
	err := w.Complete(time.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatePending, w.State)
}

func TestFromFlags(t *testing.T) {
	tests := []struct {
		queued, processed, failed bool
		want                      State
		wantErr                   bool
	}{
		{false, false, false, StatePending, false},
		{true, false, false, StateQueued, false},
		{true, true, false, StateProcessed, false},
		{true, false, true, StateFailed, false},
		{false, true, false, StateProcessed, false},
		{true, true, true, "", true},
	}

	for _, tt := range tests {
		got, err := FromFlags(tt.queued, tt.processed, tt.failed)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidTransition)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestState_FlagsRoundTrip(t *testing.T) {
	for _, s := range []State{StatePending, StateQueued, StateProcessed, StateFailed} {
		q, p, f := s.Flags()
		assert.False(t, p && f, "state %s has both terminal flags", s)
		got, err := FromFlags(q, p, f)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}
