package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/workpump/item"
)

// newTestSQLite opens a fresh database file under t.TempDir.
func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "workpump.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) clockedStore {
		return newTestSQLite(t)
	})
}

// TestSQLiteStore_SurvivesReopen verifies that state written by one process
// is visible after reopening the same file, which is what rehydration
// depends on.
func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "workpump.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	a, err := s.Insert(ctx, "a")
	require.NoError(t, err)
	b, err := s.Insert(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, s.MarkQueued(ctx, b.ID))
	require.NoError(t, s.Close())

	// reopening re-runs migrations, which must be a no-op
	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	gotA, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StatePending, gotA.State)

	gotB, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StateQueued, gotB.State)

	require.NoError(t, s.Ping(ctx))
}

func TestOpenSQLite_BadPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	assert.Error(t, err)
}
