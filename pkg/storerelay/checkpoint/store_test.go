package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomops/storerelay/pkg/storerelay/checkpoint"
)

// storeContract runs the behavior every Store implementation must satisfy.
func storeContract(t *testing.T, newStore func(t *testing.T) checkpoint.Store) {
	t.Run("LoadMissing", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		_, err := store.Load("no-such-run")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		cp := checkpoint.New("run-1", "/data/root", 50)
		cp.MarkCompleted("/data/root/b")
		cp.MarkCompleted("/data/root/a")
		require.NoError(t, store.Save(cp))

		loaded, err := store.Load("run-1")
		require.NoError(t, err)
		assert.Equal(t, "run-1", loaded.RunID)
		assert.Equal(t, "/data/root", loaded.RootPath)
		assert.Equal(t, 50, loaded.BatchSize)
		assert.Equal(t, []string{"/data/root/a", "/data/root/b"}, loaded.CompletedUnits)
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		cp := checkpoint.New("run-1", "/data/root", 50)
		require.NoError(t, store.Save(cp))
		cp.MarkCompleted("/data/root/a")
		require.NoError(t, store.Save(cp))

		loaded, err := store.Load("run-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"/data/root/a"}, loaded.CompletedUnits)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		cp := checkpoint.New("run-1", "/data/root", 50)
		require.NoError(t, store.Save(cp))
		require.NoError(t, store.Delete("run-1"))
		_, err := store.Load("run-1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		require.NoError(t, store.Delete("run-1"))
	})

	t.Run("ClosedStoreRejectsOperations", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Close())

		_, err := store.Load("run-1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
		assert.ErrorIs(t, store.Save(checkpoint.New("run-1", "/r", 1)), checkpoint.ErrStoreClosed)
	})
}

func TestFileStore(t *testing.T) {
	storeContract(t, func(t *testing.T) checkpoint.Store {
		return checkpoint.NewFileStore(t.TempDir())
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
		require.NoError(t, err)
		return store
	})
}

func TestFileStore_CorruptCheckpoint(t *testing.T) {
	runsBase := t.TempDir()
	runDir := filepath.Join(runsBase, "run-1")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "checkpoint.json"), []byte("{truncated"), 0o644))

	store := checkpoint.NewFileStore(runsBase)
	defer store.Close()

	_, err := store.Load("run-1")
	assert.ErrorIs(t, err, checkpoint.ErrCorrupt)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	store, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	cp := checkpoint.New("run-1", "/data/root", 10)
	cp.MarkCompleted("/data/root/a")
	require.NoError(t, store.Save(cp))
	require.NoError(t, store.Close())

	reopened, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/root/a"}, loaded.CompletedUnits)
}

func TestCheckpoint_MarkCompleted(t *testing.T) {
	cp := checkpoint.New("run-1", "/data/root", 5)
	before := cp.UpdatedAt

	time.Sleep(time.Millisecond)
	cp.MarkCompleted("/data/root/b")
	cp.MarkCompleted("/data/root/a")
	cp.MarkCompleted("/data/root/b")

	assert.Equal(t, []string{"/data/root/a", "/data/root/b"}, cp.CompletedUnits)
	assert.True(t, cp.UpdatedAt.After(before))

	set := cp.CompletedSet()
	assert.Contains(t, set, "/data/root/a")
	assert.NotContains(t, set, "/data/root/c")
}

func TestCheckpoint_MatchesRoot(t *testing.T) {
	cp := checkpoint.New("run-1", "/data/root", 5)
	assert.True(t, cp.MatchesRoot("/data/root"))
	assert.False(t, cp.MatchesRoot("/data/other"))
}
