package state

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/booktu/internal/events"
)

func TestJSONStoreSetManyRollsBackOnRenameFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	dir := t.TempDir()
	store, err := NewJSONStore(dir, logger)
	require.NoError(t, err)

	require.NoError(t, store.SetMany(map[string][]byte{
		KeyBooks:          []byte(`["old-book"]`),
		KeyEstablishments: []byte(`["old-store"]`),
	}))

	before := make(map[string][]byte)
	for _, key := range []string{KeyBooks, KeyEstablishments} {
		data, err := os.ReadFile(store.keyPath(key))
		require.NoError(t, err)
		before[key] = data
	}

	// Keys commit in sorted order, so the refresh timestamp goes last.
	lastPath := store.keyPath(KeyRefreshedAt)
	renameFile = func(oldpath, newpath string) error {
		if newpath == lastPath {
			return errors.New("disk full")
		}
		return os.Rename(oldpath, newpath)
	}
	t.Cleanup(func() { renameFile = os.Rename })

	err = store.SetMany(map[string][]byte{
		KeyBooks:          []byte(`["new-book-1","new-book-2"]`),
		KeyEstablishments: []byte(`["new-store"]`),
		KeyRefreshedAt:    []byte(`"2024-01-01T00:00:00Z"`),
	})
	require.Error(t, err)

	for key, want := range before {
		got, err := os.ReadFile(store.keyPath(key))
		require.NoError(t, err)
		assert.Equal(t, want, got, "key %s was left partially committed", key)
	}
	assert.NoFileExists(t, lastPath)

	value, err := store.Get(KeyBooks)
	require.NoError(t, err)
	assert.Equal(t, `["old-book"]`, string(value))

	_, err = store.Get(KeyRefreshedAt)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	tmps, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmps)
}

func TestJSONStoreSetManyRemovesNewKeysOnRollback(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := NewJSONStore(t.TempDir(), logger)
	require.NoError(t, err)

	lastPath := store.keyPath(KeyRefreshedAt)
	renameFile = func(oldpath, newpath string) error {
		if newpath == lastPath {
			return errors.New("disk full")
		}
		return os.Rename(oldpath, newpath)
	}
	t.Cleanup(func() { renameFile = os.Rename })

	err = store.SetMany(map[string][]byte{
		KeyBooks:       []byte(`[]`),
		KeyRefreshedAt: []byte(`"2024-01-01T00:00:00Z"`),
	})
	require.Error(t, err)

	assert.NoFileExists(t, store.keyPath(KeyBooks))
	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
