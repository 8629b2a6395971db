package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()

	store, err := OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	_, found, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put("a.go:g001@k", []byte("v1")))

	value, found, err := store.Get("a.go:g001@k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, store.Put("a.go:g001@k", []byte("v2")))
	value, _, err = store.Get("a.go:g001@k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")

	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put("a.go:g001@k", []byte("kept")))
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	value, found, err := reopened.Get("a.go:g001@k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("kept"), value)
}

func TestBadgerStoreDeletePrefix(t *testing.T) {
	store := openTestStore(t)

	entries := map[string]string{
		"a.go:g001@x":  "1",
		"a.go:g002@y":  "2",
		"a.gox:g001@z": "3",
		"b.go:g001@w":  "4",
	}
	for key, value := range entries {
		require.NoError(t, store.Put(key, []byte(value)))
	}

	removed, err := store.DeletePrefix("a.go:")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, found, _ := store.Get("a.go:g001@x")
	assert.False(t, found)
	_, found, _ = store.Get("a.gox:g001@z")
	assert.True(t, found, "prefix must match literally, not as a file-name prefix")
	_, found, _ = store.Get("b.go:g001@w")
	assert.True(t, found)

	removed, err = store.DeletePrefix("a.go:")
	require.NoError(t, err)
	assert.Zero(t, removed, "second invalidation is a no-op")
}

func TestBadgerStoreClearAndLen(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("k1", []byte("1")))
	require.NoError(t, store.Put("k2", []byte("2")))

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.Clear())

	n, err = store.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBadgerStoreDeferredWrites(t *testing.T) {
	store := openTestStore(t)

	writer := store.Deferred()
	require.NoError(t, writer.Put("k1", []byte("1")))
	require.NoError(t, writer.Put("k2", []byte("2")))
	require.NoError(t, writer.Flush())

	value, found, err := store.Get("k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), value)

	// Flush twice, then stage and flush again: the writer survives reuse.
	require.NoError(t, writer.Flush())
	require.NoError(t, writer.Put("k3", []byte("3")))
	require.NoError(t, writer.Flush())

	_, found, err = store.Get("k3")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestBadgerStoreCloseFlushesDeferred(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")

	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)

	writer := store.Deferred()
	require.NoError(t, writer.Put("staged", []byte("v")))
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	_, found, err := reopened.Get("staged")
	require.NoError(t, err)
	assert.True(t, found, "close must flush staged writes")
}

func TestOpenBadgerStoreRecoversCorruptDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MANIFEST"), []byte("this is not a manifest"), 0o600))

	store, err := OpenBadgerStore(dir)
	require.NoError(t, err, "corrupted store must be recreated, not fatal")
	defer store.Close()

	_, found, err := store.Get("anything")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put("k", []byte("v")))
	_, found, _ = store.Get("k")
	assert.True(t, found)
}

func TestOpenBadgerStoreRequiresDir(t *testing.T) {
	_, err := OpenBadgerStore("")
	require.Error(t, err)
}
