package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikelane/gremlins/internal/model"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	store, err := OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestCacheMissOnEmpty(t *testing.T) {
	c := newTestCache(t)

	_, hit := c.Get("a.go:g001@key")
	assert.False(t, hit)

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCachePutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)

	result := model.WorkerResult{
		GremlinID:   "a.go:g001",
		Status:      model.StatusZapped,
		KillingTest: "TestA",
		Duration:    250 * time.Millisecond,
	}
	require.NoError(t, c.Put("a.go:g001@key", result))

	got, hit := c.Get("a.go:g001@key")
	require.True(t, hit)
	assert.True(t, got.Cached, "hits are marked as served from cache")

	got.Cached = false
	assert.Equal(t, result, got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.Entries)
}

func TestCacheDropsCorruptEntry(t *testing.T) {
	store, err := OpenInMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	c := New(store)

	require.NoError(t, store.Put("a.go:g001@key", []byte("{not json")))

	_, hit := c.Get("a.go:g001@key")
	assert.False(t, hit, "corrupt entry is a miss")

	_, found, err := store.Get("a.go:g001@key")
	require.NoError(t, err)
	assert.False(t, found, "corrupt entry is removed")
}

func TestCacheInvalidateFile(t *testing.T) {
	c := newTestCache(t)

	result := model.WorkerResult{Status: model.StatusSurvived}
	require.NoError(t, c.Put(BuildKey("pkg/a.go:g001", "s", nil), result))
	require.NoError(t, c.Put(BuildKey("pkg/a.go:g002", "s", nil), result))
	require.NoError(t, c.Put(BuildKey("pkg/ab.go:g001", "s", nil), result))

	removed, err := c.InvalidateFile("pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, hit := c.Get(BuildKey("pkg/ab.go:g001", "s", nil))
	assert.True(t, hit, "other files' entries survive invalidation")

	removed, err = c.InvalidateFile("pkg/a.go")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Put("a.go:g001@k", model.WorkerResult{Status: model.StatusSurvived}))
	require.NoError(t, c.Clear())

	_, hit := c.Get("a.go:g001@k")
	assert.False(t, hit)
	assert.Zero(t, c.Stats().Entries)
}

func TestCacheWriterDefersUntilFlush(t *testing.T) {
	c := newTestCache(t)

	writer := c.Writer()
	require.NoError(t, writer.Put("a.go:g001@k", model.WorkerResult{
		GremlinID: "a.go:g001",
		Status:    model.StatusTimeout,
	}))
	require.NoError(t, writer.Flush())
	require.NoError(t, writer.Flush())

	got, hit := c.Get("a.go:g001@k")
	require.True(t, hit)
	assert.Equal(t, model.StatusTimeout, got.Status)
}

func TestCacheDoesNotPersistCachedFlag(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Put("k", model.WorkerResult{Status: model.StatusSurvived, Cached: true}))

	got, hit := c.Get("k")
	require.True(t, hit)
	// Cached is set by this lookup, not replayed from the blob.
	assert.True(t, got.Cached)

	raw, found, err := c.store.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, string(raw), "cached")
}

// failingStore exercises the degraded path without a real store.
type failingStore struct {
	err error
}

func (f failingStore) Get(string) ([]byte, bool, error)  { return nil, false, f.err }
func (f failingStore) Put(string, []byte) error          { return f.err }
func (f failingStore) Delete(string) error               { return f.err }
func (f failingStore) DeletePrefix(string) (int, error)  { return 0, f.err }
func (f failingStore) Clear() error                      { return f.err }
func (f failingStore) Len() (int, error)                 { return 0, f.err }
func (f failingStore) Deferred() DeferredWriter          { return failingWriter{err: f.err} }
func (f failingStore) Close() error                      { return f.err }

type failingWriter struct {
	err error
}

func (f failingWriter) Put(string, []byte) error { return f.err }
func (f failingWriter) Flush() error             { return f.err }

func TestCacheStoreFailureIsMiss(t *testing.T) {
	c := New(failingStore{err: errors.New("disk on fire")})

	_, hit := c.Get("any")
	assert.False(t, hit)
	assert.Equal(t, int64(1), c.Stats().Misses)
	assert.Equal(t, -1, c.Stats().Entries)
}
