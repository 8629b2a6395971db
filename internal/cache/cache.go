package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mikelane/gremlins/internal/model"
)

// Stats summarizes cache effectiveness for one run plus the persisted
// entry count.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Cache is the incremental result cache: worker results keyed by gremlin
// id, mutated-source hash and covering-test content hashes. Lookups and
// writes are safe for concurrent use as long as the underlying store is.
type Cache struct {
	store  Store
	hits   atomic.Int64
	misses atomic.Int64
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// Key builds the cache key for one gremlin. See BuildKey.
func (c *Cache) Key(gremlinID, sourceHash string, testHashes map[string]string) string {
	return BuildKey(gremlinID, sourceHash, testHashes)
}

// Get looks a key up. Store failures and undecodable entries both count
// as misses so a damaged cache degrades to re-testing, never to a wrong
// answer; undecodable entries are dropped on sight. Hits come back with
// Cached set.
func (c *Cache) Get(key string) (model.WorkerResult, bool) {
	value, found, err := c.store.Get(key)
	if err != nil {
		slog.Warn("Cache read failed, treating as miss", "key", key, "error", err)
		c.misses.Add(1)
		return model.WorkerResult{}, false
	}
	if !found {
		c.misses.Add(1)
		return model.WorkerResult{}, false
	}

	var result model.WorkerResult
	if err := json.Unmarshal(value, &result); err != nil {
		slog.Warn("Dropping undecodable cache entry", "key", key, "error", err)
		if delErr := c.store.Delete(key); delErr != nil {
			slog.Error("Failed to drop cache entry", "key", key, "error", delErr)
		}
		c.misses.Add(1)
		return model.WorkerResult{}, false
	}

	c.hits.Add(1)
	result.Cached = true
	return result, true
}

// Put stores a result immediately, replacing any previous entry.
func (c *Cache) Put(key string, result model.WorkerResult) error {
	value, err := encodeResult(key, result)
	if err != nil {
		return err
	}
	return c.store.Put(key, value)
}

// Writer returns a deferred writer for batching results during a run.
type Writer struct {
	deferred DeferredWriter
}

func (c *Cache) Writer() *Writer {
	return &Writer{deferred: c.store.Deferred()}
}

func (w *Writer) Put(key string, result model.WorkerResult) error {
	value, err := encodeResult(key, result)
	if err != nil {
		return err
	}
	return w.deferred.Put(key, value)
}

// Flush commits everything staged so far. Idempotent.
func (w *Writer) Flush() error {
	return w.deferred.Flush()
}

// InvalidateFile removes every entry for gremlins of the given file. The
// match is the literal id prefix "<file>:", so it never misfires on files
// whose names merely extend this one. Idempotent; returns entries removed.
func (c *Cache) InvalidateFile(file model.Path) (int, error) {
	return c.store.DeletePrefix(string(file) + ":")
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	return c.store.Clear()
}

func (c *Cache) Stats() Stats {
	entries, err := c.store.Len()
	if err != nil {
		slog.Warn("Failed to count cache entries", "error", err)
		entries = -1
	}
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}

// Close flushes outstanding deferred writes and closes the store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func encodeResult(key string, result model.WorkerResult) ([]byte, error) {
	// Cached is a per-run annotation, not part of the stored outcome.
	result.Cached = false
	value, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result for cache key %s: %w", key, err)
	}
	return value, nil
}
