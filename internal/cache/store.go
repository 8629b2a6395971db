package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store is the persistence layer under the cache. Implementations must
// tolerate concurrent use within a process; cross-process exclusion is
// the implementation's concern.
type Store interface {
	Get(key string) (value []byte, found bool, err error)
	Put(key string, value []byte) error
	Delete(key string) error
	DeletePrefix(prefix string) (int, error)
	Clear() error
	Len() (int, error)
	Deferred() DeferredWriter
	Close() error
}

// DeferredWriter batches puts and commits them together. Flush is
// idempotent; a writer is flushed implicitly when its store closes.
type DeferredWriter interface {
	Put(key string, value []byte) error
	Flush() error
}

const (
	openRetries   = 5
	openRetryWait = 200 * time.Millisecond
)

// BadgerStore persists entries in a Badger database directory.
type BadgerStore struct {
	db   *badger.DB
	path string

	mu       sync.Mutex
	deferred []*deferredBatch
}

// badgerSlog adapts Badger's logger callbacks onto slog. Badger is chatty
// at info level, so its info output is demoted to debug.
type badgerSlog struct{}

func (badgerSlog) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf("badger: "+format, args...))
}
func (badgerSlog) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf("badger: "+format, args...))
}
func (badgerSlog) Infof(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}
func (badgerSlog) Debugf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}

// OpenBadgerStore opens (creating if needed) the store directory. A held
// directory lock is retried with backoff: concurrent invocations wait
// rather than fail. Any other open failure is treated as a corrupted
// store: it is logged, wiped and recreated empty rather than aborting
// the run.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, errors.New("cache store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	db, err := openWithRetry(dir)
	if err != nil {
		// A store another process still holds locked is busy, not broken.
		if isLockContention(err) {
			return nil, fmt.Errorf("failed to open cache store %s: %w", dir, err)
		}
		slog.Warn("Cache store unreadable, recreating empty", "path", dir, "error", err)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, fmt.Errorf("failed to reset corrupted cache %s: %w", dir, rmErr)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to recreate cache directory %s: %w", dir, mkErr)
		}
		db, err = openWithRetry(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache store %s: %w", dir, err)
		}
	}

	return &BadgerStore{db: db, path: dir}, nil
}

// OpenInMemoryStore opens a store with no disk persistence.
func OpenInMemoryStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerSlog{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func openWithRetry(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerSlog{}).
		WithNumVersionsToKeep(1)

	var err error
	for attempt := 0; attempt < openRetries; attempt++ {
		var db *badger.DB
		db, err = badger.Open(opts)
		if err == nil {
			return db, nil
		}
		if !isLockContention(err) {
			return nil, err
		}
		wait := openRetryWait * time.Duration(attempt+1)
		slog.Debug("Cache store busy, retrying", "path", dir, "attempt", attempt+1, "wait", wait)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("cache store %s still locked after %d attempts: %w", dir, openRetries, err)
}

func isLockContention(err error) bool {
	return err != nil && strings.Contains(err.Error(), "directory lock")
}

func (s *BadgerStore) Path() string {
	return s.path
}

func (s *BadgerStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *BadgerStore) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key beginning with the literal prefix and
// returns how many were removed. Deleting nothing is not an error.
func (s *BadgerStore) DeletePrefix(prefix string) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache prefix %s: %w", prefix, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete cache prefix %s: %w", prefix, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to delete cache prefix %s: %w", prefix, err)
	}
	return len(keys), nil
}

func (s *BadgerStore) Clear() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("failed to clear cache store: %w", err)
	}
	return nil
}

func (s *BadgerStore) Len() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return count, nil
}

// Deferred returns a writer that batches puts until Flush. The store
// flushes all outstanding writers on Close.
func (s *BadgerStore) Deferred() DeferredWriter {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &deferredBatch{db: s.db}
	s.deferred = append(s.deferred, d)
	return d
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	writers := s.deferred
	s.deferred = nil
	s.mu.Unlock()

	for _, d := range writers {
		if err := d.Flush(); err != nil {
			slog.Error("Failed to flush deferred cache writes", "error", err)
		}
	}
	return s.db.Close()
}

type deferredBatch struct {
	db *badger.DB

	mu sync.Mutex
	wb *badger.WriteBatch
}

func (d *deferredBatch) Put(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.wb == nil {
		d.wb = d.db.NewWriteBatch()
	}
	if err := d.wb.Set([]byte(key), value); err != nil {
		return fmt.Errorf("failed to stage cache key %s: %w", key, err)
	}
	return nil
}

func (d *deferredBatch) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.wb == nil {
		return nil
	}
	wb := d.wb
	d.wb = nil
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush deferred cache writes: %w", err)
	}
	return nil
}
