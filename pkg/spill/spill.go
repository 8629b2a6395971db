// Package spill provides a disk-backed overflow buffer for large record
// streams, keeping memory flat while a run accumulates per-test coverage
// records.
package spill

import (
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Spill is an append-only sequence of T persisted to a temporary file.
// Records are written through immediately and replayed in order with
// Range. Close removes the backing file.
type Spill[T any] interface {
	Len() uint64
	Path() string
	Append(item T) error
	AppendBatch(items []T) error
	Range(fn func(index uint64, item T) error) error
	Close() error
}

type fileSpill[T any] struct {
	path    string
	file    *os.File
	encoder *gob.Encoder
	mu      sync.Mutex
	length  uint64
}

// New creates a Spill backed by a fresh temporary file in dir. An empty
// dir uses the system default.
func New[T any](dir string) (Spill[T], error) {
	file, err := os.CreateTemp(dir, "gremlins-spill-*.gob")
	if err != nil {
		slog.Error("Failed to create spill file", "dir", dir, "error", err)
		return nil, fmt.Errorf("failed to create spill file: %w", err)
	}

	slog.Debug("Created spill", "path", file.Name())

	return &fileSpill[T]{
		path:    file.Name(),
		file:    file,
		encoder: gob.NewEncoder(file),
	}, nil
}

func (s *fileSpill[T]) Path() string {
	return s.path
}

func (s *fileSpill[T]) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.length
}

func (s *fileSpill[T]) Append(item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.append(item)
}

func (s *fileSpill[T]) AppendBatch(items []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if err := s.append(item); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileSpill[T]) append(item T) error {
	if s.file == nil {
		return fmt.Errorf("spill %s is closed", s.path)
	}
	if err := s.encoder.Encode(item); err != nil {
		slog.Error("Failed to encode spill item", "path", s.path, "index", s.length, "error", err)
		return fmt.Errorf("failed to encode item: %w", err)
	}
	s.length++
	return nil
}

// Range replays every record in append order. A callback error stops the
// replay and is returned unchanged.
func (s *fileSpill[T]) Range(fn func(index uint64, item T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		slog.Error("Failed to open spill for replay", "path", s.path, "error", err)
		return fmt.Errorf("failed to open spill: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("Failed to close spill file", "path", s.path, "error", err)
		}
	}()

	decoder := gob.NewDecoder(file)
	for i := uint64(0); i < s.length; i++ {
		// Fresh item per record: gob leaves absent fields untouched, so
		// reusing one would leak values across records.
		var item T
		if err := decoder.Decode(&item); err != nil {
			slog.Error("Failed to decode spill item", "path", s.path, "index", i, "error", err)
			return fmt.Errorf("failed to decode item at index %d: %w", i, err)
		}
		if err := fn(i, item); err != nil {
			return err
		}
	}
	return nil
}

// Close closes and removes the backing file. Safe to call twice.
func (s *fileSpill[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.file.Close(); err != nil {
		slog.Error("Failed to close spill", "path", s.path, "error", err)
		return err
	}
	s.file = nil

	if err := os.Remove(s.path); err != nil {
		slog.Warn("Failed to remove spill file", "path", s.path, "error", err)
	}
	slog.Debug("Closed spill", "path", s.path, "length", s.length)
	return nil
}
