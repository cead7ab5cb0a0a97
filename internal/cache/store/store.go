// Package store implements AutoStore, a debounced, crash-safe JSON
// persistence layer for the metadata a Folder accumulates as it is walked
// and fetched (child listings, exact sizes, fetch timestamps). It is
// grounded on the AutoStore class of the original Python implementation,
// with one correction: the original relied solely on an asyncio debounce
// task to flush dirty state, which could be silently dropped if the event
// loop shut down between Changed and the debounce firing. Store additionally
// registers a backstop entry with the Later scheduler so a dirty value is
// guaranteed to be written out even if the debounce timer itself never
// fires.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ash2txt/htreefs/clock"
	"github.com/ash2txt/htreefs/internal/later"
)

// backstopTicks is how many Later ticks the durability backstop waits
// before force-flushing a dirty value that the debounce timer has not yet
// saved, matching mark_changed's own {ticks: 5, once: true} registration.
const backstopTicks = 5

// Store persists a single JSON-encoded value of type T to a file, debouncing
// writes so that a burst of mutations only produces one disk write.
type Store[T any] struct {
	mu       sync.Mutex
	path     string
	clk      clock.Clock
	lt       *later.Later
	debounce time.Duration
	value    *T

	epoch       uint64
	dirty       bool
	backstopSet bool
	onSaveErr   func(error)
}

// New returns a Store that persists to path, debouncing writes by debounce
// and using clk for timing (tests pass a clock.SimulatedClock). lt is the
// Later scheduler whose DoRegularly loop drives the durability backstop;
// onSaveErr, if non-nil, is invoked with any error encountered while
// flushing in the background (the foreground Flush path returns its error
// directly instead).
func New[T any](path string, initial *T, clk clock.Clock, lt *later.Later, debounce time.Duration, onSaveErr func(error)) *Store[T] {
	return &Store[T]{
		path:      path,
		clk:       clk,
		lt:        lt,
		debounce:  debounce,
		value:     initial,
		onSaveErr: onSaveErr,
	}
}

// Load reads and JSON-decodes a persisted value from path. A missing file
// is not an error: it returns a zero-valued T so callers can treat "never
// persisted" and "persisted as zero value" uniformly.
func Load[T any](path string) (*T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &v, nil
		}
		return nil, fmt.Errorf("store: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("store: decoding %s: %w", path, err)
	}
	return &v, nil
}

// Get returns the live value for in-place mutation. Callers that mutate it
// must call Changed afterward.
func (s *Store[T]) Get() *T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Changed marks the value dirty and (re)starts the debounce timer. Calling
// Changed again before the debounce elapses restarts the delay, coalescing
// bursts of mutation into a single write, mirroring the cancel-and-restart
// behavior of the original asyncio debounce task.
func (s *Store[T]) Changed(ctx context.Context) {
	s.mu.Lock()
	s.dirty = true
	s.epoch++
	epoch := s.epoch

	if !s.backstopSet && s.lt != nil {
		s.backstopSet = true
		s.lt.Once(func(context.Context) {
			s.mu.Lock()
			s.backstopSet = false
			s.mu.Unlock()
			_ = s.Flush()
		}, backstopTicks)
	}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(s.debounce):
		}

		s.mu.Lock()
		stale := epoch != s.epoch
		s.mu.Unlock()
		if stale {
			return
		}

		if err := s.Flush(); err != nil && s.onSaveErr != nil {
			s.onSaveErr(err)
		}
	}()
}

// Flush writes the current value to disk immediately via a write-then-
// rename so that a crash mid-write never corrupts the persisted file, and
// clears the dirty flag if the write succeeds.
func (s *Store[T]) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	v := s.value
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: renaming %s to %s: %w", tmpName, s.path, err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// IsDirty reports whether the store has unsaved changes, for tests and
// shutdown-time diagnostics.
func (s *Store[T]) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}
