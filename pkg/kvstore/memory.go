package kvstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps values in a map. With a quota it behaves like browser
// local storage: writes that would push the total size of keys and values
// past the quota fail with ErrCapacity and leave the previous value intact.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	used     int64
	quota    int64
	maxValue int64
	closed   bool
}

// NewMemoryStore creates an in-memory store. quotaBytes and maxValueBytes of 0 disable the limits.
func NewMemoryStore(quotaBytes, maxValueBytes int64) *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		quota:    quotaBytes,
		maxValue: maxValueBytes,
	}
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}
	value, ok := s.values[key]
	return value, ok, nil
}

// Set implements Store.Set
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if err := checkSize(s.maxValue, key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	used := s.used
	if old, ok := s.values[key]; ok {
		used -= int64(len(key) + len(old))
	}
	used += int64(len(key) + len(value))

	if s.quota > 0 && used > s.quota {
		return fmt.Errorf("setting %q needs %d bytes, quota %d: %w", key, used, s.quota, ErrCapacity)
	}

	s.values[key] = value
	s.used = used
	return nil
}

// Delete implements Store.Delete
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if old, ok := s.values[key]; ok {
		s.used -= int64(len(key) + len(old))
		delete(s.values, key)
	}
	return nil
}

// Ping implements Store.Ping
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Used returns the number of bytes currently counted against the quota
func (s *MemoryStore) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}
