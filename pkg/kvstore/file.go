package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// FileStore keeps one file per key under a root directory. Writes go to a
// temporary file that is renamed over the target, so a crash mid-write never
// leaves a truncated value behind.
type FileStore struct {
	root     string
	maxValue int64
	mu       sync.Mutex
	closed   bool
}

// NewFileStore creates the root directory if needed and returns a file-backed store
func NewFileStore(root string, maxValueBytes int64) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{root: root, maxValue: maxValueBytes}, nil
}

// Path returns the file backing key. The file may not exist yet.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.root, url.PathEscape(key)+".json")
}

// Root returns the storage directory
func (s *FileStore) Root() string {
	return s.root
}

// Get implements Store.Get
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", false, ErrClosed
	}

	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements Store.Set
func (s *FileStore) Set(_ context.Context, key, value string) error {
	if err := checkSize(s.maxValue, key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return classifyFileError(fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return classifyFileError(fmt.Errorf("failed to write %q: %w", key, err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return classifyFileError(fmt.Errorf("failed to sync %q: %w", key, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return classifyFileError(fmt.Errorf("failed to close %q: %w", key, err))
	}

	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		os.Remove(tmpName)
		return classifyFileError(fmt.Errorf("failed to replace %q: %w", key, err))
	}
	return nil
}

// Delete implements Store.Delete
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Ping implements Store.Ping
func (s *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("storage directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", s.root)
	}
	return nil
}

// Close implements Store.Close
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func classifyFileError(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return asCapacity(err)
	}
	return err
}
