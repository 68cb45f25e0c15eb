package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// JournalFileName is the active journal file inside the journal directory
const JournalFileName = "audit.ndjson"

// JournalSink appends every recorded entry to a newline-delimited JSON file.
// The journal is never pruned or degraded, so it keeps entries the bounded
// key-value projection drops.
type JournalSink struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64
	maxFiles int
}

// JournalConfig configures the journal sink
type JournalConfig struct {
	BasePath string // Directory holding the journal files
	Rotate   bool   // Enable rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
}

// DefaultJournalConfig returns default configuration
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		BasePath: "/var/log/isotrack/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewJournalSink opens (or creates) the journal in config.BasePath
func NewJournalSink(config JournalConfig) (*JournalSink, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &JournalSink{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if j.maxSize <= 0 {
		j.maxSize = 100 * 1024 * 1024
	}
	if j.maxFiles <= 0 {
		j.maxFiles = 10
	}

	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the active journal file
func (j *JournalSink) Path() string {
	return filepath.Join(j.basePath, JournalFileName)
}

func (j *JournalSink) openFile() error {
	filename := j.Path()

	if j.rotate {
		if info, err := os.Stat(filename); err == nil && info.Size() >= j.maxSize {
			if err := j.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate journal: %w", err)
			}
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	j.file = file
	j.encoder = json.NewEncoder(file)
	return nil
}

func (j *JournalSink) rotateFile() error {
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}

	// fixed-width timestamp so lexical order is chronological
	timestamp := time.Now().UTC().Format("20060102T150405.000000000")
	rotated := filepath.Join(j.basePath, fmt.Sprintf("audit-%s.ndjson", timestamp))

	if err := os.Rename(j.Path(), rotated); err != nil {
		return fmt.Errorf("failed to rename journal: %w", err)
	}

	return j.cleanupOldFiles()
}

func (j *JournalSink) cleanupOldFiles() error {
	files, err := filepath.Glob(filepath.Join(j.basePath, "audit-*.ndjson"))
	if err != nil {
		return err
	}
	if len(files) <= j.maxFiles {
		return nil
	}

	sort.Strings(files)
	var errs []error
	for _, file := range files[:len(files)-j.maxFiles] {
		if err := os.Remove(file); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Write implements Sink
func (j *JournalSink) Write(_ context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal is closed")
	}

	if j.rotate {
		if info, err := j.file.Stat(); err == nil && info.Size() >= j.maxSize {
			if err := j.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate journal: %w", err)
			}
			if err := j.openFile(); err != nil {
				return err
			}
		}
	}

	if err := j.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// Close implements Sink
func (j *JournalSink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		return err
	}
	return nil
}

// ReadJournal decodes up to count entries (all when count <= 0) from r
func ReadJournal(r io.Reader, count int) ([]Entry, error) {
	entries := make([]Entry, 0)
	decoder := json.NewDecoder(bufio.NewReader(r))
	decoder.UseNumber()

	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return entries, fmt.Errorf("failed to decode journal entry: %w", err)
		}
		entry.restoreNumbers()
		entries = append(entries, entry)

		if count > 0 && len(entries) >= count {
			break
		}
	}

	return entries, nil
}

// ReadJournalFile reads entries from the journal file at path
func ReadJournalFile(path string, count int) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	return ReadJournal(file, count)
}
