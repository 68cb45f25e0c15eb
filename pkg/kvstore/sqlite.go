package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps values in a single kv_entries table of a local SQLite database
type SQLiteStore struct {
	db       *sql.DB
	maxValue int64
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for tests.
func NewSQLiteStore(path string, maxValueBytes int64) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers anyway; a single connection also keeps
	// ":memory:" databases from splitting across pool connections.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, maxValue: maxValueBytes}
	if err := store.ensureTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure kv_entries table: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Get implements Store.Get
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_entries WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get failed: %w", err)
	}
	return value, true, nil
}

// Set implements Store.Set
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if err := checkSize(s.maxValue, key, value); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		err = fmt.Errorf("sqlite set failed: %w", err)
		if isSQLiteFull(err) {
			return asCapacity(err)
		}
		return err
	}
	return nil
}

// Delete implements Store.Delete
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite delete failed: %w", err)
	}
	return nil
}

// Ping implements Store.Ping
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.Close
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteFull(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrFull
	}
	return false
}
