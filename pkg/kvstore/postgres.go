package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PostgresStore keeps values in a key/value table
type PostgresStore struct {
	db       *sql.DB
	table    string
	maxValue int64
	ownsDB   bool
}

// OpenPostgresStore connects using cfg.PostgresURL and prepares the table
func OpenPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if cfg.PostgresMaxConns > 0 {
		db.SetMaxOpenConns(cfg.PostgresMaxConns)
	}

	pingCtx := ctx
	if cfg.PostgresTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PostgresTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store, err := NewPostgresStore(db, cfg.PostgresTable, cfg.MaxValueBytes)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewPostgresStore wraps an existing connection pool. The caller keeps
// ownership of db: Close does not close it.
func NewPostgresStore(db *sql.DB, table string, maxValueBytes int64) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if table == "" {
		table = "audit_kv"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}

	store := &PostgresStore{db: db, table: table, maxValue: maxValueBytes}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure %s table: %w", table, err)
	}
	return store, nil
}

func (s *PostgresStore) ensureTable() error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		key VARCHAR(255) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`, s.table)

	_, err := s.db.Exec(query)
	return err
}

// Get implements Store.Get
func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres get failed: %w", err)
	}
	return value, true, nil
}

// Set implements Store.Set
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	if err := checkSize(s.maxValue, key, value); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, s.table)

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		err = fmt.Errorf("postgres set failed: %w", err)
		if isInsufficientResources(err) {
			return asCapacity(err)
		}
		return err
	}
	return nil
}

// Delete implements Store.Delete
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("postgres delete failed: %w", err)
	}
	return nil
}

// Ping implements Store.Ping
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.Close
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// isInsufficientResources matches SQLSTATE class 53: disk_full,
// out_of_memory, too_many_connections and friends.
func isInsufficientResources(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "53"
	}
	return false
}
