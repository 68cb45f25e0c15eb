package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCapacity is returned (wrapped) when a backend refuses a write because
	// it is out of space or the value exceeds its configured size limit.
	ErrCapacity = errors.New("storage capacity exceeded")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Store is a single-namespace string key-value store. Get reports absence
// with ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// IsCapacity reports whether err is a capacity failure.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}

// capacityError wraps a backend error so it matches ErrCapacity while keeping
// the original cause reachable through errors.As.
type capacityError struct {
	cause error
}

func (e *capacityError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCapacity.Error(), e.cause)
}

func (e *capacityError) Unwrap() []error {
	return []error{ErrCapacity, e.cause}
}

func asCapacity(err error) error {
	if err == nil || IsCapacity(err) {
		return err
	}
	return &capacityError{cause: err}
}

// checkSize enforces an optional per-value byte limit. A limit <= 0 disables it.
func checkSize(limit int64, key, value string) error {
	if limit > 0 && int64(len(value)) > limit {
		return fmt.Errorf("value for %q is %d bytes, limit %d: %w", key, len(value), limit, ErrCapacity)
	}
	return nil
}

// Backend types accepted by Config.Type.
const (
	TypeMemory   = "memory"
	TypeFile     = "file"
	TypeRedis    = "redis"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeS3       = "s3"
)

// Config selects and configures a backend
type Config struct {
	Type string

	// MaxValueBytes rejects larger values with ErrCapacity on every backend (0 = unlimited)
	MaxValueBytes int64

	// Memory backend: total bytes across keys and values (0 = unlimited)
	MemoryQuotaBytes int64

	// File backend
	FileRoot string

	// Redis backend
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisKeyPrefix  string

	// SQLite backend
	SQLitePath string

	// PostgreSQL backend
	PostgresURL      string
	PostgresTable    string
	PostgresMaxConns int
	PostgresTimeout  time.Duration

	// S3 backend
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3Prefix       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns a configuration for the in-memory backend with a
// 5MB quota, the same order of magnitude as browser local storage.
func DefaultConfig() Config {
	return Config{
		Type:             TypeMemory,
		MemoryQuotaBytes: 5 * 1024 * 1024,
		FileRoot:         "/var/lib/isotrack",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		RedisKeyPrefix:   "isotrack:",
		SQLitePath:       "/var/lib/isotrack/audit.db",
		PostgresTable:    "audit_kv",
		PostgresMaxConns: 10,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
		S3Prefix:         "audit/",
	}
}

// Validate checks that the selected backend has what it needs
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
		return nil
	case TypeFile:
		if c.FileRoot == "" {
			return fmt.Errorf("file root is required for file storage")
		}
	case TypeRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	case TypeSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case TypePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case TypeS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, file, redis, sqlite, postgres, or s3)", c.Type)
	}
	return nil
}

// Open builds the backend selected by cfg.Type.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeFile:
		return NewFileStore(cfg.FileRoot, cfg.MaxValueBytes)
	case TypeRedis:
		return NewRedisStore(ctx, cfg)
	case TypeSQLite:
		return NewSQLiteStore(cfg.SQLitePath, cfg.MaxValueBytes)
	case TypePostgres:
		return OpenPostgresStore(ctx, cfg)
	case TypeS3:
		return NewS3Store(ctx, cfg)
	default:
		return NewMemoryStore(cfg.MemoryQuotaBytes, cfg.MaxValueBytes), nil
	}
}
