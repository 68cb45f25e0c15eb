package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps values as plain redis strings under a key prefix
type RedisStore struct {
	client   *redis.Client
	prefix   string
	maxValue int64
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.RedisKeyPrefix, cfg.MaxValueBytes), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string, maxValueBytes int64) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		maxValue: maxValueBytes,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Get implements Store.Get
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return value, true, nil
}

// Set implements Store.Set
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := checkSize(s.maxValue, key, value); err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		err = fmt.Errorf("redis set failed: %w", err)
		if isRedisOOM(err) {
			return asCapacity(err)
		}
		return err
	}
	return nil
}

// Delete implements Store.Delete
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Ping implements Store.Ping
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.Close
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying redis client
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// isRedisOOM matches the reply redis sends once maxmemory is reached with a
// noeviction policy.
func isRedisOOM(err error) bool {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return strings.HasPrefix(redisErr.Error(), "OOM ")
	}
	return false
}
