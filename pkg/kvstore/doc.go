// Package kvstore provides the durable key-value backends the audit trail
// persists its log projection to.
//
// # Overview
//
// Every backend implements Store: Get, Set, Delete, Ping and Close over string
// keys and values. The audit trail only ever writes one key, so backends are
// tuned for a small number of large values rather than many small ones.
//
// # Capacity Failures
//
// A write refused because the backend is full, or because the value exceeds
// Config.MaxValueBytes, is reported as an error wrapping ErrCapacity:
//
//	if err := store.Set(ctx, key, payload); kvstore.IsCapacity(err) {
//		// retry with a smaller payload
//	}
//
// Each backend maps its native "full" condition onto ErrCapacity:
//
//   - MemoryStore: configured byte quota (mirrors browser storage quotas)
//   - FileStore: ENOSPC from the filesystem
//   - RedisStore: OOM replies when maxmemory is reached
//   - SQLiteStore: SQLITE_FULL
//   - PostgresStore: SQLSTATE class 53 (insufficient resources)
//   - S3Store: EntityTooLarge, QuotaExceeded and storage-full error codes
//
// # Backends
//
//	store, err := kvstore.Open(ctx, kvstore.Config{
//		Type:     kvstore.TypeRedis,
//		RedisURL: "redis://localhost:6379/0",
//	})
//
// The in-memory backend is the default and is what tests use when they need a
// store that can be told to run out of space.
package kvstore
