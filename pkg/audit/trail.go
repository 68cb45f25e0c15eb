package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/isotrack/pkg/identity"
	"github.com/platinummonkey/isotrack/pkg/kvstore"
	"github.com/platinummonkey/isotrack/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/isotrack/pkg/audit")

// Trail is the audit log. It keeps the complete session history in memory
// and persists the newest MaxLogs entries as one JSON array under a single
// key of a kvstore.Store.
//
// When a write fails the trail retries with the newest MaxLogs/2 entries,
// then deletes the payload. The in-memory log is never shrunk by a write
// failure; only ClearOldLogs and Reset remove entries from memory.
//
// A Trail is safe for concurrent use. Every mutation holds the lock for the
// whole read-modify-write, persistence included.
type Trail struct {
	kv       kvstore.Store
	key      string
	maxLogs  int
	identity identity.Provider
	logger   *observability.Logger
	now      func() time.Time
	metrics  *Metrics
	sinks    *MultiSink

	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[string, []Entry]

	mu            sync.RWMutex
	entries       []Entry
	lastTimestamp time.Time
	state         State
	persisted     int
	lastPersistAt time.Time
	lastErr       error
	closed        bool
}

// Option configures a Trail
type Option func(*Trail)

// WithMaxLogs sets the persisted projection size. Values below 1 are ignored.
func WithMaxLogs(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.maxLogs = n
		}
	}
}

// WithStorageKey sets the key the payload is stored under
func WithStorageKey(key string) Option {
	return func(t *Trail) {
		if key != "" {
			t.key = key
		}
	}
}

// WithIdentity sets the provider of the acting user
func WithIdentity(p identity.Provider) Option {
	return func(t *Trail) {
		if p != nil {
			t.identity = p
		}
	}
}

// WithLogger sets the diagnostic logger
func WithLogger(logger *observability.Logger) Option {
	return func(t *Trail) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(t *Trail) {
		t.metrics = m
	}
}

// WithSink mirrors every recorded entry to s. Repeating the option adds
// further sinks.
func WithSink(s Sink) Option {
	return func(t *Trail) {
		if t.sinks == nil {
			t.sinks = NewMultiSink()
		}
		t.sinks.Add(s)
	}
}

// WithQueryCache sizes the per-entity query cache. A size of 0 disables it.
func WithQueryCache(size int, ttl time.Duration) Option {
	return func(t *Trail) {
		t.cacheSize = size
		t.cacheTTL = ttl
	}
}

// Open creates a trail over kv and loads the persisted payload. A missing,
// unreadable or malformed payload yields an empty log; Open only fails when
// kv is nil.
func Open(ctx context.Context, kv kvstore.Store, opts ...Option) (*Trail, error) {
	if kv == nil {
		return nil, fmt.Errorf("key-value store is required")
	}

	t := &Trail{
		kv:        kv,
		key:       DefaultStorageKey,
		maxLogs:   DefaultMaxLogs,
		identity:  identity.ContextProvider{},
		logger:    observability.NewLogger(observability.InfoLevel, os.Stdout),
		now:       time.Now,
		cacheSize: 256,
		cacheTTL:  5 * time.Minute,
		state:     StateUninitialized,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithField("component", "audit_trail").WithField("storage_key", t.key)

	if t.cacheSize > 0 {
		t.cache = expirable.NewLRU[string, []Entry](t.cacheSize, nil, t.cacheTTL)
	}

	t.load(ctx)
	return t, nil
}

func (t *Trail) load(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = t.readPayload(ctx)
	for _, e := range t.entries {
		if e.Timestamp.After(t.lastTimestamp) {
			t.lastTimestamp = e.Timestamp
		}
	}
	t.persisted = len(t.entries)
	t.transition(eventLoaded, len(t.entries), nil)

	t.logger.WithField("entries", len(t.entries)).Info("audit trail loaded")
}

// readPayload never fails: every read problem is logged and treated as an empty log
func (t *Trail) readPayload(ctx context.Context) []Entry {
	var (
		raw string
		ok  bool
	)
	err := t.guard("get", func() error {
		var err error
		raw, ok, err = t.kv.Get(ctx, t.key)
		return err
	})
	if err != nil {
		t.logger.WithError(err).Warn("failed to read persisted audit log, starting empty")
		return nil
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}

	var stored []Entry
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	err = decoder.Decode(&stored)
	if err == nil && decoder.More() {
		err = errors.New("unexpected data after the log array")
	}
	if err != nil {
		t.metrics.recordCorruptRead()
		t.logger.WithError(err).WithField("payload_bytes", len(raw)).Warn("persisted audit log is malformed, starting empty")
		return nil
	}

	entries := make([]Entry, 0, len(stored))
	for _, e := range stored {
		if e.ID == "" {
			continue
		}
		if e.Changes == nil {
			e.Changes = make([]Change, 0)
		}
		e.restoreNumbers()
		entries = append(entries, e)
	}
	if dropped := len(stored) - len(entries); dropped > 0 {
		t.logger.WithField("dropped", dropped).Warn("skipped persisted audit entries without an id")
	}
	return entries
}

// append adds a new entry built from the arguments and persists
func (t *Trail) append(ctx context.Context, actor identity.Actor, action Action, entityType EntityType, entityID, entityName string, changes []Change, metadata map[string]interface{}) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Entry{}, errTrailClosed
	}

	now := t.now()
	if now.Before(t.lastTimestamp) {
		now = t.lastTimestamp
	}

	entry, err := NewEntry(now, actor, action, entityType, entityID, entityName, changes, metadata)
	if err != nil {
		return Entry{}, err
	}

	t.lastTimestamp = entry.Timestamp
	t.entries = append(t.entries, entry)
	t.invalidateCache()
	t.persistLocked(ctx)

	if t.sinks != nil {
		if err := t.sinks.Write(ctx, entry.Clone()); err != nil {
			t.logger.WithError(err).WithField("entry_id", entry.ID).Warn("audit sink write failed")
		}
	}

	return entry.Clone(), nil
}

var errTrailClosed = errors.New("audit trail closed")

// persistLocked writes the projection, degrading on failure. Caller holds t.mu.
func (t *Trail) persistLocked(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "audit.persist",
		trace.WithAttributes(
			attribute.String("audit.storage_key", t.key),
			attribute.Int("audit.entries", len(t.entries)),
			attribute.Int("audit.max_logs", t.maxLogs),
		),
	)
	defer span.End()

	start := time.Now()
	event := t.persistSequence(ctx, span)
	t.metrics.recordPersist(event, time.Since(start))
}

func (t *Trail) persistSequence(ctx context.Context, span trace.Span) persistEvent {
	full := tail(t.entries, t.maxLogs)
	fullErr := t.write(ctx, full)
	if fullErr == nil {
		t.transition(eventFullWritten, len(full), nil)
		span.SetStatus(codes.Ok, "persisted")
		return eventFullWritten
	}
	t.recordWriteFailure(fullErr, len(full))
	span.RecordError(fullErr)

	half := tail(t.entries, t.maxLogs/2)
	halfErr := t.write(ctx, half)
	if halfErr == nil {
		t.transition(eventHalfWritten, len(half), fullErr)
		span.SetStatus(codes.Error, "persisted half")
		return eventHalfWritten
	}
	t.recordWriteFailure(halfErr, len(half))
	span.RecordError(halfErr)

	deleteErr := t.guard("delete", func() error {
		return t.kv.Delete(ctx, t.key)
	})
	if deleteErr != nil {
		t.logger.WithError(deleteErr).Error("failed to clear persisted audit log")
	}
	t.transition(eventCleared, 0, errors.Join(halfErr, deleteErr))
	span.SetStatus(codes.Error, "persisted payload cleared")
	return eventCleared
}

func (t *Trail) write(ctx context.Context, entries []Entry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode audit log: %w", err)
	}
	return t.guard("set", func() error {
		return t.kv.Set(ctx, t.key, string(payload))
	})
}

func (t *Trail) recordWriteFailure(err error, size int) {
	kind := "other"
	if kvstore.IsCapacity(err) {
		kind = "capacity"
	}
	t.metrics.recordPersistFailure(kind)

	logger := t.logger.WithError(err).WithField("kind", kind).WithField("entries", size)
	if kind == "capacity" {
		logger.Warn("audit log write exceeded storage capacity")
		return
	}
	logger.Warn("audit log write failed, handling as a capacity failure")
}

// transition moves the state machine and records the persisted size. Caller holds t.mu.
func (t *Trail) transition(event persistEvent, persisted int, cause error) {
	prev := t.state
	t.state = prev.next(event)
	t.persisted = persisted
	t.lastErr = cause
	if event != eventLoaded {
		t.lastPersistAt = t.now()
	}

	if prev != t.state && prev != StateUninitialized {
		logger := t.logger.WithField("from", prev.String()).WithField("to", t.state.String()).WithField("persisted", persisted)
		if t.state.Degraded() {
			logger.Warn("audit trail persistence degraded")
		} else {
			logger.Info("audit trail persistence recovered")
		}
	}

	t.metrics.setSizes(t.state, len(t.entries), t.persisted)
}

// guard turns a panic inside a store call into an error
func (t *Trail) guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("key-value %s: %w", op, observability.MustRecover(r))
			t.logger.WithField("operation", op).WithField("panic", r).Error("key-value store panicked")
		}
	}()
	return fn()
}

func (t *Trail) invalidateCache() {
	if t.cache != nil {
		t.cache.Purge()
	}
}

// Status reports the persistence state
func (t *Trail) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := Status{
		State:         t.state,
		InMemory:      len(t.entries),
		Persisted:     t.persisted,
		MaxLogs:       t.maxLogs,
		StorageKey:    t.key,
		LastPersistAt: t.lastPersistAt,
	}
	if t.lastErr != nil {
		status.LastPersistError = t.lastErr.Error()
	}
	return status
}

// State returns the current persistence state
func (t *Trail) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// MaxLogs returns the persisted projection size
func (t *Trail) MaxLogs() int {
	return t.maxLogs
}

// Len returns the number of entries in memory
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Reset drops every entry from memory and deletes the persisted payload
func (t *Trail) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errTrailClosed
	}

	t.entries = nil
	t.invalidateCache()

	err := t.guard("delete", func() error {
		return t.kv.Delete(ctx, t.key)
	})
	if err != nil {
		t.transition(eventCleared, 0, err)
		return fmt.Errorf("failed to clear persisted audit log: %w", err)
	}
	t.transition(eventFullWritten, 0, nil)
	t.logger.Info("audit trail reset")
	return nil
}

// Close stops accepting entries and closes the sink. The key-value store
// belongs to the caller and is left open.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.invalidateCache()

	if t.sinks != nil {
		return t.sinks.Close()
	}
	return nil
}

// tail returns the newest n entries, never nil
func tail(entries []Entry, n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	if len(entries) <= n {
		if entries == nil {
			return []Entry{}
		}
		return entries
	}
	return entries[len(entries)-n:]
}
