package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/isotrack/pkg/kvstore"
	"github.com/platinummonkey/isotrack/pkg/observability"
)

// fakeKV is a key-value store that can be told to fail. Every Set attempt
// records how many entries its payload held.
type fakeKV struct {
	mu       sync.Mutex
	values   map[string]string
	setSizes []int
	deletes  int

	// failSet decides the outcome of each Set from the number of entries in the payload
	failSet  func(entries int) error
	getErr   error
	panicSet bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string]string)}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panicSet {
		panic("backend exploded")
	}

	n := countEntries(value)
	f.setSizes = append(f.setSizes, n)
	if f.failSet != nil {
		if err := f.failSet(n); err != nil {
			return err
		}
	}
	f.values[key] = value
	return nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes++
	delete(f.values, key)
	return nil
}

func (f *fakeKV) Ping(context.Context) error { return nil }
func (f *fakeKV) Close() error               { return nil }

// stored decodes the persisted payload under the default key
func (f *fakeKV) stored(t *testing.T) ([]Entry, bool) {
	t.Helper()
	f.mu.Lock()
	raw, ok := f.values[DefaultStorageKey]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	var entries []Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &entries))
	return entries, true
}

func (f *fakeKV) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.setSizes))
	copy(out, f.setSizes)
	return out
}

func (f *fakeKV) failWith(fn func(entries int) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSet = fn
}

func countEntries(payload string) int {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return -1
	}
	return len(raw)
}

// capacityErr mimics a backend reporting a full store
func capacityErr() error {
	return fmt.Errorf("quota exceeded: %w", kvstore.ErrCapacity)
}

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// openTestTrail opens a trail over kv with a quiet logger and the given clock
func openTestTrail(t *testing.T, kv kvstore.Store, clock *testClock, opts ...Option) *Trail {
	t.Helper()

	base := []Option{WithLogger(quietLogger())}
	if clock != nil {
		base = append(base, WithClock(clock.Now))
	}
	trail, err := Open(context.Background(), kv, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })
	return trail
}

func entryIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
