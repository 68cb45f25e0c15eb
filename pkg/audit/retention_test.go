package audit

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedAges records one delete per age, oldest first, and leaves the clock at now
func seedAges(t *testing.T, trail *Trail, clock *testClock, now time.Time, ages map[string]time.Duration, order []string) {
	t.Helper()
	for _, id := range order {
		clock.Set(now.Add(-ages[id]))
		_, ok := trail.LogDelete(context.Background(), EntityProject, id, "")
		require.True(t, ok)
	}
	clock.Set(now)
}

func TestClearOldLogs(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	clock := newTestClock()
	now := clock.Now()
	trail := openTestTrail(t, kv, clock)

	day := 24 * time.Hour
	seedAges(t, trail, clock, now,
		map[string]time.Duration{"old": 40 * day, "mid": 10 * day, "new": day},
		[]string{"old", "mid", "new"})

	removed := trail.ClearOldLogs(ctx, 30)
	assert.Equal(t, 1, removed)

	remaining := trail.Entries()
	require.Len(t, remaining, 2)
	assert.Equal(t, "mid", remaining[0].EntityID)
	assert.Equal(t, "new", remaining[1].EntityID)

	stored, present := kv.stored(t)
	require.True(t, present)
	assert.Equal(t, entryIDs(remaining), entryIDs(stored))
}

func TestClearOldLogs_Boundaries(t *testing.T) {
	ctx := context.Background()
	day := 24 * time.Hour

	tests := []struct {
		name        string
		days        int
		wantRemoved int
		wantLeft    []string
	}{
		{name: "keep everything", days: 365, wantRemoved: 0, wantLeft: []string{"old", "edge", "now"}},
		{name: "exact cutoff is kept", days: 5, wantRemoved: 1, wantLeft: []string{"edge", "now"}},
		{name: "zero days keeps entries stamped now", days: 0, wantRemoved: 2, wantLeft: []string{"now"}},
		{name: "negative is zero", days: -3, wantRemoved: 2, wantLeft: []string{"now"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			now := clock.Now()
			trail := openTestTrail(t, newFakeKV(), clock)

			seedAges(t, trail, clock, now,
				map[string]time.Duration{"old": 20 * day, "edge": 5 * day, "now": 0},
				[]string{"old", "edge", "now"})

			assert.Equal(t, tt.wantRemoved, trail.ClearOldLogs(ctx, tt.days))

			var left []string
			for _, e := range trail.Entries() {
				left = append(left, e.EntityID)
			}
			assert.Equal(t, tt.wantLeft, left)
		})
	}
}

func TestClearOldLogs_ClosedTrail(t *testing.T) {
	trail := openTestTrail(t, newFakeKV(), nil)
	trail.LogDelete(context.Background(), EntityProject, "p1", "")
	require.NoError(t, trail.Close())

	assert.Zero(t, trail.ClearOldLogs(context.Background(), -1))
	assert.Equal(t, 1, trail.Len())
}

func TestCleanup_Archive(t *testing.T) {
	day := 24 * time.Hour

	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newTestClock()
			now := clock.Now()
			trail := openTestTrail(t, newFakeKV(), clock)

			seedAges(t, trail, clock, now,
				map[string]time.Duration{"a": 90 * day, "b": 60 * day, "c": day},
				[]string{"a", "b", "c"})

			dir := filepath.Join(t.TempDir(), "archive")
			removed, err := trail.Cleanup(ctx, RetentionPolicy{
				RetentionDays:   30,
				ArchiveEnabled:  true,
				ArchivePath:     dir,
				CompressArchive: compress,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)
			assert.Equal(t, 1, trail.Len())

			pattern := "audit-archive-*.ndjson"
			if compress {
				pattern += ".gz"
			}
			files, err := filepath.Glob(filepath.Join(dir, pattern))
			require.NoError(t, err)
			require.Len(t, files, 1)

			f, err := os.Open(files[0])
			require.NoError(t, err)
			defer f.Close()

			var archived []Entry
			if compress {
				gz, err := gzip.NewReader(f)
				require.NoError(t, err)
				archived, err = ReadJournal(gz, 0)
				require.NoError(t, err)
			} else {
				archived, err = ReadJournal(f, 0)
				require.NoError(t, err)
			}

			require.Len(t, archived, 2)
			assert.Equal(t, "a", archived[0].EntityID)
			assert.Equal(t, "b", archived[1].EntityID)
		})
	}
}

func TestCleanup_ArchiveFailureStillPrunes(t *testing.T) {
	clock := newTestClock()
	now := clock.Now()
	trail := openTestTrail(t, newFakeKV(), clock)

	seedAges(t, trail, clock, now, map[string]time.Duration{"a": 90 * 24 * time.Hour}, []string{"a"})

	removed, err := trail.Cleanup(context.Background(), RetentionPolicy{RetentionDays: 30, ArchiveEnabled: true})
	assert.Error(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Zero(t, trail.Len())
}

func TestCleanup_NothingToArchive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	trail := openTestTrail(t, newFakeKV(), nil)
	trail.LogDelete(context.Background(), EntityProject, "p1", "")

	removed, err := trail.Cleanup(context.Background(), RetentionPolicy{RetentionDays: 30, ArchiveEnabled: true, ArchivePath: dir})
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestNewRetentionScheduler(t *testing.T) {
	trail := openTestTrail(t, newFakeKV(), nil)

	_, err := NewRetentionScheduler(nil, "@daily", DefaultRetentionPolicy(), nil)
	assert.Error(t, err)

	_, err = NewRetentionScheduler(trail, "every tuesday", DefaultRetentionPolicy(), nil)
	assert.Error(t, err)

	s, err := NewRetentionScheduler(trail, "0 3 * * *", DefaultRetentionPolicy(), quietLogger())
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestRetentionScheduler_RunOnce(t *testing.T) {
	clock := newTestClock()
	now := clock.Now()
	trail := openTestTrail(t, newFakeKV(), clock)

	seedAges(t, trail, clock, now,
		map[string]time.Duration{"a": 45 * 24 * time.Hour, "b": time.Hour},
		[]string{"a", "b"})

	s, err := NewRetentionScheduler(trail, "@every 1h", RetentionPolicy{RetentionDays: 30}, nil)
	require.NoError(t, err)

	s.runOnce()
	assert.Equal(t, 1, trail.Len())
}
