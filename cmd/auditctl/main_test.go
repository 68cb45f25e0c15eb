package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/isotrack/pkg/audit"
	"github.com/platinummonkey/isotrack/pkg/identity"
	"github.com/platinummonkey/isotrack/pkg/kvstore"
)

// seedStore writes four entries to a file store: two older than 30 days and
// two from the last hour.
func seedStore(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	store, err := kvstore.NewFileStore(root, 0)
	require.NoError(t, err)

	now := time.Now().UTC()
	clock := now.AddDate(0, 0, -40)
	trail, err := audit.Open(ctx, store,
		audit.WithClock(func() time.Time { return clock }),
		audit.WithIdentity(identity.Static{UserID: "u-ops", Role: "admin"}),
	)
	require.NoError(t, err)

	_, ok := trail.LogCreate(ctx, audit.EntityProject, "p1", "Apollo", map[string]interface{}{"name": "Apollo"})
	require.True(t, ok)

	clock = now.AddDate(0, 0, -35)
	_, ok = trail.LogCreate(ctx, audit.EntityRisk, "r1", "Supplier delay", nil)
	require.True(t, ok)

	clock = now.Add(-time.Hour)
	_, ok = trail.LogUpdate(ctx, audit.EntityProject, "p1", "Apollo", []audit.Change{
		{Field: "status", OldValue: "draft", NewValue: "active"},
	})
	require.True(t, ok)

	clock = now
	_, ok = trail.LogDelete(ctx, audit.EntityProject, "p1", "Apollo")
	require.True(t, ok)

	require.NoError(t, trail.Close())
	require.NoError(t, store.Close())
	return root
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func fileArgs(root string, args ...string) []string {
	return append([]string{"--storage", kvstore.TypeFile, "--file-root", root}, args...)
}

func TestRecent(t *testing.T) {
	root := seedStore(t)

	out, err := runCmd(t, fileArgs(root, "recent", "--limit", "2", "-o", "json")...)
	require.NoError(t, err)

	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionDelete, entries[0].Action)
	assert.Equal(t, audit.ActionUpdate, entries[1].Action)
	assert.Equal(t, "u-ops", entries[0].UserID)
}

func TestRecent_Table(t *testing.T) {
	root := seedStore(t)

	out, err := runCmd(t, fileArgs(root, "recent")...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "TIMESTAMP"))
	assert.Contains(t, lines[1], "delete")
	assert.Contains(t, lines[2], "status")
	assert.Contains(t, lines[1], "u-ops (admin)")
}

func TestEntity(t *testing.T) {
	root := seedStore(t)

	out, err := runCmd(t, fileArgs(root, "entity", "project", "p1", "-o", "json")...)
	require.NoError(t, err)

	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.True(t, e.Matches(audit.EntityProject, "p1"))
	}

	_, err = runCmd(t, fileArgs(root, "entity", "widget", "p1")...)
	assert.ErrorContains(t, err, "unknown entity type")

	_, err = runCmd(t, fileArgs(root, "entity", "project")...)
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	root := seedStore(t)

	t.Run("stdout ndjson", func(t *testing.T) {
		out, err := runCmd(t, fileArgs(root, "export", "--format", "ndjson")...)
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 4)
	})

	t.Run("csv file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.csv")
		_, err := runCmd(t, fileArgs(root, "export", "--format", "csv", "--out", path)...)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "ID,Timestamp,"))
		assert.Contains(t, string(data), "Supplier delay")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := runCmd(t, fileArgs(root, "export", "--format", "xml")...)
		assert.ErrorContains(t, err, "unsupported export format")
	})
}

func TestPrune(t *testing.T) {
	root := seedStore(t)

	out, err := runCmd(t, fileArgs(root, "prune", "--days", "30")...)
	require.NoError(t, err)
	assert.Equal(t, "removed 2 entries, 2 remaining\n", out)

	// The pruned log was persisted.
	out, err = runCmd(t, fileArgs(root, "recent", "-o", "json")...)
	require.NoError(t, err)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 2)
}

func TestPrune_Archive(t *testing.T) {
	root := seedStore(t)
	archiveDir := t.TempDir()

	out, err := runCmd(t, fileArgs(root, "prune", "--days", "36", "--archive", archiveDir, "--gzip=false")...)
	require.NoError(t, err)
	assert.Equal(t, "removed 1 entries, 3 remaining\n", out)

	files, err := os.ReadDir(archiveDir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	archived, err := audit.ReadJournalFile(filepath.Join(archiveDir, files[0].Name()), 0)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "Apollo", archived[0].EntityName)
	assert.Equal(t, audit.ActionCreate, archived[0].Action)
}

func TestStatus(t *testing.T) {
	root := seedStore(t)

	out, err := runCmd(t, fileArgs(root, "status", "-o", "json")...)
	require.NoError(t, err)

	var status audit.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, audit.StateLoaded, status.State)
	assert.Equal(t, 4, status.InMemory)
	assert.Equal(t, audit.DefaultStorageKey, status.StorageKey)

	out, err = runCmd(t, fileArgs(root, "status")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Backend:")
	assert.Contains(t, out, "loaded")
}

func TestGlobalFlagValidation(t *testing.T) {
	root := seedStore(t)

	_, err := runCmd(t, fileArgs(root, "recent", "-o", "yaml")...)
	assert.ErrorContains(t, err, "invalid output format")

	_, err = runCmd(t, fileArgs(root, "recent", "--log-level", "chatty")...)
	assert.ErrorContains(t, err, "invalid log level")

	_, err = runCmd(t, "--storage", "floppy", "recent")
	assert.ErrorContains(t, err, "invalid storage type")
}

// syncBuffer is written by the follower goroutine and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func testEntry(id, entityID string) audit.Entry {
	return audit.Entry{
		ID:         id,
		Timestamp:  time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC),
		UserID:     "u-1",
		UserRole:   "editor",
		Action:     audit.ActionCreate,
		EntityType: audit.EntityActivity,
		EntityID:   entityID,
		EntityName: "Kickoff",
		Changes:    []audit.Change{},
	}
}

func TestFollower_Drain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, audit.JournalFileName)

	first, err := json.Marshal(testEntry("e1", "a1"))
	require.NoError(t, err)
	second, err := json.Marshal(testEntry("e2", "a2"))
	require.NoError(t, err)

	// One complete line, one malformed line and half of another.
	content := string(first) + "\n" + "{not json}\n" + string(second[:10])
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var out bytes.Buffer
	f := &follower{path: path, out: &out, json: true, log: quietEntry()}
	require.NoError(t, f.open(false))
	defer f.closeFile()

	require.NoError(t, f.drain())
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), `"entityId":"a1"`)

	// Finishing the partial line releases it.
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.Write(append(second[10:], '\n'))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, f.drain())
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), `"entityId":"a2"`)
}

func TestFollower_Backlog(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewJournalSink(audit.JournalConfig{BasePath: dir})
	require.NoError(t, err)
	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, sink.Write(context.Background(), testEntry("e"+string(rune('1'+i)), id)))
	}
	require.NoError(t, sink.Close())

	var out bytes.Buffer
	f := &follower{path: sink.Path(), out: &out, log: quietEntry()}
	require.NoError(t, f.printBacklog(2))

	assert.NotContains(t, out.String(), "activity/a1")
	assert.Contains(t, out.String(), "activity/a2")
	assert.Contains(t, out.String(), "activity/a3")

	missing := &follower{path: filepath.Join(t.TempDir(), audit.JournalFileName), out: &out, log: quietEntry()}
	assert.NoError(t, missing.printBacklog(5))
}

func TestFollower_Run(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewJournalSink(audit.JournalConfig{BasePath: dir})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Write(context.Background(), testEntry("e0", "old")))

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	f := &follower{path: sink.Path(), out: out, json: true, log: quietEntry()}

	done := make(chan error, 1)
	go func() { done <- f.run(ctx, 0) }()

	// The follower starts at the end of the file, so only new entries appear.
	require.Eventually(t, func() bool {
		if err := sink.Write(context.Background(), testEntry("e1", "new")); err != nil {
			return false
		}
		return strings.Contains(out.String(), `"entityId":"new"`)
	}, 5*time.Second, 50*time.Millisecond)
	assert.NotContains(t, out.String(), `"entityId":"old"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not stop")
	}
}
