package audit

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/isotrack/pkg/observability"
)

// ClearOldLogs removes every entry older than daysToKeep days from memory and
// from the persisted projection, keeping the relative order of the rest. It
// returns the number of entries removed. Negative values are treated as 0.
func (t *Trail) ClearOldLogs(ctx context.Context, daysToKeep int) int {
	defer observability.RecoverPanic(t.logger, "audit prune")

	removed, err := t.prune(ctx, daysToKeep)
	if err != nil {
		t.logger.WithError(err).Warn("audit prune skipped")
		return 0
	}
	return len(removed)
}

// Cleanup applies policy. With archiving enabled the pruned entries are
// written to an NDJSON file in policy.ArchivePath first; the entries are
// removed even if archiving fails, and the archive error is returned.
func (t *Trail) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	removed, err := t.prune(ctx, policy.RetentionDays)
	if err != nil {
		return 0, err
	}

	if policy.ArchiveEnabled && len(removed) > 0 {
		path, err := archiveEntries(removed, policy.ArchivePath, policy.CompressArchive, t.now())
		if err != nil {
			return int64(len(removed)), fmt.Errorf("failed to archive pruned entries: %w", err)
		}
		t.logger.WithField("archive", path).WithField("entries", len(removed)).Info("archived pruned audit entries")
	}

	return int64(len(removed)), nil
}

// prune removes entries strictly older than now minus daysToKeep days and returns them
func (t *Trail) prune(ctx context.Context, daysToKeep int) ([]Entry, error) {
	if daysToKeep < 0 {
		daysToKeep = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errTrailClosed
	}

	cutoff := t.now().AddDate(0, 0, -daysToKeep)

	kept := make([]Entry, 0, len(t.entries))
	var removed []Entry
	for _, e := range t.entries {
		if e.Timestamp.Before(cutoff) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}

	t.entries = kept
	t.invalidateCache()
	t.persistLocked(ctx)
	t.metrics.recordPruned(len(removed))

	t.logger.WithField("days_to_keep", daysToKeep).
		WithField("removed", len(removed)).
		WithField("remaining", len(kept)).
		Info("pruned audit log")

	return removed, nil
}

// archiveEntries writes entries as NDJSON into dir and returns the file path
func archiveEntries(entries []Entry, dir string, compress bool, now time.Time) (path string, err error) {
	if dir == "" {
		return "", fmt.Errorf("archive path is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("audit-archive-%s.ndjson", now.UTC().Format("20060102T150405.000000000"))
	if compress {
		name += ".gz"
	}
	path = filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	data, err := exportNDJSON(entries)
	if err != nil {
		return "", err
	}

	if compress {
		gz := gzip.NewWriter(file)
		if _, err := gz.Write(data); err != nil {
			return "", fmt.Errorf("failed to write archive: %w", err)
		}
		if err := gz.Close(); err != nil {
			return "", fmt.Errorf("failed to finish archive: %w", err)
		}
		return path, nil
	}

	if _, err := file.Write(data); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return path, nil
}

// RetentionScheduler runs Cleanup on a cron schedule
type RetentionScheduler struct {
	trail    *Trail
	policy   RetentionPolicy
	schedule string
	logger   *observability.Logger
	cron     *cron.Cron
}

// NewRetentionScheduler validates schedule (standard five-field cron syntax
// or descriptors such as "@daily") and returns a stopped scheduler.
func NewRetentionScheduler(trail *Trail, schedule string, policy RetentionPolicy, logger *observability.Logger) (*RetentionScheduler, error) {
	if trail == nil {
		return nil, fmt.Errorf("trail is required")
	}
	if logger == nil {
		logger = trail.logger
	}

	s := &RetentionScheduler{
		trail:    trail,
		policy:   policy,
		schedule: schedule,
		logger:   logger.WithField("component", "retention_scheduler"),
		cron:     cron.New(),
	}

	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background
func (s *RetentionScheduler) Start() {
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).
		WithField("retention_days", s.policy.RetentionDays).
		Info("retention scheduler started")
}

// Stop stops the schedule and waits for a running cleanup, or for ctx to end
func (s *RetentionScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RetentionScheduler) runOnce() {
	defer observability.RecoverPanic(s.logger, "retention cleanup")

	removed, err := s.trail.Cleanup(context.Background(), s.policy)
	if err != nil {
		s.logger.WithError(err).Error("scheduled audit cleanup failed")
		return
	}
	s.logger.WithField("removed", removed).Info("scheduled audit cleanup completed")
}
