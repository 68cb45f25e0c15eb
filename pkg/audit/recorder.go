package audit

import (
	"context"
	"errors"

	"github.com/platinummonkey/isotrack/pkg/contextkeys"
	"github.com/platinummonkey/isotrack/pkg/identity"
	"github.com/platinummonkey/isotrack/pkg/observability"
)

// Recorder is the write side of the audit trail. Calls never fail from the
// caller's point of view: the bool reports whether an entry was recorded.
type Recorder interface {
	// LogAction records any action
	LogAction(ctx context.Context, action Action, entityType EntityType, entityID, entityName string, changes []Change, metadata map[string]interface{}) (Entry, bool)

	// LogCreate records a create with the new record under metadata["createdData"]
	LogCreate(ctx context.Context, entityType EntityType, entityID, entityName string, data interface{}) (Entry, bool)

	// LogUpdate records an update. Nothing is recorded when changes is empty.
	LogUpdate(ctx context.Context, entityType EntityType, entityID, entityName string, changes []Change) (Entry, bool)

	// LogUpdateSnapshots diffs before and after and records the result with LogUpdate
	LogUpdateSnapshots(ctx context.Context, entityType EntityType, entityID, entityName string, before, after Snapshot) (Entry, bool)

	// LogDelete records a delete
	LogDelete(ctx context.Context, entityType EntityType, entityID, entityName string) (Entry, bool)
}

var _ Recorder = (*Trail)(nil)

// WithRecorder adds a recorder to the context
func WithRecorder(ctx context.Context, r Recorder) context.Context {
	return contextkeys.WithRecorder(ctx, r)
}

// FromContext retrieves the recorder from context
func FromContext(ctx context.Context) Recorder {
	if r, ok := ctx.Value(contextkeys.RecorderKey).(Recorder); ok {
		return r
	}
	// Return a no-op recorder if none is set
	return noOpRecorder{}
}

// noOpRecorder records nothing (used when no recorder is configured)
type noOpRecorder struct{}

func (noOpRecorder) LogAction(context.Context, Action, EntityType, string, string, []Change, map[string]interface{}) (Entry, bool) {
	return Entry{}, false
}

func (noOpRecorder) LogCreate(context.Context, EntityType, string, string, interface{}) (Entry, bool) {
	return Entry{}, false
}

func (noOpRecorder) LogUpdate(context.Context, EntityType, string, string, []Change) (Entry, bool) {
	return Entry{}, false
}

func (noOpRecorder) LogUpdateSnapshots(context.Context, EntityType, string, string, Snapshot, Snapshot) (Entry, bool) {
	return Entry{}, false
}

func (noOpRecorder) LogDelete(context.Context, EntityType, string, string) (Entry, bool) {
	return Entry{}, false
}

// LogAction implements Recorder
func (t *Trail) LogAction(ctx context.Context, action Action, entityType EntityType, entityID, entityName string, changes []Change, metadata map[string]interface{}) (Entry, bool) {
	return t.record(ctx, action, entityType, entityID, entityName, changes, metadata)
}

// LogCreate implements Recorder
func (t *Trail) LogCreate(ctx context.Context, entityType EntityType, entityID, entityName string, data interface{}) (Entry, bool) {
	metadata := map[string]interface{}{"createdData": data}
	return t.record(ctx, ActionCreate, entityType, entityID, entityName, nil, metadata)
}

// LogUpdate implements Recorder. An empty change list is a save that changed
// nothing; it is deliberately not recorded to keep the log free of noise.
func (t *Trail) LogUpdate(ctx context.Context, entityType EntityType, entityID, entityName string, changes []Change) (Entry, bool) {
	if len(changes) == 0 {
		t.metrics.recordSuppressed()
		return Entry{}, false
	}
	return t.record(ctx, ActionUpdate, entityType, entityID, entityName, changes, nil)
}

// LogUpdateSnapshots implements Recorder
func (t *Trail) LogUpdateSnapshots(ctx context.Context, entityType EntityType, entityID, entityName string, before, after Snapshot) (Entry, bool) {
	return t.LogUpdate(ctx, entityType, entityID, entityName, ComputeChanges(before, after))
}

// LogDelete implements Recorder
func (t *Trail) LogDelete(ctx context.Context, entityType EntityType, entityID, entityName string) (Entry, bool) {
	return t.record(ctx, ActionDelete, entityType, entityID, entityName, nil, nil)
}

// record is the single entry point of the write path. It never panics.
func (t *Trail) record(ctx context.Context, action Action, entityType EntityType, entityID, entityName string, changes []Change, metadata map[string]interface{}) (Entry, bool) {
	defer observability.RecoverPanic(t.logger, "audit record")

	actor := identity.Resolve(ctx, t.identity)

	entry, err := t.append(ctx, actor, action, entityType, entityID, entityName, changes, metadata)
	switch {
	case err == nil:
		t.metrics.recordEntry(entry)
		return entry, true
	case errors.Is(err, ErrNoChanges):
		t.metrics.recordSuppressed()
	case errors.Is(err, errTrailClosed):
		t.logger.WithField("action", string(action)).WithField("entity_id", entityID).Warn("audit trail closed, entry dropped")
	default:
		t.metrics.recordRejected()
		t.logger.WithError(err).WithField("action", string(action)).WithField("entity_type", string(entityType)).Warn("audit entry rejected")
	}
	return Entry{}, false
}
