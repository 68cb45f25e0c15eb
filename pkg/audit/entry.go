package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/isotrack/pkg/identity"
)

const (
	// DefaultMaxLogs caps the persisted projection of the log
	DefaultMaxLogs = 1000

	// DefaultStorageKey is the key-value slot holding the persisted log
	DefaultStorageKey = "audit_logs"

	// DefaultRecentLimit is the RecentEntries size used by the HTTP API and CLI
	DefaultRecentLimit = 50

	// DefaultRetentionDays is the age window kept by ClearOldLogs callers that don't choose one
	DefaultRetentionDays = 30

	// maxExactInteger is the largest integer magnitude a float64 holds exactly
	maxExactInteger = 1 << 53

	// maxNormalizeDepth bounds the per-element fallback for unencodable values
	maxNormalizeDepth = 32
)

var (
	// ErrInvalidAction is returned by NewEntry for actions outside the closed set
	ErrInvalidAction = errors.New("invalid audit action")

	// ErrInvalidEntityType is returned by NewEntry for unknown entity types
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrNoChanges is returned by NewEntry for an update with an empty diff.
	// Saves that change nothing are not recorded.
	ErrNoChanges = errors.New("update has no changes")

	// ErrUnexpectedChanges is returned by NewEntry when an action other than
	// update carries field changes
	ErrUnexpectedChanges = errors.New("only update entries carry changes")
)

// NewEntry builds a well-formed entry stamped at now. Change values and
// metadata are copied into their JSON form so later mutation of the caller's
// data cannot alter the entry, and so the entry always persists.
func NewEntry(now time.Time, actor identity.Actor, action Action, entityType EntityType, entityID, entityName string, changes []Change, metadata map[string]interface{}) (Entry, error) {
	if !action.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if !entityType.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidEntityType, entityType)
	}
	if action == ActionUpdate && len(changes) == 0 {
		return Entry{}, ErrNoChanges
	}
	if action != ActionUpdate && len(changes) > 0 {
		return Entry{}, fmt.Errorf("%w: %s has %d changes", ErrUnexpectedChanges, action, len(changes))
	}

	actor = actor.Normalize()

	entry := Entry{
		ID:         newEntryID(),
		Timestamp:  now.UTC().Truncate(time.Millisecond),
		UserID:     actor.UserID,
		UserRole:   actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		EntityName: entityName,
		Changes:    make([]Change, 0, len(changes)),
	}

	for _, c := range changes {
		entry.Changes = append(entry.Changes, Change{
			Field:    c.Field,
			OldValue: normalizeValue(c.OldValue),
			NewValue: normalizeValue(c.NewValue),
		})
	}

	if metadata != nil {
		if m, ok := normalizeValue(metadata).(map[string]interface{}); ok {
			entry.Metadata = m
		}
	}

	return entry, nil
}

// newEntryID returns a time-ordered UUIDv7
func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// normalizeValue converts v to the value encoding/json would decode from its
// encoding. Numbers become float64, except integers a float64 cannot hold
// exactly, which stay json.Number. When v cannot be encoded as a whole, its
// map values and slice elements are normalized one by one and only the
// offending leaves are kept as their %v rendering.
func normalizeValue(v interface{}) interface{} {
	return normalizeDepth(v, 0)
}

func normalizeDepth(v interface{}, depth int) interface{} {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return normalizeParts(v, depth)
	}

	out, err := decodeValue(data)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return out
}

func normalizeParts(v interface{}, depth int) interface{} {
	if depth >= maxNormalizeDepth {
		return fmt.Sprintf("%T", v)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeDepth(iter.Value().Interface(), depth+1)
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = normalizeDepth(rv.Index(i).Interface(), depth+1)
		}
		return out
	}
	return fmt.Sprintf("%v", v)
}

// decodeValue decodes one JSON value with the number handling of normalizeValue
func decodeValue(data []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var out interface{}
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return restoreNumbers(out), nil
}

// restoreNumbers replaces the json.Number values of a value decoded with
// UseNumber, in place.
func restoreNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		return numberValue(val)
	case map[string]interface{}:
		for k, item := range val {
			val[k] = restoreNumbers(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = restoreNumbers(item)
		}
		return val
	default:
		return val
	}
}

// numberValue returns n as a float64 unless n is an integer that float64
// would round
func numberValue(n json.Number) interface{} {
	if !strings.ContainsAny(n.String(), ".eE") {
		i, err := n.Int64()
		if err != nil || i > maxExactInteger || i < -maxExactInteger {
			return n
		}
	}
	f, err := n.Float64()
	if err != nil {
		return n
	}
	return f
}

// restoreNumbers applies numberValue to an entry decoded with UseNumber
func (e *Entry) restoreNumbers() {
	for i := range e.Changes {
		e.Changes[i].OldValue = restoreNumbers(e.Changes[i].OldValue)
		e.Changes[i].NewValue = restoreNumbers(e.Changes[i].NewValue)
	}
	if e.Metadata != nil {
		restoreNumbers(e.Metadata)
	}
}
