package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Snapshot is a flat field-name to value view of an entity at one instant
type Snapshot map[string]interface{}

// ComputeChanges returns one Change per field whose value differs between
// before and after. A field present on only one side always counts as a
// change, even when the present value is nil. Values are compared by their
// canonical JSON encoding, so nested maps compare independently of key order
// and slices compare element by element.
//
// Results are sorted by field name; callers should not depend on the order.
func ComputeChanges(before, after Snapshot) []Change {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	fields := make([]string, 0, len(keys))
	for k := range keys {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	changes := make([]Change, 0)
	for _, field := range fields {
		oldValue, hadOld := before[field]
		newValue, hasNew := after[field]

		if hadOld == hasNew && valuesEqual(oldValue, newValue) {
			continue
		}
		changes = append(changes, Change{
			Field:    field,
			OldValue: oldValue,
			NewValue: newValue,
		})
	}
	return changes
}

// valuesEqual compares canonical JSON encodings. Values encoding/json rejects
// are equal when reflect.DeepEqual says so or when they have the same type
// and the same Go-syntax rendering, which makes NaN equal to itself.
func valuesEqual(a, b interface{}) (equal bool) {
	defer func() {
		if r := recover(); r != nil {
			equal = false
		}
	}()

	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		if reflect.DeepEqual(a, b) {
			return true
		}
		return reflect.TypeOf(a) == reflect.TypeOf(b) && fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
	}
	return bytes.Equal(aJSON, bJSON)
}

// SnapshotOf flattens v through its JSON form. v must encode to a JSON
// object (a struct, a map, or a pointer to either).
func SnapshotOf(v interface{}) (Snapshot, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("snapshot must be a JSON object: %w", err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot must be a JSON object, got null")
	}
	return snapshot, nil
}
