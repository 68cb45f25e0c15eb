package audit

import (
	"sort"
)

// Entries returns a copy of the whole in-memory log in insertion order
func (t *Trail) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneEntries(t.entries)
}

// EntriesForEntity returns the entries recorded for exactly (entityType,
// entityID), newest first. The result is empty, never nil, when nothing matches.
func (t *Trail) EntriesForEntity(entityType EntityType, entityID string) []Entry {
	key := string(entityType) + "\x00" + entityID

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.cache != nil {
		if cached, ok := t.cache.Get(key); ok {
			t.metrics.recordCache(true)
			return cloneEntries(cached)
		}
		t.metrics.recordCache(false)
	}

	matches := make([]Entry, 0)
	for _, e := range t.entries {
		if e.Matches(entityType, entityID) {
			matches = append(matches, e)
		}
	}
	sortNewestFirst(matches)

	// mutations purge under the write lock, so this cannot store a stale result
	if t.cache != nil {
		t.cache.Add(key, matches)
	}
	return cloneEntries(matches)
}

// RecentEntries returns at most limit entries, newest first. A limit of 0 or
// less returns an empty slice.
func (t *Trail) RecentEntries(limit int) []Entry {
	if limit <= 0 {
		return []Entry{}
	}

	t.mu.RLock()
	sorted := make([]Entry, len(t.entries))
	copy(sorted, t.entries)
	t.mu.RUnlock()

	sortNewestFirst(sorted)
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return cloneEntries(sorted)
}

// sortNewestFirst orders by descending timestamp; equal timestamps keep the
// most recently inserted entry first.
func sortNewestFirst(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
