// Package audit records who changed what, and when, for the planning
// entities of the application (projects, activities, objectives, risks and
// so on), and keeps a bounded copy of that history in durable storage.
//
// # Overview
//
// A Trail holds every entry recorded during the session in memory and
// persists the newest MaxLogs of them as a single JSON array under one key
// of a kvstore.Store. Entries are immutable once appended.
//
// # Recording
//
//	trail, err := audit.Open(ctx, store, audit.WithMaxLogs(1000))
//
//	trail.LogCreate(ctx, audit.EntityProject, p.ID, p.Name, p)
//	trail.LogUpdateSnapshots(ctx, audit.EntityProject, p.ID, p.Name, before, after)
//	trail.LogDelete(ctx, audit.EntityProject, p.ID, p.Name)
//
// An update whose diff is empty records nothing. None of the Log methods
// return an error; the bool result reports whether an entry was appended.
//
// # Diffing
//
// ComputeChanges compares two Snapshots field by field. A field present on
// only one side is a change with nil on the missing side. Values compare by
// their JSON encoding, so nested maps are order-independent.
//
// # Degradation
//
// When the store refuses the full projection the trail writes the newest
// MaxLogs/2 entries instead, and if that also fails it deletes the payload:
//
//	loaded --full write fails--> degraded_half --half write fails--> degraded_empty
//
// The in-memory log is unaffected; queries and exports always see the whole
// session. The next successful full write returns the trail to loaded.
//
// # Queries and Export
//
// EntriesForEntity and RecentEntries return copies, newest first.
// ExportLogs returns the session as indented JSON; Export also supports CSV
// and NDJSON.
//
// # Retention
//
// ClearOldLogs drops entries older than a number of days. Cleanup does the
// same under a RetentionPolicy and can archive pruned entries to gzip'd
// NDJSON files. RetentionScheduler runs Cleanup on a cron schedule.
package audit
