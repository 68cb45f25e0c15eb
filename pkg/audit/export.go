package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportLogs serializes the complete in-memory log, in insertion order, as
// indented JSON.
func (t *Trail) ExportLogs() string {
	data, err := exportJSON(t.Entries())
	if err != nil {
		t.logger.WithError(err).Error("failed to export audit log")
		return "[]"
	}
	return string(data)
}

// Export serializes the complete in-memory log in the given format
func (t *Trail) Export(format ExportFormat) ([]byte, error) {
	entries := t.Entries()

	switch format {
	case ExportFormatJSON, "":
		return exportJSON(entries)
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %q", format)
	}
}

// exportJSON exports entries as an indented JSON array
func exportJSON(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports entries as newline-delimited JSON
func exportNDJSON(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports entries as CSV; changes and metadata are JSON-encoded cells
func exportCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"UserID",
		"UserRole",
		"Action",
		"EntityType",
		"EntityID",
		"EntityName",
		"ChangeCount",
		"Changes",
		"Metadata",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		changes, err := json.Marshal(entry.Changes)
		if err != nil {
			return nil, fmt.Errorf("failed to encode changes of %s: %w", entry.ID, err)
		}
		metadata := ""
		if len(entry.Metadata) > 0 {
			raw, err := json.Marshal(entry.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to encode metadata of %s: %w", entry.ID, err)
			}
			metadata = string(raw)
		}

		row := []string{
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339Nano),
			entry.UserID,
			entry.UserRole,
			string(entry.Action),
			string(entry.EntityType),
			entry.EntityID,
			entry.EntityName,
			strconv.Itoa(len(entry.Changes)),
			string(changes),
			metadata,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
