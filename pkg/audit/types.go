package audit

import (
	"time"
)

// Action is the kind of operation an entry records
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionImport Action = "import"
	ActionExport Action = "export"
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

// Actions lists every accepted action
func Actions() []Action {
	return []Action{ActionCreate, ActionUpdate, ActionDelete, ActionImport, ActionExport, ActionLogin, ActionLogout}
}

// Valid reports whether a is one of the accepted actions
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionImport, ActionExport, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// EntityType is the kind of record an entry refers to
type EntityType string

const (
	EntityProject     EntityType = "project"
	EntityActivity    EntityType = "activity"
	EntityInitiative  EntityType = "initiative"
	EntityObjective   EntityType = "objective"
	EntityOrientation EntityType = "orientation"
	EntityChantier    EntityType = "chantier"
	EntityProcess     EntityType = "process"
	EntityResource    EntityType = "resource"
	EntityRisk        EntityType = "risk"
	EntityUser        EntityType = "user"
	EntitySystem      EntityType = "system"
)

// EntityTypes lists every accepted entity type
func EntityTypes() []EntityType {
	return []EntityType{
		EntityProject, EntityActivity, EntityInitiative, EntityObjective, EntityOrientation,
		EntityChantier, EntityProcess, EntityResource, EntityRisk, EntityUser, EntitySystem,
	}
}

// Valid reports whether t is one of the accepted entity types
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Change is one field's transition. A field missing on one side is
// recorded as nil. Recorded values hold their JSON form: numbers are float64,
// or json.Number for integers a float64 would round.
type Change struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"oldValue"`
	NewValue interface{} `json:"newValue"`
}

// Entry is a single immutable audit log record
type Entry struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	UserID     string                 `json:"userId"`
	UserRole   string                 `json:"userRole"`
	Action     Action                 `json:"action"`
	EntityType EntityType             `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	EntityName string                 `json:"entityName"`
	Changes    []Change               `json:"changes"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the entry
func (e Entry) Clone() Entry {
	out := e
	out.Changes = make([]Change, len(e.Changes))
	for i, c := range e.Changes {
		out.Changes[i] = Change{
			Field:    c.Field,
			OldValue: deepCopy(c.OldValue),
			NewValue: deepCopy(c.NewValue),
		}
	}
	if e.Metadata != nil {
		out.Metadata = deepCopy(e.Metadata).(map[string]interface{})
	}
	return out
}

// Matches reports whether the entry refers to the given entity
func (e Entry) Matches(entityType EntityType, entityID string) bool {
	return e.EntityType == entityType && e.EntityID == entityID
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// RetentionPolicy defines how long audit entries are kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep entries
	RetentionDays int

	// ArchiveEnabled writes pruned entries to ArchivePath before dropping them
	ArchiveEnabled bool

	// ArchivePath is the directory receiving archive files
	ArchivePath string

	// CompressArchive gzips archive files
	CompressArchive bool
}

// DefaultRetentionPolicy keeps 30 days and does not archive
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays: DefaultRetentionDays,
	}
}

// Status describes the trail's persistence health
type Status struct {
	State            State     `json:"state"`
	InMemory         int       `json:"inMemory"`
	Persisted        int       `json:"persisted"`
	MaxLogs          int       `json:"maxLogs"`
	StorageKey       string    `json:"storageKey"`
	LastPersistAt    time.Time `json:"lastPersistAt,omitzero"`
	LastPersistError string    `json:"lastPersistError,omitempty"`
}

// deepCopy copies the JSON-shaped values entries hold (maps, slices and scalars)
func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}
