package audit

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/isotrack/pkg/httputil"
)

// Handlers provides HTTP handlers for the audit trail API
type Handlers struct {
	trail *Trail
}

// NewHandlers creates new audit handlers
func NewHandlers(trail *Trail) *Handlers {
	return &Handlers{
		trail: trail,
	}
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/entries", h.createEntry).Methods("POST")
	router.HandleFunc("/audit/entries", h.listEntries).Methods("GET")
	router.HandleFunc("/audit/entities/{type}/{id}", h.entityEntries).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEntries).Methods("GET")
	router.HandleFunc("/audit/prune", h.prune).Methods("POST")
	router.HandleFunc("/audit/status", h.status).Methods("GET")
}

// CreateEntryRequest is the body of POST /audit/entries. For updates either
// Changes or a Before/After pair may be given, and other actions must leave
// them empty. Data is the created record.
type CreateEntryRequest struct {
	Action     Action                 `json:"action"`
	EntityType EntityType             `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	EntityName string                 `json:"entityName"`
	Changes    []Change               `json:"changes,omitempty"`
	Before     Snapshot               `json:"before,omitempty"`
	After      Snapshot               `json:"after,omitempty"`
	Data       interface{}            `json:"data,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// CreateEntryResponse reports whether an entry was recorded
type CreateEntryResponse struct {
	Recorded bool   `json:"recorded"`
	Reason   string `json:"reason,omitempty"`
	Entry    *Entry `json:"entry,omitempty"`
}

// EntriesResponse is a list of entries
type EntriesResponse struct {
	Entries []Entry `json:"entries"`
	Count   int     `json:"count"`
	Limit   int     `json:"limit,omitempty"`
}

// createEntry handles POST /audit/entries
func (h *Handlers) createEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !httputil.ValidateAll(w,
		func() (bool, string) { return req.Action.Valid(), fmt.Sprintf("invalid action: %q", req.Action) },
		func() (bool, string) {
			return req.EntityType.Valid(), fmt.Sprintf("invalid entityType: %q", req.EntityType)
		},
		func() (bool, string) { return req.EntityID != "", "entityId is required" },
		func() (bool, string) {
			hasChanges := len(req.Changes) > 0 || req.Before != nil || req.After != nil
			return req.Action == ActionUpdate || !hasChanges, "changes, before and after are only accepted for update"
		},
	) {
		return
	}

	changes := req.Changes
	metadata := req.Metadata

	switch req.Action {
	case ActionCreate:
		if req.Data != nil {
			if metadata == nil {
				metadata = make(map[string]interface{}, 1)
			}
			metadata["createdData"] = req.Data
		}
	case ActionUpdate:
		if len(changes) == 0 && (req.Before != nil || req.After != nil) {
			changes = ComputeChanges(req.Before, req.After)
		}
		if len(changes) == 0 {
			httputil.WriteSuccess(w, CreateEntryResponse{Recorded: false, Reason: "no changes"})
			return
		}
	}

	entry, ok := h.trail.LogAction(r.Context(), req.Action, req.EntityType, req.EntityID, req.EntityName, changes, metadata)
	if !ok {
		httputil.WriteServiceUnavailable(w, "audit trail is not accepting entries")
		return
	}

	httputil.WriteCreated(w, CreateEntryResponse{Recorded: true, Entry: &entry})
}

// listEntries handles GET /audit/entries
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", DefaultRecentLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries := h.trail.RecentEntries(limit)
	httputil.WriteSuccess(w, EntriesResponse{
		Entries: entries,
		Count:   len(entries),
		Limit:   limit,
	})
}

// entityEntries handles GET /audit/entities/{type}/{id}
func (h *Handlers) entityEntries(w http.ResponseWriter, r *http.Request) {
	typeStr, ok := httputil.ParsePathStringOrError(w, r, "type")
	if !ok {
		return
	}
	entityID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	entityType := EntityType(typeStr)
	if !entityType.Valid() {
		httputil.WriteValidationError(w, fmt.Sprintf("invalid entity type: %q", typeStr))
		return
	}

	entries := h.trail.EntriesForEntity(entityType, entityID)
	httputil.WriteSuccess(w, EntriesResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

// exportEntries handles GET /audit/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatJSON)))

	data, err := h.trail.Export(format)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	w.Write(data)
}

// prune handles POST /audit/prune
func (h *Handlers) prune(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.ParseQueryInt(r, "days", DefaultRetentionDays)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	removed := h.trail.ClearOldLogs(r.Context(), days)
	httputil.WriteSuccess(w, map[string]int{
		"removed":   removed,
		"remaining": h.trail.Len(),
	})
}

// status handles GET /audit/status
func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.trail.Status())
}
