// Package audit records the immutable activity trail of reporting entities.
package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/httpjson"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EntityReport   = "report"
	EntitySchedule = "schedule"
	EntityTemplate = "template"
	EntityExport   = "export"
)

const (
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionCancel    = "cancel"
	ActionDelete    = "delete"
	ActionDuplicate = "duplicate"
	ActionRun       = "run"
)

// Recorder appends audit entries. Appends never fail the caller's operation.
type Recorder struct {
	store  storage.AuditStorage
	logger zerolog.Logger
}

func NewRecorder(store storage.AuditStorage, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.With().Str("component", "audit").Logger()}
}

// Record appends one entry. A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, actorID, action, entityType, entityID string, details any) {
	if r == nil {
		return
	}
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			r.logger.Warn().Err(err).Str("entity_type", entityType).Msg("audit details not encodable")
		} else {
			raw = b
		}
	}

	err := r.store.AppendAudit(ctx, &storage.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    raw,
	})
	if err != nil {
		r.logger.Warn().Err(err).
			Str("action", action).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Msg("audit append failed")
	}
}

type EntryDTO struct {
	ID         uuid.UUID       `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type ListResponse struct {
	Entries []EntryDTO `json:"entries"`
}

type Handler struct {
	store storage.AuditStorage
}

func NewHandler(store storage.AuditStorage) *Handler {
	return &Handler{store: store}
}

// HandleList handles GET /v1/audit. Agents only see their own actions.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	page, err := httpjson.Pagination(r, 50, 500)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	q := r.URL.Query()
	filter := storage.AuditFilter{
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		ActorID:    q.Get("actorId"),
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	if !id.IsAdmin() {
		filter.ActorID = id.UserID
	}

	entries, err := h.store.ListAudit(r.Context(), filter)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = EntryDTO(e)
	}
	httpjson.Write(w, http.StatusOK, ListResponse{Entries: out})
}
