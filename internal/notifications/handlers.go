package notifications

import (
	"net/http"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/httpjson"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleList handles GET /v1/notifications
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	page, err := httpjson.Pagination(r, 20, 100)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	onlyUnread := r.URL.Query().Get("only_unread") == "true"
	items, err := h.service.List(r.Context(), id.UserID, onlyUnread, page.Limit, page.Offset)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, ListResponse{Notifications: items})
}

// HandleUnreadCount handles GET /v1/notifications/unread-count
func (h *Handler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	count, err := h.service.UnreadCount(r.Context(), id.UserID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, UnreadCountResponse{Unread: count})
}

// HandleMarkRead handles POST /v1/notifications/mark-read
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req MarkReadRequest
	if err := httpjson.Decode(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	n, err := h.service.MarkRead(r.Context(), id.UserID, req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, MarkReadResponse{Updated: n})
}
