package schedules

import (
	"net/http"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/httpjson"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// HandleCreate handles POST /v1/schedules
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req ScheduleReportRequest
	if err := httpjson.Decode(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}

	resp, err := h.service.ScheduleReport(r.Context(), actor, req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	w.Header().Set("Location", "/v1/schedules/"+resp.ID.String())
	httpjson.Write(w, http.StatusCreated, resp)
}

// HandleList handles GET /v1/schedules?active=true
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	page, err := httpjson.Pagination(r, 20, 100)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	activeOnly := false
	switch r.URL.Query().Get("active") {
	case "", "false", "0":
	case "true", "1":
		activeOnly = true
	default:
		apperr.Write(w, apperr.WithFields(apperr.KindValidation, "invalid filters", []apperr.FieldError{
			{Field: "active", Message: "must be true or false"},
		}))
		return
	}

	resp, err := h.service.List(r.Context(), actor, activeOnly, page.Limit, page.Offset)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, resp)
}

// HandleGet handles GET /v1/schedules/{id}
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	id, err := httpjson.PathID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	resp, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, resp)
}

// HandleUpdate handles PATCH /v1/schedules/{id}
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	id, err := httpjson.PathID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req UpdateScheduleRequest
	if err := httpjson.Decode(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	resp, err := h.service.Update(r.Context(), actor, id, req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, resp)
}

// HandleCancel handles DELETE /v1/schedules/{id}
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	id, err := httpjson.PathID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	resp, err := h.service.CancelSchedule(r.Context(), actor, id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, resp)
}

// HandleRunNow handles POST /v1/schedules/{id}/run
func (h *Handlers) HandleRunNow(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	id, err := httpjson.PathID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	resp, err := h.service.RunNow(r.Context(), actor, id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusAccepted, resp)
}
