package reports

import (
	"net/http"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/httpjson"
)

// Handlers handles HTTP requests for reports
type Handlers struct {
	service *Service
}

// NewHandlers creates new handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// HandleCreate handles POST /v1/reports
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req CreateReportRequest
	if err := httpjson.Decode(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}

	resp, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	w.Header().Set("Location", "/v1/reports/"+resp.ID.String())
	httpjson.Write(w, http.StatusAccepted, resp)
}

// HandleList handles GET /v1/reports
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

	q := r.URL.Query()
	resp, err := h.service.List(r.Context(), actor, ListQuery{
		Type:        q.Get("type"),
		Status:      q.Get("status"),
		GeneratedBy: q.Get("generatedBy"),
		Search:      q.Get("search"),
		CreatedFrom: q.Get("createdFrom"),
		CreatedTo:   q.Get("createdTo"),
		SortBy:      q.Get("sortBy"),
		SortOrder:   q.Get("sortOrder"),
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, resp)
}

// HandleGet handles GET /v1/reports/{id}
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
	dto, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, dto)
}

// HandleCancel handles POST /v1/reports/{id}/cancel
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
	dto, err := h.service.Cancel(r.Context(), actor, id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, dto)
}

// HandleDownload handles GET /v1/reports/{id}/download
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
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

	file, err := h.service.Download(r.Context(), actor, id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if file.URL != "" {
		http.Redirect(w, r, file.URL, http.StatusFound)
		return
	}
	httpjson.WriteAttachment(w, file.FileName, file.ContentType, file.Data)
}
