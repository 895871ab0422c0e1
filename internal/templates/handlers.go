package templates

import (
	"net/http"
	"strings"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/httpjson"
	"github.com/carelink/agent-portal/internal/storage"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleCreate handles POST /v1/templates
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req CreateTemplateRequest
	if err := httpjson.Decode(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	dto, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, dto)
}

// HandleList handles GET /v1/templates
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	q := r.URL.Query()
	filter := storage.TemplateFilter{
		ReportType:      strings.TrimSpace(q.Get("reportType")),
		Category:        strings.TrimSpace(q.Get("category")),
		Tag:             strings.TrimSpace(q.Get("tag")),
		Search:          strings.TrimSpace(q.Get("search")),
		IncludeInactive: q.Get("include_inactive") == "true",
	}
	items, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, ListResponse{Templates: items})
}

// HandleGet handles GET /v1/templates/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
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

// HandleUpdate handles PATCH /v1/templates/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
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
	var req UpdateTemplateRequest
	if err := httpjson.Decode(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	dto, err := h.service.Update(r.Context(), actor, id, req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, dto)
}

// HandleDuplicate handles POST /v1/templates/{id}/duplicate. The body is optional.
func (h *Handler) HandleDuplicate(w http.ResponseWriter, r *http.Request) {
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
	var req DuplicateTemplateRequest
	if r.ContentLength > 0 {
		if err := httpjson.Decode(r, &req); err != nil {
			apperr.Write(w, err)
			return
		}
	}
	dto, err := h.service.Duplicate(r.Context(), actor, id, req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, dto)
}

// HandleDelete handles DELETE /v1/templates/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
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
	dto, err := h.service.Delete(r.Context(), actor, id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, dto)
}

// HandlePreview handles GET /v1/templates/{id}/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
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
	resp, err := h.service.Preview(r.Context(), actor, id)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, resp)
}

// HandleValidate handles POST /v1/templates/validate. An invalid structure is
// still a 200 response; the verdict is in the body.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := httpjson.Decode(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	reportType := strings.TrimSpace(req.ReportType)
	if reportType == "" {
		reportType = ReportTypeDefault
	}
	httpjson.Write(w, http.StatusOK, Validate(req.Structure, reportType))
}

// HandleSectionTypes handles GET /v1/templates/section-types
func (h *Handler) HandleSectionTypes(w http.ResponseWriter, r *http.Request) {
	reportType := strings.TrimSpace(r.URL.Query().Get("reportType"))
	if reportType == "" {
		reportType = ReportTypeDefault
	}
	httpjson.Write(w, http.StatusOK, SectionTypesResponse{
		ReportType:   reportType,
		SectionTypes: AllowedSectionTypes(reportType),
	})
}
