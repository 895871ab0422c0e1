package export

import (
	"net/http"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/httpjson"
)

// JobHeader carries the export job id on file responses.
const JobHeader = "X-Export-Job-Id"

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// HandleExport handles POST /v1/exports. JSON exports are returned inline;
// every other format is returned as a file download.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	actor, err := httpjson.Identity(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req ExportRequest
	if err := httpjson.Decode(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}

	res, err := h.service.Export(r.Context(), actor, req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	w.Header().Set(JobHeader, res.Job.ID.String())
	if res.Output.Format == FormatJSON {
		w.Header().Set("Content-Type", res.Output.ContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(res.Output.Data)
		return
	}
	httpjson.WriteAttachment(w, res.Output.FileName, res.Output.ContentType, res.Output.Data)
}

// HandleList handles GET /v1/exports
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
	resp, err := h.service.List(r.Context(), actor, page.Limit, page.Offset)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, resp)
}

// HandleGet handles GET /v1/exports/{id}
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

// HandleDownload handles GET /v1/exports/{id}/download
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
