package export

import (
	"time"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

const (
	EntityAppointments = "appointments"
	EntityPayments     = "payments"
	EntityDoctors      = "doctors"
	EntityHospitals    = "hospitals"
)

var EntityTypes = []string{EntityAppointments, EntityPayments, EntityDoctors, EntityHospitals}

// filterKeys lists the filters each entity type accepts.
var filterKeys = map[string][]string{
	EntityAppointments: {"dateFrom", "dateTo", "status", "agentId", "doctorId", "hospitalId"},
	EntityPayments:     {"dateFrom", "dateTo", "status", "agentId", "doctorId", "hospitalId"},
	EntityDoctors:      {"doctorId", "hospitalId"},
	EntityHospitals:    {"hospitalId"},
}

// ExportRequest asks for one entity type serialized in one format.
// IncludeHeaders defaults to true.
type ExportRequest struct {
	EntityType      string            `json:"entityType"`
	Format          string            `json:"format"`
	Filters         map[string]string `json:"filters"`
	Columns         []string          `json:"columns"`
	IncludeHeaders  *bool             `json:"includeHeaders"`
	EmailRecipients []string          `json:"emailRecipients"`
	FileName        string            `json:"fileName"`
}

type JobDTO struct {
	ID              uuid.UUID            `json:"jobId"`
	EntityType      string               `json:"entityType"`
	Format          string               `json:"format"`
	FileName        string               `json:"fileName"`
	Status          storage.ExportStatus `json:"status"`
	TotalRecords    int                  `json:"totalRecords"`
	Filters         map[string]string    `json:"filters,omitempty"`
	Columns         []string             `json:"columns,omitempty"`
	IncludeHeaders  bool                 `json:"includeHeaders"`
	EmailRecipients []string             `json:"emailRecipients,omitempty"`
	FileSize        int64                `json:"fileSize"`
	ContentType     string               `json:"contentType,omitempty"`
	ErrorMessage    *string              `json:"errorMessage,omitempty"`
	DownloadURL     string               `json:"downloadUrl,omitempty"`
	RequestedBy     string               `json:"requestedBy"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
	CompletedAt     *time.Time           `json:"completedAt,omitempty"`
}

type ListJobsResponse struct {
	Jobs   []JobDTO `json:"jobs"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Result is a finished export: the job record and the file it produced.
type Result struct {
	Job    JobDTO
	Output *Output
}

func toJobDTO(j *storage.ExportJob) JobDTO {
	dto := JobDTO{
		ID:              j.ID,
		EntityType:      j.EntityType,
		Format:          j.Format,
		FileName:        j.FileName,
		Status:          j.Status,
		TotalRecords:    j.TotalRecords,
		Filters:         j.Filters,
		Columns:         j.Columns,
		IncludeHeaders:  j.IncludeHeaders,
		EmailRecipients: j.EmailRecipients,
		FileSize:        j.FileSize,
		ContentType:     j.ContentType,
		ErrorMessage:    j.ErrorMessage,
		RequestedBy:     j.RequestedBy,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		CompletedAt:     j.CompletedAt,
	}
	if j.Status == storage.ExportCompleted {
		dto.DownloadURL = "/v1/exports/" + j.ID.String() + "/download"
	}
	return dto
}
