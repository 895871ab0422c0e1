package reports

import (
	"encoding/json"
	"time"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

// CreateReportRequest is the request to create a report.
type CreateReportRequest struct {
	Title         string             `json:"title"`
	Type          storage.ReportType `json:"type"`
	Description   string             `json:"description"`
	Parameters    json.RawMessage    `json:"parameters"`
	TemplateID    *uuid.UUID         `json:"templateId"`
	GeneratedByID string             `json:"generatedById"`
}

type CreateReportResponse struct {
	ID                         uuid.UUID            `json:"id"`
	Status                     storage.ReportStatus `json:"status"`
	EstimatedGenerationSeconds int                  `json:"estimatedGenerationSeconds"`
}

// ReportDTO is the response representation of a report, including the
// computed view fields.
type ReportDTO struct {
	ID           uuid.UUID            `json:"id"`
	Title        string               `json:"title"`
	Type         storage.ReportType   `json:"type"`
	Description  string               `json:"description,omitempty"`
	Parameters   json.RawMessage      `json:"parameters"`
	Status       storage.ReportStatus `json:"status"`
	GeneratedBy  string               `json:"generatedBy"`
	TemplateID   *uuid.UUID           `json:"templateId,omitempty"`
	ScheduledAt  *time.Time           `json:"scheduledAt"`
	StartedAt    *time.Time           `json:"startedAt,omitempty"`
	CompletedAt  *time.Time           `json:"completedAt"`
	FileName     string               `json:"fileName,omitempty"`
	ContentType  string               `json:"contentType,omitempty"`
	FileSize     int64                `json:"fileSize"`
	RecordCount  int                  `json:"recordCount"`
	ErrorKind    string               `json:"errorKind,omitempty"`
	ErrorMessage *string              `json:"errorMessage,omitempty"`
	DownloadURL  string               `json:"downloadUrl,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`

	GenerationSeconds *float64 `json:"generationDurationSeconds"`
	IsOverdue         bool     `json:"isOverdue"`
	AgeDays           int      `json:"ageDays"`
	Age               string   `json:"age"`
}

// ReportsResponse is the list response
type ReportsResponse struct {
	Reports []ReportDTO `json:"reports"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}
