package templates

import (
	"time"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

type CreateTemplateRequest struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	ReportType  string                       `json:"reportType"`
	Category    string                       `json:"category"`
	Layout      storage.TemplateLayout       `json:"layout"`
	Structure   storage.TemplateStructure    `json:"structure"`
	Styling     map[string]any               `json:"styling"`
	Permissions *storage.TemplatePermissions `json:"permissions"`
	Tags        []string                     `json:"tags"`
}

// UpdateTemplateRequest is a partial update; nil fields are left unchanged.
type UpdateTemplateRequest struct {
	Name        *string                      `json:"name"`
	Description *string                      `json:"description"`
	ReportType  *string                      `json:"reportType"`
	Category    *string                      `json:"category"`
	Layout      *storage.TemplateLayout      `json:"layout"`
	Structure   *storage.TemplateStructure   `json:"structure"`
	Styling     map[string]any               `json:"styling"`
	Permissions *storage.TemplatePermissions `json:"permissions"`
	Tags        []string                     `json:"tags"`
}

type DuplicateTemplateRequest struct {
	Name string `json:"name"`
}

type ValidateRequest struct {
	ReportType string                    `json:"reportType"`
	Structure  storage.TemplateStructure `json:"structure"`
}

type TemplateDTO struct {
	ID           uuid.UUID                   `json:"id"`
	Name         string                      `json:"name"`
	Description  string                      `json:"description,omitempty"`
	ReportType   string                      `json:"reportType"`
	Category     string                      `json:"category,omitempty"`
	Layout       storage.TemplateLayout      `json:"layout"`
	Structure    storage.TemplateStructure   `json:"structure"`
	Styling      map[string]any              `json:"styling,omitempty"`
	Permissions  storage.TemplatePermissions `json:"permissions"`
	Metadata     storage.TemplateMetadata    `json:"metadata"`
	CreatedBy    string                      `json:"createdBy"`
	IsActive     bool                        `json:"isActive"`
	DeletedAt    *time.Time                  `json:"deletedAt,omitempty"`
	CreatedAt    time.Time                   `json:"createdAt"`
	UpdatedAt    time.Time                   `json:"updatedAt"`
	CanEdit      bool                        `json:"canEdit"`
	CanDelete    bool                        `json:"canDelete"`
	CanDuplicate bool                        `json:"canDuplicate"`
}

type ListResponse struct {
	Templates []TemplateDTO `json:"templates"`
}

type PreviewResponse struct {
	ID         uuid.UUID              `json:"id"`
	Name       string                 `json:"name"`
	ReportType string                 `json:"reportType"`
	Layout     storage.TemplateLayout `json:"layout"`
	Sections   []SectionPreview       `json:"sections"`
}

type SectionTypesResponse struct {
	ReportType   string   `json:"reportType"`
	SectionTypes []string `json:"sectionTypes"`
}
