package templates

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/audit"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/google/uuid"
)

const initialVersion = "1.0"

type Service struct {
	store storage.TemplatesStorage
	audit *audit.Recorder
	now   func() time.Time
}

func NewService(store storage.TemplatesStorage, recorder *audit.Recorder) *Service {
	return &Service{store: store, audit: recorder, now: time.Now}
}

func (s *Service) Create(ctx context.Context, actor userctx.Identity, req CreateTemplateRequest) (*TemplateDTO, error) {
	t := &storage.Template{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		ReportType:  strings.TrimSpace(req.ReportType),
		Category:    req.Category,
		Layout:      req.Layout,
		Structure:   req.Structure,
		Styling:     req.Styling,
		Metadata:    storage.TemplateMetadata{Version: initialVersion, Tags: req.Tags},
		CreatedBy:   actor.UserID,
		IsActive:    true,
	}
	if t.ReportType == "" {
		t.ReportType = ReportTypeDefault
	}
	if req.Permissions != nil {
		t.Permissions = *req.Permissions
	}
	if err := check(t); err != nil {
		return nil, err
	}

	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	s.audit.Record(ctx, actor.UserID, audit.ActionCreate, audit.EntityTemplate, t.ID.String(),
		map[string]any{"name": t.Name, "reportType": t.ReportType})
	dto := toDTO(t, actor)
	return &dto, nil
}

func (s *Service) Get(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*TemplateDTO, error) {
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	dto := toDTO(t, actor)
	return &dto, nil
}

// List returns the active templates the actor may see.
func (s *Service) List(ctx context.Context, actor userctx.Identity, filter storage.TemplateFilter) ([]TemplateDTO, error) {
	filter.IncludeInactive = filter.IncludeInactive && actor.IsAdmin()
	items, err := s.store.ListTemplates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]TemplateDTO, 0, len(items))
	for i := range items {
		if !canView(&items[i], actor) {
			continue
		}
		out = append(out, toDTO(&items[i], actor))
	}
	return out, nil
}

// Update applies a partial update. The structure is re-validated whenever it or
// the report type changes, and every successful update bumps the minor version.
func (s *Service) Update(ctx context.Context, actor userctx.Identity, id uuid.UUID, req UpdateTemplateRequest) (*TemplateDTO, error) {
	t, err := s.editable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.ReportType != nil {
		t.ReportType = strings.TrimSpace(*req.ReportType)
	}
	if req.Category != nil {
		t.Category = *req.Category
	}
	if req.Layout != nil {
		t.Layout = *req.Layout
	}
	if req.Structure != nil {
		t.Structure = *req.Structure
	}
	if req.Styling != nil {
		t.Styling = req.Styling
	}
	if req.Permissions != nil {
		t.Permissions = *req.Permissions
	}
	if req.Tags != nil {
		t.Metadata.Tags = req.Tags
	}
	if err := check(t); err != nil {
		return nil, err
	}
	t.Metadata.Version = BumpVersion(t.Metadata.Version)

	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	s.audit.Record(ctx, actor.UserID, audit.ActionUpdate, audit.EntityTemplate, t.ID.String(),
		map[string]any{"version": t.Metadata.Version, "structureChanged": req.Structure != nil})
	dto := toDTO(t, actor)
	return &dto, nil
}

// Duplicate copies a visible template into a new private template owned by actor.
func (s *Service) Duplicate(ctx context.Context, actor userctx.Identity, id uuid.UUID, req DuplicateTemplateRequest) (*TemplateDTO, error) {
	src, err := s.visible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !src.IsActive {
		return nil, apperr.New(apperr.KindConflict, "template has been deleted")
	}

	c := *src
	c.ID = uuid.Nil
	c.Name = strings.TrimSpace(req.Name)
	if c.Name == "" {
		c.Name = src.Name + " (Copy)"
	}
	c.CreatedBy = actor.UserID
	c.Permissions = storage.TemplatePermissions{}
	c.Metadata = storage.TemplateMetadata{Version: initialVersion, Tags: src.Metadata.Tags}
	c.DeletedAt = nil

	if err := s.store.CreateTemplate(ctx, &c); err != nil {
		return nil, fmt.Errorf("duplicate template: %w", err)
	}
	s.audit.Record(ctx, actor.UserID, audit.ActionDuplicate, audit.EntityTemplate, c.ID.String(),
		map[string]any{"sourceId": src.ID.String()})
	dto := toDTO(&c, actor)
	return &dto, nil
}

// Delete soft-deletes a template so reports generated from it keep their reference.
func (s *Service) Delete(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*TemplateDTO, error) {
	t, err := s.editable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t.IsActive = false
	t.DeletedAt = &now
	t.Metadata.Version = BumpVersion(t.Metadata.Version)

	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("delete template: %w", err)
	}
	s.audit.Record(ctx, actor.UserID, audit.ActionDelete, audit.EntityTemplate, t.ID.String(), nil)
	dto := toDTO(t, actor)
	return &dto, nil
}

func (s *Service) Preview(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*PreviewResponse, error) {
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return &PreviewResponse{
		ID:         t.ID,
		Name:       t.Name,
		ReportType: t.ReportType,
		Layout:     t.Layout,
		Sections:   Preview(t),
	}, nil
}

// ForReport resolves the active template attached to a report of reportType.
// Missing, deleted or incompatible templates are invalid references.
func (s *Service) ForReport(ctx context.Context, actor userctx.Identity, id uuid.UUID, reportType storage.ReportType) (*storage.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, invalidTemplate(id, "does not exist")
		}
		return nil, err
	}
	if !t.IsActive || !canView(t, actor) {
		return nil, invalidTemplate(id, "does not exist")
	}
	if t.ReportType != ReportTypeDefault && t.ReportType != string(reportType) {
		return nil, invalidTemplate(id, fmt.Sprintf("is for report type %s", t.ReportType))
	}
	if res := Validate(t.Structure, string(reportType)); !res.IsValid {
		return nil, invalidTemplate(id, "has sections not allowed for "+string(reportType))
	}
	return t, nil
}

// Load fetches a template regardless of visibility, for workers rendering an
// already accepted report.
func (s *Service) Load(ctx context.Context, id uuid.UUID) (*storage.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

func invalidTemplate(id uuid.UUID, reason string) error {
	return apperr.WithFields(apperr.KindInvalidReference, "invalid reference",
		[]apperr.FieldError{{Field: "templateId", Message: fmt.Sprintf("template %s %s", id, reason)}})
}

func (s *Service) visible(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*storage.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(t, actor) {
		return nil, apperr.NotFound("template")
	}
	return t, nil
}

func (s *Service) editable(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*storage.Template, error) {
	t, err := s.visible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(t, actor) {
		return nil, apperr.New(apperr.KindForbidden, "only the owner can modify this template")
	}
	if !t.IsActive {
		return nil, apperr.New(apperr.KindConflict, "template has been deleted")
	}
	return t, nil
}

// check validates every field of t and returns all problems at once.
func check(t *storage.Template) error {
	var fields []apperr.FieldError
	if t.Name == "" {
		fields = append(fields, apperr.FieldError{Field: "name", Message: "is required"})
	}
	if t.ReportType != ReportTypeDefault && !storage.ReportType(t.ReportType).Valid() {
		fields = append(fields, apperr.FieldError{Field: "reportType", Message: fmt.Sprintf("unknown report type %q", t.ReportType)})
	}
	for _, msg := range ValidateLayout(t.Layout) {
		fields = append(fields, apperr.FieldError{Field: "layout", Message: msg})
	}
	res := Validate(t.Structure, t.ReportType)
	for _, msg := range res.Errors {
		fields = append(fields, apperr.FieldError{Field: "structure", Message: msg})
	}
	if len(fields) == 0 {
		return nil
	}
	if !res.IsValid {
		return apperr.WithFields(apperr.KindTemplateInvalid, "template structure is invalid", fields)
	}
	return apperr.WithFields(apperr.KindValidation, "invalid template", fields)
}

func canView(t *storage.Template, actor userctx.Identity) bool {
	if actor.IsAdmin() || t.CreatedBy == actor.UserID || t.Permissions.IsPublic {
		return true
	}
	for _, r := range t.Permissions.AllowedRoles {
		if r == actor.Role {
			return true
		}
	}
	for _, u := range t.Permissions.AllowedUsers {
		if u == actor.UserID {
			return true
		}
	}
	return false
}

func canEdit(t *storage.Template, actor userctx.Identity) bool {
	return actor.IsAdmin() || t.CreatedBy == actor.UserID
}

// BumpVersion turns "major.minor" into "major.(minor+1)". Malformed versions restart at 1.1.
func BumpVersion(v string) string {
	major, minor, ok := strings.Cut(v, ".")
	ma, err1 := strconv.Atoi(major)
	mi, err2 := strconv.Atoi(minor)
	if !ok || err1 != nil || err2 != nil || ma < 0 || mi < 0 {
		return "1.1"
	}
	return fmt.Sprintf("%d.%d", ma, mi+1)
}

func toDTO(t *storage.Template, actor userctx.Identity) TemplateDTO {
	edit := canEdit(t, actor) && t.IsActive
	return TemplateDTO{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		ReportType:   t.ReportType,
		Category:     t.Category,
		Layout:       t.Layout,
		Structure:    t.Structure,
		Styling:      t.Styling,
		Permissions:  t.Permissions,
		Metadata:     t.Metadata,
		CreatedBy:    t.CreatedBy,
		IsActive:     t.IsActive,
		DeletedAt:    t.DeletedAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CanEdit:      edit,
		CanDelete:    edit,
		CanDuplicate: t.IsActive,
	}
}
