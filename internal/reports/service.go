package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/aggregation"
	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/audit"
	"github.com/carelink/agent-portal/internal/blob"
	"github.com/carelink/agent-portal/internal/export"
	"github.com/carelink/agent-portal/internal/metrics"
	"github.com/carelink/agent-portal/internal/notifications"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/templates"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of the reports service. Blob may be nil, in which
// case generated files are kept inline on the report record.
type Deps struct {
	Reports    storage.ReportsStorage
	Schedules  storage.SchedulesStorage
	Builder    *aggregation.Builder
	Templates  *templates.Service
	Serializer *export.Serializer
	Blob       blob.Store
	Notifier   *notifications.Service
	Audit      *audit.Recorder
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

type Options struct {
	MaxRangeDays      int
	GenerationTimeout time.Duration
	PresignTTLSeconds int
}

// Service handles report creation, the generation worker and downloads.
type Service struct {
	store      storage.ReportsStorage
	schedules  storage.SchedulesStorage
	builder    *aggregation.Builder
	templates  *templates.Service
	serializer *export.Serializer
	blobStore  blob.Store
	notifier   *notifications.Service
	audit      *audit.Recorder
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	opts       Options

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  map[uuid.UUID]context.CancelCauseFunc

	now func() time.Time
}

func NewService(d Deps, opts Options) *Service {
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 5 * time.Minute
	}
	if opts.PresignTTLSeconds <= 0 {
		opts.PresignTTLSeconds = 900
	}
	baseCtx, shutdown := context.WithCancel(context.Background())
	return &Service{
		store:      d.Reports,
		schedules:  d.Schedules,
		builder:    d.Builder,
		templates:  d.Templates,
		serializer: d.Serializer,
		blobStore:  d.Blob,
		notifier:   d.Notifier,
		audit:      d.Audit,
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "reports").Logger(),
		opts:       opts,
		baseCtx:    baseCtx,
		shutdown:   shutdown,
		running:    make(map[uuid.UUID]context.CancelCauseFunc),
		now:        time.Now,
	}
}

// Create validates the request, persists a PENDING report and starts generation.
// Nothing is persisted when validation fails.
func (s *Service) Create(ctx context.Context, actor userctx.Identity, req CreateReportRequest) (*CreateReportResponse, error) {
	report, params, err := s.prepare(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.audit.Record(ctx, actor.UserID, audit.ActionCreate, audit.EntityReport, report.ID.String(),
		map[string]any{"type": report.Type, "title": report.Title})

	s.Trigger(report.ID)

	return &CreateReportResponse{
		ID:                         report.ID,
		Status:                     report.Status,
		EstimatedGenerationSeconds: EstimateSeconds(params),
	}, nil
}

// CreateScheduled validates and persists a PENDING report whose first run is
// left to the dispatcher.
func (s *Service) CreateScheduled(ctx context.Context, actor userctx.Identity, req CreateReportRequest, firstRun time.Time) (*storage.Report, error) {
	report, _, err := s.prepare(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	at := firstRun.UTC()
	report.ScheduledAt = &at
	if err := s.store.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	return report, nil
}

// CheckFields runs the field checks of a report request without touching
// storage and returns every violated field. Parameter failures that are not
// field-level, such as an oversized range, come back under "parameters".
func (s *Service) CheckFields(actor userctx.Identity, req CreateReportRequest) []apperr.FieldError {
	_, fields, err := s.checkRequest(actor, req)
	if err != nil {
		fields = append(fields, apperr.FieldError{Field: "parameters", Message: err.Error()})
	}
	return fields
}

// checked is a request that passed the field checks.
type checked struct {
	title  string
	owner  string
	params aggregation.Parameters
}

// checkRequest collects field errors. err is set only for parameter failures
// that carry no fields.
func (s *Service) checkRequest(actor userctx.Identity, req CreateReportRequest) (checked, []apperr.FieldError, error) {
	var fields []apperr.FieldError
	c := checked{title: strings.TrimSpace(req.Title), owner: actor.UserID}
	if c.title == "" {
		fields = append(fields, apperr.FieldError{Field: "title", Message: "is required"})
	}
	if id := strings.TrimSpace(req.GeneratedByID); id != "" && id != actor.UserID {
		if actor.IsAdmin() {
			c.owner = id
		} else {
			fields = append(fields, apperr.FieldError{Field: "generatedById", Message: "must be the authenticated user"})
		}
	}
	if !req.Type.Valid() {
		fields = append(fields, apperr.FieldError{Field: "type", Message: fmt.Sprintf("unknown report type %q", req.Type)})
		return c, fields, nil
	}

	params, err := aggregation.DecodeParameters(req.Type, req.Parameters, s.opts.MaxRangeDays)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindValidation && len(appErr.Fields) > 0 {
			return c, append(fields, appErr.Fields...), nil
		}
		return c, fields, err
	}
	c.params = params
	return c, fields, nil
}

// prepare runs every synchronous check and returns the unsaved record.
func (s *Service) prepare(ctx context.Context, actor userctx.Identity, req CreateReportRequest) (*storage.Report, aggregation.Parameters, error) {
	c, fields, err := s.checkRequest(actor, req)
	if len(fields) > 0 {
		return nil, nil, apperr.WithFields(apperr.KindValidation, "invalid report", fields)
	}
	if err != nil {
		return nil, nil, err
	}
	params := c.params

	if err := s.builder.CheckReferences(ctx, params); err != nil {
		return nil, nil, err
	}
	if req.TemplateID != nil && s.templates != nil {
		if _, err := s.templates.ForReport(ctx, actor, *req.TemplateID, req.Type); err != nil {
			return nil, nil, err
		}
	}

	normalized, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("encode parameters: %w", err)
	}
	return &storage.Report{
		Title:       c.title,
		Type:        req.Type,
		Description: strings.TrimSpace(req.Description),
		Parameters:  normalized,
		Status:      storage.ReportPending,
		GeneratedBy: c.owner,
		TemplateID:  req.TemplateID,
	}, params, nil
}

func (s *Service) Get(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*ReportDTO, error) {
	r, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	dto := toDTO(r, s.now())
	return &dto, nil
}

// ListQuery carries the raw list filters.
type ListQuery struct {
	Type        string
	Status      string
	GeneratedBy string
	Search      string
	CreatedFrom string
	CreatedTo   string
	SortBy      string
	SortOrder   string
	Limit       int
	Offset      int
}

func (s *Service) List(ctx context.Context, actor userctx.Identity, q ListQuery) (*ReportsResponse, error) {
	filter, err := buildFilter(actor, q)
	if err != nil {
		return nil, err
	}
	items, total, err := s.store.ListReports(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	now := s.now()
	out := make([]ReportDTO, len(items))
	for i := range items {
		out[i] = toDTO(&items[i], now)
	}
	return &ReportsResponse{Reports: out, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// buildFilter validates every filter at once. An unknown sort field on an
// otherwise valid query is reported as invalid_sort_field.
func buildFilter(actor userctx.Identity, q ListQuery) (storage.ReportFilter, error) {
	f := storage.ReportFilter{
		Type:        storage.ReportType(strings.TrimSpace(q.Type)),
		Status:      storage.ReportStatus(strings.ToUpper(strings.TrimSpace(q.Status))),
		GeneratedBy: actor.UserID,
		Search:      strings.TrimSpace(q.Search),
		SortBy:      strings.TrimSpace(q.SortBy),
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if actor.IsAdmin() {
		f.GeneratedBy = strings.TrimSpace(q.GeneratedBy)
	}

	var fields []apperr.FieldError
	if f.Type != "" && !f.Type.Valid() {
		fields = append(fields, apperr.FieldError{Field: "type", Message: fmt.Sprintf("unknown report type %q", f.Type)})
	}
	if f.Status != "" && !f.Status.Valid() {
		fields = append(fields, apperr.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", f.Status)})
	}
	var err error
	if f.CreatedFrom, err = parseBound(q.CreatedFrom, false); err != nil {
		fields = append(fields, apperr.FieldError{Field: "createdFrom", Message: err.Error()})
	}
	if f.CreatedTo, err = parseBound(q.CreatedTo, true); err != nil {
		fields = append(fields, apperr.FieldError{Field: "createdTo", Message: err.Error()})
	}
	switch strings.ToLower(strings.TrimSpace(q.SortOrder)) {
	case "", "desc":
		f.SortDesc = true
	case "asc":
	default:
		fields = append(fields, apperr.FieldError{Field: "sortOrder", Message: "must be asc or desc"})
	}
	if f.SortBy == "" {
		f.SortBy = "createdAt"
	}
	_, knownSort := storage.ReportSortFields[f.SortBy]
	if len(fields) > 0 {
		if !knownSort {
			fields = append(fields, sortFieldError(f.SortBy))
		}
		return f, apperr.WithFields(apperr.KindValidation, "invalid list filters", fields)
	}
	if !knownSort {
		return f, apperr.WithFields(apperr.KindInvalidSortField, "invalid sort field", []apperr.FieldError{sortFieldError(f.SortBy)})
	}
	return f, nil
}

func sortFieldError(field string) apperr.FieldError {
	return apperr.FieldError{
		Field:   "sortBy",
		Message: fmt.Sprintf("unknown sort field %q (allowed: completedAt, createdAt, scheduledAt, status, title, type, updatedAt)", field),
	}
}

// parseBound accepts a date or an RFC 3339 timestamp. A date used as an upper
// bound covers the whole day.
func parseBound(raw string, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, errors.New("must be YYYY-MM-DD or an RFC 3339 timestamp")
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

// Cancel stops a report. A GENERATING report fails with cancelled_by_user; a
// scheduled report loses its schedule; a PENDING ad-hoc report is cancelled.
func (s *Service) Cancel(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*ReportDTO, error) {
	r, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	switch {
	case r.Status == storage.ReportGenerating:
		msg := "cancelled by " + actor.UserID
		r, err = s.store.TransitionReport(ctx, id, storage.ReportGenerating, storage.ReportFailed, storage.ReportPatch{
			ErrorKind:    string(apperr.KindCancelledByUser),
			ErrorMessage: &msg,
		})
		if err != nil {
			return nil, err
		}
		s.stopWorker(id, apperr.ErrCancelledByUser)
	case r.ScheduledAt != nil:
		if err := s.store.SetScheduledAt(ctx, id, nil); err != nil {
			return nil, err
		}
		if err := s.deactivateSchedule(ctx, id); err != nil {
			return nil, err
		}
		r.ScheduledAt = nil
	case r.Status == storage.ReportPending:
		r, err = s.store.TransitionReport(ctx, id, storage.ReportPending, storage.ReportCancelled, storage.ReportPatch{})
		if err != nil {
			return nil, err
		}
		s.stopWorker(id, apperr.ErrCancelledByUser)
	default:
		return nil, apperr.Newf(apperr.KindInvalidTransition, "report is %s and cannot be cancelled", r.Status)
	}

	s.audit.Record(ctx, actor.UserID, audit.ActionCancel, audit.EntityReport, id.String(),
		map[string]any{"status": r.Status})
	dto := toDTO(r, s.now())
	return &dto, nil
}

func (s *Service) deactivateSchedule(ctx context.Context, reportID uuid.UUID) error {
	if s.schedules == nil {
		return nil
	}
	sch, err := s.schedules.GetScheduleByReport(ctx, reportID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil
		}
		return err
	}
	if !sch.IsActive {
		return nil
	}
	now := s.now().UTC()
	sch.IsActive = false
	sch.CancelledAt = &now
	sch.NextRunAt = nil
	return s.schedules.UpdateSchedule(ctx, sch)
}

// Download is a finished report file: inline bytes, or a URL to redirect to.
type Download struct {
	Data        []byte
	FileName    string
	ContentType string
	URL         string
}

func (s *Service) Download(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*Download, error) {
	r, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if r.Status != storage.ReportCompleted {
		return nil, apperr.Newf(apperr.KindConflict, "report is %s; the file is available once it is COMPLETED", r.Status)
	}

	if r.FilePath != nil && s.blobStore != nil {
		url, err := s.blobStore.PresignGet(ctx, *r.FilePath, s.opts.PresignTTLSeconds)
		if err != nil {
			return nil, fmt.Errorf("presign report file: %w", err)
		}
		return &Download{FileName: r.FileName, ContentType: r.ContentType, URL: url}, nil
	}
	if len(r.Data) == 0 {
		return nil, apperr.NotFound("report file")
	}
	return &Download{Data: r.Data, FileName: r.FileName, ContentType: r.ContentType}, nil
}

// owned loads a report the actor may see. Other users' reports are reported
// as not found.
func (s *Service) owned(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*storage.Report, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && r.GeneratedBy != actor.UserID {
		return nil, apperr.NotFound("report")
	}
	return r, nil
}

func toDTO(r *storage.Report, now time.Time) ReportDTO {
	dto := ReportDTO{
		ID:           r.ID,
		Title:        r.Title,
		Type:         r.Type,
		Description:  r.Description,
		Parameters:   r.Parameters,
		Status:       r.Status,
		GeneratedBy:  r.GeneratedBy,
		TemplateID:   r.TemplateID,
		ScheduledAt:  r.ScheduledAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		FileName:     r.FileName,
		ContentType:  r.ContentType,
		FileSize:     r.FileSize,
		RecordCount:  r.RecordCount,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.CompletedAt != nil {
		secs := r.CompletedAt.Sub(r.CreatedAt).Seconds()
		dto.GenerationSeconds = &secs
	}
	if r.Status == storage.ReportCompleted {
		dto.DownloadURL = "/v1/reports/" + r.ID.String() + "/download"
	}
	dto.IsOverdue = r.ScheduledAt != nil && r.Status != storage.ReportGenerating && now.After(*r.ScheduledAt)
	dto.AgeDays = int(now.Sub(r.CreatedAt).Hours() / 24)
	if dto.AgeDays < 0 {
		dto.AgeDays = 0
	}
	switch dto.AgeDays {
	case 0:
		dto.Age = "today"
	case 1:
		dto.Age = "1 day ago"
	default:
		dto.Age = fmt.Sprintf("%d days ago", dto.AgeDays)
	}
	return dto
}
