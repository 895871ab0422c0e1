package export

import (
	"context"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/audit"
	"github.com/carelink/agent-portal/internal/blob"
	"github.com/carelink/agent-portal/internal/mailer"
	"github.com/carelink/agent-portal/internal/metrics"
	"github.com/carelink/agent-portal/internal/notifications"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultChunkSize   = 100
	finishTimeout      = 10 * time.Second
	maxAttachmentBytes = 10 << 20
)

// Deps are the collaborators of the export job service. Blob may be nil, in
// which case files stay inline on the job record.
type Deps struct {
	Jobs              storage.ExportsStorage
	Data              storage.DataStore
	Serializer        *Serializer
	Blob              blob.Store
	Notifier          *notifications.Service
	Audit             *audit.Recorder
	Metrics           *metrics.Metrics
	Logger            zerolog.Logger
	ChunkSize         int
	MaxRows           int
	PresignTTLSeconds int
}

// Service runs export jobs: validate, fetch in chunks, serialize, store.
type Service struct {
	jobs       storage.ExportsStorage
	data       storage.DataStore
	serializer *Serializer
	blobStore  blob.Store
	notifier   *notifications.Service
	audit      *audit.Recorder
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	chunkSize  int
	maxRows    int
	presignTTL int

	now func() time.Time
}

func NewService(d Deps) *Service {
	if d.ChunkSize <= 0 {
		d.ChunkSize = defaultChunkSize
	}
	if d.PresignTTLSeconds <= 0 {
		d.PresignTTLSeconds = 900
	}
	if d.Serializer == nil {
		d.Serializer = NewSerializer(nil, d.Metrics)
	}
	return &Service{
		jobs:       d.Jobs,
		data:       d.Data,
		serializer: d.Serializer,
		blobStore:  d.Blob,
		notifier:   d.Notifier,
		audit:      d.Audit,
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "exports").Logger(),
		chunkSize:  d.ChunkSize,
		maxRows:    d.MaxRows,
		presignTTL: d.PresignTTLSeconds,
		now:        time.Now,
	}
}

// query is a validated export filter set.
type query struct {
	from, to    time.Time
	statuses    []string
	agentIDs    []string
	doctorIDs   []string
	hospitalIDs []string
}

// Export runs one job synchronously. Invalid requests are rejected before a
// job is recorded; failures after that leave the job FAILED.
func (s *Service) Export(ctx context.Context, actor userctx.Identity, req ExportRequest) (*Result, error) {
	q, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	includeHeaders := req.IncludeHeaders == nil || *req.IncludeHeaders

	job := &storage.ExportJob{
		EntityType:      req.EntityType,
		Format:          req.Format,
		FileName:        strings.TrimSpace(req.FileName),
		Status:          storage.ExportProcessing,
		Filters:         req.Filters,
		Columns:         req.Columns,
		IncludeHeaders:  includeHeaders,
		EmailRecipients: req.EmailRecipients,
		RequestedBy:     actor.UserID,
	}
	if err := s.jobs.CreateExportJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}
	s.audit.Record(ctx, actor.UserID, audit.ActionCreate, audit.EntityExport, job.ID.String(),
		map[string]any{"entityType": job.EntityType, "format": job.Format})
	log := s.logger.With().Str("job_id", job.ID.String()).Str("entity", job.EntityType).Logger()

	out, patch, err := s.run(ctx, job, q)
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err != nil {
		msg := err.Error()
		if _, ferr := s.jobs.FinishExportJob(finishCtx, job.ID, storage.ExportFailed, storage.ExportPatch{ErrorMessage: &msg}); ferr != nil {
			log.Error().Err(ferr).Msg("record failed export")
		}
		s.metrics.RecordExportJob(job.EntityType, string(storage.ExportFailed))
		log.Error().Err(err).Msg("export failed")
		return nil, apperr.Wrap(apperr.KindInternal, "export failed", err)
	}

	done, err := s.jobs.FinishExportJob(finishCtx, job.ID, storage.ExportCompleted, *patch)
	if err != nil {
		return nil, fmt.Errorf("complete export job: %w", err)
	}
	s.metrics.RecordExportJob(job.EntityType, string(storage.ExportCompleted))
	log.Info().Int("records", out.RecordCount).Int64("size_bytes", out.SizeBytes).Msg("export completed")

	s.deliver(finishCtx, done, out)
	return &Result{Job: toJobDTO(done), Output: out}, nil
}

func (s *Service) run(ctx context.Context, job *storage.ExportJob, q query) (*Output, *storage.ExportPatch, error) {
	rows, err := s.fetch(ctx, job.EntityType, q)
	if err != nil {
		return nil, nil, err
	}
	base := job.FileName
	if base == "" {
		base = job.EntityType + "-" + s.now().UTC().Format("20060102-150405")
	}
	out, err := s.serializer.Serialize(rows, job.Format, Options{
		Columns:        job.Columns,
		IncludeHeaders: job.IncludeHeaders,
		BaseName:       base,
		Title:          strings.ToUpper(job.EntityType[:1]) + job.EntityType[1:] + " export",
		Subtitle:       describeFilters(job.Filters),
	})
	if err != nil {
		return nil, nil, err
	}

	patch := &storage.ExportPatch{
		FileName:     out.FileName,
		FileSize:     out.SizeBytes,
		ContentType:  out.ContentType,
		TotalRecords: out.RecordCount,
	}
	if s.blobStore != nil {
		key := blob.ExportKey(job.ID, out.FileName)
		if _, err := s.blobStore.PutObject(ctx, key, out.Data, out.ContentType); err != nil {
			return nil, nil, fmt.Errorf("upload export: %w", err)
		}
		patch.FilePath = &key
	} else {
		patch.Data = out.Data
	}
	return out, patch, nil
}

// fetch reads the entity in chunks of chunkSize up to maxRows.
func (s *Service) fetch(ctx context.Context, entity string, q query) ([]any, error) {
	var rows []any
	for offset := 0; ; offset += s.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		limit := s.chunkSize
		if s.maxRows > 0 && offset+limit > s.maxRows {
			limit = s.maxRows - offset
		}
		if limit <= 0 {
			s.logger.Warn().Str("entity", entity).Int("max_rows", s.maxRows).Msg("export truncated at row cap")
			return rows, nil
		}
		chunk, err := s.page(ctx, entity, q, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", entity, err)
		}
		rows = append(rows, chunk...)
		if len(chunk) < limit {
			return rows, nil
		}
	}
}

func (s *Service) page(ctx context.Context, entity string, q query, limit, offset int) ([]any, error) {
	switch entity {
	case EntityAppointments:
		items, err := s.data.ListAppointments(ctx, storage.AppointmentQuery{
			From: q.from, To: q.to, Statuses: q.statuses,
			AgentIDs: q.agentIDs, DoctorIDs: q.doctorIDs, HospitalIDs: q.hospitalIDs,
			Limit: limit, Offset: offset,
		})
		return anySlice(items), err
	case EntityPayments:
		items, err := s.data.ListPayments(ctx, storage.PaymentQuery{
			From: q.from, To: q.to, Statuses: q.statuses,
			AgentIDs: q.agentIDs, DoctorIDs: q.doctorIDs, HospitalIDs: q.hospitalIDs,
			Limit: limit, Offset: offset,
		})
		return anySlice(items), err
	case EntityDoctors:
		dq := storage.DirectoryQuery{IDs: q.doctorIDs, Limit: limit, Offset: offset}
		if len(q.hospitalIDs) > 0 {
			dq.HospitalID = q.hospitalIDs[0]
		}
		items, err := s.data.ListDoctors(ctx, dq)
		return anySlice(items), err
	case EntityHospitals:
		items, err := s.data.ListHospitals(ctx, storage.DirectoryQuery{IDs: q.hospitalIDs, Limit: limit, Offset: offset})
		return anySlice(items), err
	}
	return nil, fmt.Errorf("unknown entity type %q", entity)
}

func anySlice[T any](items []T) []any {
	out := make([]any, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out
}

// deliver emails the file and tells the requester. Best effort.
func (s *Service) deliver(ctx context.Context, job *storage.ExportJob, out *Output) {
	if s.notifier == nil {
		return
	}
	notice := notifications.Notice{
		Title:   "Export ready: " + out.FileName,
		Message: fmt.Sprintf("%d %s exported as %s.", out.RecordCount, job.EntityType, job.Format),
		Type:    notifications.TypeExportCompleted,
		Data:    map[string]any{"jobId": job.ID, "fileName": out.FileName},
	}
	if err := s.notifier.Notify(ctx, job.RequestedBy, notice); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("notify requester")
	}
	if len(job.EmailRecipients) == 0 {
		return
	}

	recipients := make([]storage.Recipient, len(job.EmailRecipients))
	for i, addr := range job.EmailRecipients {
		recipients[i] = storage.Recipient{UserID: addr, DeliveryMethod: notifications.DeliveryEmail, Email: addr}
	}
	var att *mailer.Attachment
	if len(out.Data) <= maxAttachmentBytes {
		att = &mailer.Attachment{FileName: out.FileName, ContentType: out.ContentType, Data: out.Data}
	}
	sent := s.notifier.Deliver(ctx, recipients, notice, att)
	s.logger.Info().Str("job_id", job.ID.String()).Int("sent", sent).Int("recipients", len(recipients)).Msg("export emailed")
}

func (s *Service) Get(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*JobDTO, error) {
	job, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	dto := toJobDTO(job)
	return &dto, nil
}

// List returns the caller's jobs, newest first. Admins see every job.
func (s *Service) List(ctx context.Context, actor userctx.Identity, limit, offset int) (*ListJobsResponse, error) {
	owner := actor.UserID
	if actor.IsAdmin() {
		owner = ""
	}
	items, err := s.jobs.ListExportJobs(ctx, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	out := make([]JobDTO, len(items))
	for i := range items {
		out[i] = toJobDTO(&items[i])
	}
	return &ListJobsResponse{Jobs: out, Limit: limit, Offset: offset}, nil
}

// File is a finished export file: inline bytes, or a URL to redirect to.
type File struct {
	Data        []byte
	FileName    string
	ContentType string
	URL         string
}

func (s *Service) Download(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*File, error) {
	job, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if job.Status != storage.ExportCompleted {
		return nil, apperr.Newf(apperr.KindConflict, "export job is %s", job.Status)
	}
	if job.FilePath != nil && s.blobStore != nil {
		url, err := s.blobStore.PresignGet(ctx, *job.FilePath, s.presignTTL)
		if err != nil {
			return nil, fmt.Errorf("presign export file: %w", err)
		}
		return &File{FileName: job.FileName, ContentType: job.ContentType, URL: url}, nil
	}
	if job.Data == nil {
		return nil, apperr.NotFound("export file")
	}
	return &File{Data: job.Data, FileName: job.FileName, ContentType: job.ContentType}, nil
}

func (s *Service) owned(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*storage.ExportJob, error) {
	job, err := s.jobs.GetExportJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && job.RequestedBy != actor.UserID {
		return nil, apperr.NotFound("export job")
	}
	return job, nil
}

// validate checks every request field and reports all problems together.
func (s *Service) validate(req ExportRequest) (query, error) {
	var (
		q      query
		fields []apperr.FieldError
	)
	add := func(field, msg string) {
		fields = append(fields, apperr.FieldError{Field: field, Message: msg})
	}

	allowed, knownEntity := filterKeys[req.EntityType]
	if !knownEntity {
		add("entityType", "must be one of "+strings.Join(EntityTypes, ", "))
	}
	if !ValidFormat(req.Format) {
		add("format", "must be one of "+strings.Join(Formats, ", "))
	}
	for i, c := range req.Columns {
		if strings.TrimSpace(c) == "" {
			add(fmt.Sprintf("columns[%d]", i), "must not be empty")
		}
	}
	for i, addr := range req.EmailRecipients {
		if _, err := mail.ParseAddress(addr); err != nil {
			add(fmt.Sprintf("emailRecipients[%d]", i), "is not a valid email address")
		}
	}

	keys := make([]string, 0, len(req.Filters))
	for k := range req.Filters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		raw := strings.TrimSpace(req.Filters[key])
		if knownEntity && !slices.Contains(allowed, key) {
			add("filters."+key, "is not supported for "+req.EntityType)
			continue
		}
		if raw == "" {
			continue
		}
		switch key {
		case "dateFrom", "dateTo":
			t, err := time.Parse("2006-01-02", raw)
			if err != nil {
				add("filters."+key, "must be YYYY-MM-DD")
				continue
			}
			if key == "dateFrom" {
				q.from = t
			} else {
				q.to = t.AddDate(0, 0, 1)
			}
		case "status":
			q.statuses = splitList(raw)
			for _, st := range q.statuses {
				if !knownStatus(req.EntityType, st) {
					add("filters.status", fmt.Sprintf("unknown %s status %q", strings.TrimSuffix(req.EntityType, "s"), st))
				}
			}
		case "agentId":
			q.agentIDs = splitList(raw)
		case "doctorId":
			q.doctorIDs = splitList(raw)
		case "hospitalId":
			q.hospitalIDs = splitList(raw)
		default:
			add("filters."+key, "unknown filter")
		}
	}
	if !q.from.IsZero() && !q.to.IsZero() && !q.from.Before(q.to) {
		add("filters.dateTo", "must not be before dateFrom")
	}
	if req.EntityType == EntityDoctors && len(q.hospitalIDs) > 1 {
		add("filters.hospitalId", "accepts a single hospital for doctors")
	}

	if len(fields) > 0 {
		return q, apperr.WithFields(apperr.KindValidation, "invalid export request", fields)
	}
	return q, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func knownStatus(entity, status string) bool {
	switch entity {
	case EntityAppointments:
		switch status {
		case storage.AppointmentScheduled, storage.AppointmentConfirmed, storage.AppointmentCompleted,
			storage.AppointmentCancelled, storage.AppointmentNoShow:
			return true
		}
	case EntityPayments:
		switch status {
		case storage.PaymentPending, storage.PaymentPaid, storage.PaymentRefunded, storage.PaymentFailed:
			return true
		}
	}
	return false
}

func describeFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(filters[k]); v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}
