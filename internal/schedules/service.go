// Package schedules manages recurring reports and dispatches them when due.
package schedules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelink/agent-portal/internal/aggregation"
	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/audit"
	"github.com/carelink/agent-portal/internal/metrics"
	"github.com/carelink/agent-portal/internal/notifications"
	"github.com/carelink/agent-portal/internal/recurrence"
	"github.com/carelink/agent-portal/internal/reports"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultBatchSize = 50

// Deps are the collaborators of the schedules service.
type Deps struct {
	Schedules storage.SchedulesStorage
	Reports   storage.ReportsStorage
	Generator *reports.Service
	Notifier  *notifications.Service
	Audit     *audit.Recorder
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	BatchSize int
}

type Service struct {
	store     storage.SchedulesStorage
	reports   storage.ReportsStorage
	generator *reports.Service
	notifier  *notifications.Service
	audit     *audit.Recorder
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	batchSize int

	now func() time.Time
}

func NewService(d Deps) *Service {
	if d.BatchSize <= 0 {
		d.BatchSize = defaultBatchSize
	}
	return &Service{
		store:     d.Schedules,
		reports:   d.Reports,
		generator: d.Generator,
		notifier:  d.Notifier,
		audit:     d.Audit,
		metrics:   d.Metrics,
		logger:    d.Logger.With().Str("component", "schedules").Logger(),
		batchSize: d.BatchSize,
		now:       time.Now,
	}
}

// ScheduleReport validates the recurrence and the report together, persists a
// PENDING report carrying its first scheduled time, and stores the schedule.
func (s *Service) ScheduleReport(ctx context.Context, actor userctx.Identity, req ScheduleReportRequest) (*ScheduleReportResponse, error) {
	rule := req.Schedule
	rule.IsActive = true

	var fields []apperr.FieldError
	invalidRule := false
	if err := rule.Validate(); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			fields = append(fields, prefixed("schedule.", appErr.Fields)...)
		}
		invalidRule = true
	}
	loc := time.UTC
	if !invalidRule {
		loc, _ = rule.Location()
	}

	start, err := parseDay(req.StartDate, loc, false)
	if err != nil {
		fields = append(fields, apperr.FieldError{Field: "startDate", Message: err.Error()})
	}
	var end *time.Time
	if req.EndDate != nil && strings.TrimSpace(*req.EndDate) != "" {
		t, err := parseDay(*req.EndDate, loc, true)
		if err != nil {
			fields = append(fields, apperr.FieldError{Field: "endDate", Message: err.Error()})
		} else {
			end = &t
		}
	}
	if end != nil && !start.IsZero() && end.Before(start) {
		fields = append(fields, apperr.FieldError{Field: "endDate", Message: "must not be before startDate"})
	}
	fields = append(fields, checkRecipients(req.Recipients)...)

	reportReq := reports.CreateReportRequest{
		Title:         req.Title,
		Type:          req.Type,
		Description:   req.Description,
		Parameters:    req.Parameters,
		TemplateID:    req.TemplateID,
		GeneratedByID: req.GeneratedByID,
	}
	if len(fields) > 0 {
		fields = append(s.generator.CheckFields(actor, reportReq), fields...)
		kind := apperr.KindValidation
		if invalidRule {
			kind = apperr.KindInvalidSchedule
		}
		return nil, apperr.WithFields(kind, "invalid schedule request", fields)
	}

	now := s.now()
	if start.IsZero() {
		start = now
	}
	first, err := firstRun(rule, start, now, end)
	if err != nil {
		return nil, err
	}

	report, err := s.generator.CreateScheduled(ctx, actor, reportReq, first)
	if err != nil {
		return nil, err
	}

	sch := &storage.ReportSchedule{
		ReportID:   report.ID,
		Frequency:  string(rule.Frequency),
		DayOfWeek:  rule.DayOfWeek,
		DayOfMonth: rule.DayOfMonth,
		Hour:       rule.Hour,
		Minute:     rule.Minute,
		Timezone:   rule.Timezone,
		IsActive:   true,
		Recipients: req.Recipients,
		StartDate:  start.UTC(),
		EndDate:    utcPtr(end),
		NextRunAt:  utcPtr(&first),
		CreatedBy:  report.GeneratedBy,
	}
	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		s.abandon(report.ID)
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	s.audit.Record(ctx, actor.UserID, audit.ActionCreate, audit.EntitySchedule, sch.ID.String(),
		map[string]any{"reportId": report.ID, "frequency": sch.Frequency, "nextRunAt": first.UTC()})
	s.announce(ctx, report, sch, first)

	return &ScheduleReportResponse{ID: sch.ID, ReportID: report.ID, NextRunTime: first.UTC()}, nil
}

// abandon cancels a scheduled report whose schedule could not be stored, so no
// PENDING report is left waiting for a dispatcher that will never pick it up.
func (s *Service) abandon(reportID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log := s.logger.With().Str("report_id", reportID.String()).Logger()

	msg := "schedule could not be saved"
	if _, err := s.reports.TransitionReport(ctx, reportID, storage.ReportPending, storage.ReportCancelled,
		storage.ReportPatch{ClearSchedule: true, ErrorMessage: &msg}); err != nil {
		log.Error().Err(err).Msg("cancel report of unsaved schedule")
		return
	}
	log.Warn().Msg("report cancelled after schedule creation failed")
}

// announce tells the owner and every recipient about a new schedule. Best effort.
func (s *Service) announce(ctx context.Context, report *storage.Report, sch *storage.ReportSchedule, first time.Time) {
	if s.notifier == nil {
		return
	}
	notice := notifications.Notice{
		Title:   "Report scheduled",
		Message: fmt.Sprintf("%q runs %s; first run %s.", report.Title, sch.Frequency, first.UTC().Format(time.RFC3339)),
		Type:    notifications.TypeScheduleCreated,
		Data:    map[string]any{"scheduleId": sch.ID, "reportId": report.ID, "nextRunAt": first.UTC()},
	}
	ownerListed := false
	for _, r := range sch.Recipients {
		if r.UserID == report.GeneratedBy && r.DeliveryMethod == notifications.DeliveryInApp {
			ownerListed = true
		}
	}
	if !ownerListed {
		if err := s.notifier.Notify(ctx, report.GeneratedBy, notice); err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", sch.ID.String()).Msg("owner notification failed")
		}
	}
	s.notifier.Deliver(ctx, sch.Recipients, notice, nil)
}

func (s *Service) Get(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*ScheduleDTO, error) {
	sch, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	dto := toDTO(sch, s.now())
	return &dto, nil
}

func (s *Service) List(ctx context.Context, actor userctx.Identity, activeOnly bool, limit, offset int) (*ListSchedulesResponse, error) {
	filter := storage.ScheduleFilter{ActiveOnly: activeOnly, Limit: limit, Offset: offset}
	if !actor.IsAdmin() {
		filter.CreatedBy = actor.UserID
	}
	items, total, err := s.store.ListSchedules(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	now := s.now()
	out := make([]ScheduleDTO, len(items))
	for i := range items {
		out[i] = toDTO(&items[i], now)
	}
	return &ListSchedulesResponse{Schedules: out, Total: total, Limit: limit, Offset: offset}, nil
}

// Update applies a partial change, re-validates the rule and recomputes the
// next run. Cancelled schedules cannot be changed.
func (s *Service) Update(ctx context.Context, actor userctx.Identity, id uuid.UUID, req UpdateScheduleRequest) (*ScheduleDTO, error) {
	sch, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sch.CancelledAt != nil {
		return nil, apperr.New(apperr.KindConflict, "schedule is cancelled")
	}

	rule := ruleOf(sch)
	if req.Frequency != nil {
		rule.Frequency = *req.Frequency
	}
	if req.DayOfWeek != nil {
		rule.DayOfWeek = req.DayOfWeek
	}
	if req.DayOfMonth != nil {
		rule.DayOfMonth = req.DayOfMonth
	}
	if req.Hour != nil {
		rule.Hour = *req.Hour
	}
	if req.Minute != nil {
		rule.Minute = *req.Minute
	}
	if req.Timezone != nil {
		rule.Timezone = strings.TrimSpace(*req.Timezone)
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	var fields []apperr.FieldError
	invalidRule := false
	if err := rule.Validate(); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			fields = append(fields, appErr.Fields...)
		}
		invalidRule = true
	}
	end := sch.EndDate
	if req.EndDate != nil {
		end = nil
		if raw := strings.TrimSpace(*req.EndDate); raw != "" {
			loc := time.UTC
			if !invalidRule {
				loc, _ = rule.Location()
			}
			t, err := parseDay(raw, loc, true)
			if err != nil {
				fields = append(fields, apperr.FieldError{Field: "endDate", Message: err.Error()})
			} else {
				end = &t
			}
		}
	}
	if req.Recipients != nil {
		fields = append(fields, checkRecipients(req.Recipients)...)
	}
	if len(fields) > 0 {
		kind := apperr.KindValidation
		if invalidRule {
			kind = apperr.KindInvalidSchedule
		}
		return nil, apperr.WithFields(kind, "invalid schedule update", fields)
	}

	var next *time.Time
	if rule.IsActive {
		t, err := firstRun(rule, sch.StartDate, s.now(), end)
		if err != nil {
			return nil, err
		}
		next = &t
	}

	sch.Frequency = string(rule.Frequency)
	sch.DayOfWeek = rule.DayOfWeek
	sch.DayOfMonth = rule.DayOfMonth
	sch.Hour = rule.Hour
	sch.Minute = rule.Minute
	sch.Timezone = rule.Timezone
	sch.IsActive = rule.IsActive
	sch.EndDate = utcPtr(end)
	sch.NextRunAt = utcPtr(next)
	if req.Recipients != nil {
		sch.Recipients = req.Recipients
	}
	if err := s.store.UpdateSchedule(ctx, sch); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	if err := s.reports.SetScheduledAt(ctx, sch.ReportID, sch.NextRunAt); err != nil {
		return nil, fmt.Errorf("update report schedule: %w", err)
	}

	s.audit.Record(ctx, actor.UserID, audit.ActionUpdate, audit.EntitySchedule, sch.ID.String(),
		map[string]any{"frequency": sch.Frequency, "isActive": sch.IsActive, "nextRunAt": sch.NextRunAt})
	dto := toDTO(sch, s.now())
	return &dto, nil
}

// CancelSchedule deactivates a schedule and clears the report's scheduled
// time. Cancelling twice is a no-op.
func (s *Service) CancelSchedule(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*ScheduleDTO, error) {
	sch, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sch.CancelledAt == nil {
		now := s.now().UTC()
		sch.IsActive = false
		sch.CancelledAt = &now
		sch.NextRunAt = nil
		if err := s.store.UpdateSchedule(ctx, sch); err != nil {
			return nil, fmt.Errorf("cancel schedule: %w", err)
		}
		if err := s.reports.SetScheduledAt(ctx, sch.ReportID, nil); err != nil {
			return nil, fmt.Errorf("clear report schedule: %w", err)
		}
		s.audit.Record(ctx, actor.UserID, audit.ActionCancel, audit.EntitySchedule, sch.ID.String(),
			map[string]any{"reportId": sch.ReportID})
	}
	dto := toDTO(sch, s.now())
	return &dto, nil
}

// RunNow regenerates the schedule's report immediately over the period that
// ends today. It does not move the schedule's next run.
func (s *Service) RunNow(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*RunNowResponse, error) {
	sch, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	report, err := s.reports.GetReport(ctx, sch.ReportID)
	if err != nil {
		return nil, err
	}
	if report.Status == storage.ReportGenerating {
		return nil, apperr.New(apperr.KindConflict, "report is already generating")
	}

	loc, err := ruleOf(sch).Location()
	if err != nil {
		loc = time.UTC
	}
	from, to := recurrence.RunWindow(recurrence.Frequency(sch.Frequency), s.now().In(loc))
	params, err := aggregation.WithWindow(report.Parameters, from, to)
	if err != nil {
		return nil, err
	}
	report, err = s.reports.ResetReportForRun(ctx, report.ID, params)
	if err != nil {
		return nil, err
	}
	s.generator.Trigger(report.ID)

	s.audit.Record(ctx, actor.UserID, audit.ActionRun, audit.EntitySchedule, sch.ID.String(),
		map[string]any{"reportId": report.ID})
	return &RunNowResponse{
		ReportID: report.ID,
		Status:   report.Status,
		From:     from.Format("2006-01-02"),
		To:       to.Format("2006-01-02"),
	}, nil
}

// DispatchDue starts every active schedule whose next run is at or before now.
// A schedule is claimed with a compare-and-set on its next run time before its
// report is re-armed, so concurrent dispatchers start each run once.
func (s *Service) DispatchDue(ctx context.Context, now time.Time) (DispatchResult, error) {
	var res DispatchResult
	seen := make(map[uuid.UUID]bool)

	for {
		due, err := s.store.DueSchedules(ctx, now, s.batchSize)
		if err != nil {
			return res, fmt.Errorf("load due schedules: %w", err)
		}
		fresh := 0
		for i := range due {
			if seen[due[i].ID] {
				continue
			}
			seen[due[i].ID] = true
			fresh++
			s.dispatch(ctx, &due[i], now, &res)
		}
		if len(due) < s.batchSize || fresh == 0 || ctx.Err() != nil {
			break
		}
	}

	s.metrics.RecordDispatch("triggered", res.Triggered)
	s.metrics.RecordDispatch("skipped", res.Skipped)
	s.metrics.RecordDispatch("failed", res.Failed)
	s.metrics.RecordDispatch("deactivated", res.Deactivated)
	if res != (DispatchResult{}) {
		s.logger.Info().
			Int("triggered", res.Triggered).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Int("deactivated", res.Deactivated).
			Msg("dispatch pass finished")
	}
	return res, ctx.Err()
}

func (s *Service) dispatch(ctx context.Context, sch *storage.ReportSchedule, now time.Time, res *DispatchResult) {
	log := s.logger.With().Str("schedule_id", sch.ID.String()).Str("report_id", sch.ReportID.String()).Logger()
	expected := *sch.NextRunAt
	r := ruleOf(sch)

	var next *time.Time
	if t, err := recurrence.NextRun(r, now); err != nil {
		log.Warn().Err(err).Msg("schedule rule no longer valid; deactivating")
	} else if sch.EndDate == nil || !t.After(*sch.EndDate) {
		next = &t
	}

	claimed, err := s.store.ClaimRun(ctx, sch.ID, expected, now.UTC(), utcPtr(next))
	if err != nil {
		log.Error().Err(err).Msg("claim schedule run")
		res.Failed++
		return
	}
	if !claimed {
		res.Skipped++
		return
	}
	if next == nil {
		res.Deactivated++
	}
	if err := s.reports.SetScheduledAt(ctx, sch.ReportID, utcPtr(next)); err != nil {
		log.Warn().Err(err).Msg("update report scheduled time")
	}

	report, err := s.reports.GetReport(ctx, sch.ReportID)
	if err != nil {
		log.Error().Err(err).Msg("load scheduled report")
		s.recordFailure(ctx, sch.ID, now, res)
		return
	}
	if report.Status == storage.ReportGenerating {
		log.Info().Msg("previous run still generating; skipping")
		res.Skipped++
		return
	}

	loc, err := r.Location()
	if err != nil {
		loc = time.UTC
	}
	from, to := recurrence.RunWindow(r.Frequency, expected.In(loc))
	params, err := aggregation.WithWindow(report.Parameters, from, to)
	if err != nil {
		log.Error().Err(err).Msg("apply run window")
		s.recordFailure(ctx, sch.ID, now, res)
		return
	}
	if _, err := s.reports.ResetReportForRun(ctx, report.ID, params); err != nil {
		log.Error().Err(err).Str("status", string(report.Status)).Msg("re-arm scheduled report")
		s.recordFailure(ctx, sch.ID, now, res)
		return
	}

	s.generator.Trigger(report.ID)
	res.Triggered++
	log.Info().Time("run_at", expected).Msg("scheduled report triggered")
}

func (s *Service) recordFailure(ctx context.Context, id uuid.UUID, at time.Time, res *DispatchResult) {
	res.Failed++
	if err := s.store.RecordRunOutcome(ctx, id, false, at.UTC()); err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", id.String()).Msg("record run outcome")
	}
}

// owned loads a schedule the actor may see. Other users' schedules are
// reported as not found.
func (s *Service) owned(ctx context.Context, actor userctx.Identity, id uuid.UUID) (*storage.ReportSchedule, error) {
	sch, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && sch.CreatedBy != actor.UserID {
		return nil, apperr.NotFound("schedule")
	}
	return sch, nil
}

// firstRun is the first run at or after start (and after now), bounded by end.
func firstRun(r recurrence.Schedule, start, now time.Time, end *time.Time) (time.Time, error) {
	from := start.Add(-time.Nanosecond)
	if now.After(from) {
		from = now
	}
	next, err := recurrence.NextRun(r, from)
	if err != nil {
		return time.Time{}, err
	}
	if end != nil && next.After(*end) {
		return time.Time{}, apperr.WithFields(apperr.KindInvalidSchedule, "schedule never runs", []apperr.FieldError{
			{Field: "endDate", Message: "the first run " + next.UTC().Format(time.RFC3339) + " is after endDate"},
		})
	}
	return next, nil
}

// parseDay accepts YYYY-MM-DD in loc or an RFC 3339 timestamp. As an end
// bound a date covers the whole day.
func parseDay(raw string, loc *time.Location, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, errors.New("must be YYYY-MM-DD or an RFC 3339 timestamp")
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func checkRecipients(recipients []storage.Recipient) []apperr.FieldError {
	var fields []apperr.FieldError
	for i, r := range recipients {
		if strings.TrimSpace(r.UserID) == "" {
			fields = append(fields, apperr.FieldError{Field: fmt.Sprintf("recipients[%d].userId", i), Message: "is required"})
		}
		switch r.DeliveryMethod {
		case notifications.DeliveryInApp, notifications.DeliveryEmail:
		default:
			fields = append(fields, apperr.FieldError{
				Field:   fmt.Sprintf("recipients[%d].deliveryMethod", i),
				Message: "must be in_app or email",
			})
		}
	}
	return fields
}

func prefixed(prefix string, fields []apperr.FieldError) []apperr.FieldError {
	out := make([]apperr.FieldError, len(fields))
	for i, f := range fields {
		out[i] = apperr.FieldError{Field: prefix + f.Field, Message: f.Message}
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
