package schedules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carelink/agent-portal/internal/aggregation"
	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/audit"
	"github.com/carelink/agent-portal/internal/export"
	"github.com/carelink/agent-portal/internal/mailer"
	"github.com/carelink/agent-portal/internal/notifications"
	"github.com/carelink/agent-portal/internal/recurrence"
	"github.com/carelink/agent-portal/internal/reports"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/storage/memory"
	"github.com/carelink/agent-portal/internal/templates"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	agent = userctx.Identity{UserID: "agent-1", Role: userctx.RoleAgent}
	other = userctx.Identity{UserID: "agent-2", Role: userctx.RoleAgent}
)

// feb1 is a Thursday.
var feb1 = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	svc     *Service
	reports *reports.Service
	mem     *memory.MemoryStorage
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := memory.New()
	d := mem.Directory()
	d.SeedUsers(
		storage.User{ID: "agent-1", Name: "Ana", Email: "ana@example.com", Role: "agent"},
		storage.User{ID: "agent-2", Name: "Ben", Email: "ben@example.com", Role: "agent"},
	)
	d.SeedHospitals(storage.Hospital{ID: "h-1", Name: "City General"})
	d.SeedDoctors(storage.Doctor{ID: "doc-1", Name: "Dr. Ray", HospitalID: "h-1"})
	for i := 0; i < 3; i++ {
		d.SeedPayments(storage.Payment{
			ID:         "p" + string(rune('a'+i)),
			AgentID:    "agent-1",
			DoctorID:   "doc-1",
			HospitalID: "h-1",
			Amount:     decimal.NewFromInt(25),
			Method:     "card",
			Status:     storage.PaymentPaid,
			CreatedAt:  time.Date(2024, 1, 5+i*10, 12, 0, 0, 0, time.UTC),
		})
	}

	recorder := audit.NewRecorder(mem.GetAuditStorage(), zerolog.Nop())
	notifier := notifications.NewService(mem.GetNotificationsStorage(), mem.GetDataStore(), mailer.NewLocalSender(zerolog.Nop()), zerolog.Nop())
	gen := reports.NewService(reports.Deps{
		Reports:    mem.GetReportsStorage(),
		Schedules:  mem.GetSchedulesStorage(),
		Builder:    aggregation.NewBuilder(mem.GetDataStore(), 2),
		Templates:  templates.NewService(mem.GetTemplatesStorage(), recorder),
		Serializer: export.NewSerializer(nil, nil),
		Notifier:   notifier,
		Audit:      recorder,
		Logger:     zerolog.Nop(),
	}, reports.Options{MaxRangeDays: 365, GenerationTimeout: time.Minute})
	t.Cleanup(gen.Wait)

	svc := NewService(Deps{
		Schedules: mem.GetSchedulesStorage(),
		Reports:   mem.GetReportsStorage(),
		Generator: gen,
		Notifier:  notifier,
		Audit:     recorder,
		Logger:    zerolog.Nop(),
		BatchSize: 2,
	})
	svc.now = func() time.Time { return feb1 }
	return &testEnv{svc: svc, reports: gen, mem: mem}
}

func intp(v int) *int { return &v }

func monthlyRequest() ScheduleReportRequest {
	return ScheduleReportRequest{
		Title:      "Monthly revenue",
		Type:       storage.ReportTypeRevenueAnalysis,
		Parameters: json.RawMessage(`{"dateFrom":"2023-12-01","dateTo":"2023-12-31","groupBy":"month"}`),
		Schedule: recurrence.Schedule{
			Frequency:  recurrence.Monthly,
			DayOfMonth: intp(1),
			Hour:       9,
			Timezone:   "UTC",
		},
		Recipients: []storage.Recipient{{UserID: "agent-2", DeliveryMethod: notifications.DeliveryInApp}},
		StartDate:  "2024-01-15",
	}
}

func call(h http.HandlerFunc, method, target string, body any, id userctx.Identity, pathID string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if pathID != "" {
		req.SetPathValue("id", pathID)
	}
	req = req.WithContext(userctx.WithIdentity(req.Context(), id))
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func countType(t *testing.T, env *testEnv, userID, typ string) int {
	t.Helper()
	items, err := env.mem.GetNotificationsStorage().ListNotifications(context.Background(), userID, false, 50, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	n := 0
	for _, it := range items {
		if it.Type == typ {
			n++
		}
	}
	return n
}

func TestScheduleReportCreatesPendingReport(t *testing.T) {
	env := newEnv(t)
	h := NewHandlers(env.svc)
	ctx := context.Background()

	rr := call(h.HandleCreate, http.MethodPost, "/v1/schedules", monthlyRequest(), agent, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ScheduleReportResponse
	json.NewDecoder(rr.Body).Decode(&resp)

	wantFirst := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	if !resp.NextRunTime.Equal(wantFirst) {
		t.Fatalf("expected first run %s, got %s", wantFirst, resp.NextRunTime)
	}

	report, err := env.mem.GetReportsStorage().GetReport(ctx, resp.ReportID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if report.Status != storage.ReportPending || report.ScheduledAt == nil || !report.ScheduledAt.Equal(wantFirst) {
		t.Fatalf("scheduled report should wait for the dispatcher: %+v", report)
	}
	sch, err := env.mem.GetSchedulesStorage().GetSchedule(ctx, resp.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !sch.IsActive || sch.CreatedBy != "agent-1" || sch.RunCount != 0 {
		t.Fatalf("unexpected schedule %+v", sch)
	}

	if countType(t, env, "agent-1", notifications.TypeScheduleCreated) != 1 {
		t.Fatal("owner should be told about the schedule")
	}
	if countType(t, env, "agent-2", notifications.TypeScheduleCreated) != 1 {
		t.Fatal("recipient should be told about the schedule")
	}
	entries, _ := env.mem.GetAuditStorage().ListAudit(ctx, storage.AuditFilter{EntityType: audit.EntitySchedule})
	if len(entries) != 1 || entries[0].Action != audit.ActionCreate {
		t.Fatalf("expected one schedule audit entry, got %+v", entries)
	}

	rr = call(h.HandleGet, http.MethodGet, "/v1/schedules/x", nil, agent, resp.ID.String())
	var dto ScheduleDTO
	json.NewDecoder(rr.Body).Decode(&dto)
	if len(dto.Upcoming) != upcomingRuns || !dto.Upcoming[0].Equal(wantFirst) || dto.IsOverdue {
		t.Fatalf("unexpected view fields %+v", dto)
	}

	rr = call(h.HandleGet, http.MethodGet, "/v1/schedules/x", nil, other, resp.ID.String())
	if rr.Code != http.StatusNotFound {
		t.Fatalf("other users must not see the schedule, got %d", rr.Code)
	}
}

func TestScheduleReportReportsEveryField(t *testing.T) {
	env := newEnv(t)
	h := NewHandlers(env.svc)

	req := monthlyRequest()
	req.Title = ""
	req.Parameters = json.RawMessage(`{"dateTo":"2023-12-31"}`)
	req.Schedule = recurrence.Schedule{Frequency: recurrence.Weekly, Hour: 25, Minute: 5}
	req.Recipients = []storage.Recipient{{UserID: "agent-2", DeliveryMethod: "sms"}}

	rr := call(h.HandleCreate, http.MethodPost, "/v1/schedules", req, agent, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		string(apperr.KindInvalidSchedule),
		`"field":"title"`,
		`"field":"dateFrom"`,
		"schedule.dayOfWeek",
		"schedule.hour",
		"recipients[0].deliveryMethod",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in %s", want, body)
		}
	}

	_, total, _ := env.mem.GetReportsStorage().ListReports(context.Background(), storage.ReportFilter{})
	if total != 0 {
		t.Fatalf("invalid schedules must not persist reports, found %d", total)
	}
}

type failingSchedules struct {
	storage.SchedulesStorage
}

func (failingSchedules) CreateSchedule(context.Context, *storage.ReportSchedule) error {
	return errors.New("connection reset")
}

func TestScheduleReportCancelsReportWhenScheduleNotSaved(t *testing.T) {
	env := newEnv(t)
	env.svc.store = failingSchedules{env.mem.GetSchedulesStorage()}

	if _, err := env.svc.ScheduleReport(context.Background(), agent, monthlyRequest()); err == nil {
		t.Fatal("expected schedule creation error")
	}

	items, total, err := env.mem.GetReportsStorage().ListReports(context.Background(), storage.ReportFilter{})
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected the created report to remain for audit, found %d", total)
	}
	if items[0].Status != storage.ReportCancelled || items[0].ScheduledAt != nil {
		t.Fatalf("expected a cancelled unscheduled report, got status=%s scheduledAt=%v", items[0].Status, items[0].ScheduledAt)
	}

	_, n, _ := env.mem.GetSchedulesStorage().ListSchedules(context.Background(), storage.ScheduleFilter{})
	if n != 0 {
		t.Fatalf("expected no schedules, found %d", n)
	}
}

func TestScheduleOverdue(t *testing.T) {
	at := func(month time.Month, day, hour int) time.Time {
		return time.Date(2024, month, day, hour, 0, 0, 0, time.UTC)
	}
	tp := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name    string
		start   time.Time
		next    *time.Time
		lastRun *time.Time
		now     time.Time
		want    bool
	}{
		{"before start date", at(3, 1, 0), tp(at(3, 1, 9)), nil, at(2, 5, 12), false},
		{"first run missed", at(3, 1, 0), tp(at(3, 1, 9)), nil, at(3, 2, 10), true},
		{"stored next run ahead", at(2, 1, 0), tp(at(2, 6, 9)), tp(at(2, 5, 9)), at(2, 5, 12), false},
		{"run missed after last run", at(2, 1, 0), tp(at(2, 6, 9)), tp(at(2, 5, 9)), at(2, 6, 12), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sch := &storage.ReportSchedule{
				Frequency: string(recurrence.Daily),
				Hour:      9,
				Timezone:  "UTC",
				IsActive:  true,
				StartDate: tt.start,
				NextRunAt: tt.next,
				LastRunAt: tt.lastRun,
				CreatedAt: feb1,
			}
			if got := toDTO(sch, tt.now).IsOverdue; got != tt.want {
				t.Fatalf("IsOverdue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleReportEndBeforeFirstRun(t *testing.T) {
	env := newEnv(t)

	req := monthlyRequest()
	end := "2024-01-10"
	req.EndDate = &end
	_, err := env.svc.ScheduleReport(context.Background(), agent, req)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("endDate before startDate is a validation error, got %v", err)
	}

	end = "2024-02-01T08:30:00Z"
	_, err = env.svc.ScheduleReport(context.Background(), agent, req)
	if apperr.KindOf(err) != apperr.KindInvalidSchedule {
		t.Fatalf("a schedule that never runs is invalid, got %v", err)
	}
}

func TestDispatchDueTriggersAndAdvances(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	created, err := env.svc.ScheduleReport(ctx, agent, monthlyRequest())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	res, err := env.svc.DispatchDue(ctx, feb1)
	if err != nil || res != (DispatchResult{}) {
		t.Fatalf("nothing is due before the first run: %+v %v", res, err)
	}

	at := time.Date(2024, 2, 1, 9, 5, 0, 0, time.UTC)
	res, err = env.svc.DispatchDue(ctx, at)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Triggered != 1 {
		t.Fatalf("expected one triggered run, got %+v", res)
	}
	env.reports.Wait()

	report, _ := env.mem.GetReportsStorage().GetReport(ctx, created.ReportID)
	if report.Status != storage.ReportCompleted {
		t.Fatalf("expected completed report, got %s (%v)", report.Status, report.ErrorMessage)
	}
	var params map[string]any
	json.Unmarshal(report.Parameters, &params)
	if params["dateFrom"] != "2024-01-01" || params["dateTo"] != "2024-01-31" {
		t.Fatalf("run should cover January, got %v", params)
	}
	wantNext := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if report.ScheduledAt == nil || !report.ScheduledAt.Equal(wantNext) {
		t.Fatalf("report should carry the next run, got %v", report.ScheduledAt)
	}

	sch, _ := env.mem.GetSchedulesStorage().GetSchedule(ctx, created.ID)
	if sch.RunCount != 1 || sch.LastRunAt == nil || sch.LastSuccessfulRun == nil || !sch.NextRunAt.Equal(wantNext) {
		t.Fatalf("unexpected schedule after run %+v", sch)
	}
	if countType(t, env, "agent-2", notifications.TypeReportCompleted) != 1 {
		t.Fatal("recipient should be told the report is ready")
	}

	res, _ = env.svc.DispatchDue(ctx, at)
	if res.Triggered != 0 {
		t.Fatalf("a run must not be dispatched twice, got %+v", res)
	}
}

func TestDispatchDueConcurrentPassesTriggerOnce(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.svc.ScheduleReport(ctx, agent, monthlyRequest()); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	at := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		triggered int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.DispatchDue(ctx, at)
			if err != nil {
				t.Errorf("dispatch: %v", err)
			}
			mu.Lock()
			triggered += res.Triggered
			mu.Unlock()
		}()
	}
	wg.Wait()
	env.reports.Wait()

	if triggered != 3 {
		t.Fatalf("each due schedule runs once across dispatchers, got %d runs", triggered)
	}
}

func TestDispatchDueSkipsGeneratingAndDeactivatesPastEnd(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	req := monthlyRequest()
	end := "2024-02-15"
	req.EndDate = &end
	created, err := env.svc.ScheduleReport(ctx, agent, req)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := env.mem.GetReportsStorage().TransitionReport(ctx, created.ReportID,
		storage.ReportPending, storage.ReportGenerating, storage.ReportPatch{}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	res, err := env.svc.DispatchDue(ctx, time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Skipped != 1 || res.Deactivated != 1 || res.Triggered != 0 {
		t.Fatalf("unexpected dispatch result %+v", res)
	}
	sch, _ := env.mem.GetSchedulesStorage().GetSchedule(ctx, created.ID)
	if sch.IsActive || sch.NextRunAt != nil || sch.RunCount != 1 {
		t.Fatalf("schedule past its end date should be inactive: %+v", sch)
	}
	report, _ := env.mem.GetReportsStorage().GetReport(ctx, created.ReportID)
	if report.ScheduledAt != nil || report.Status != storage.ReportGenerating {
		t.Fatalf("running report must be left alone: %+v", report)
	}
}

func TestUpdateAndCancelSchedule(t *testing.T) {
	env := newEnv(t)
	h := NewHandlers(env.svc)
	ctx := context.Background()

	created, err := env.svc.ScheduleReport(ctx, agent, monthlyRequest())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	id := created.ID.String()

	rr := call(h.HandleUpdate, http.MethodPatch, "/v1/schedules/x", map[string]any{"hour": 7, "dayOfMonth": 31}, agent, id)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var dto ScheduleDTO
	json.NewDecoder(rr.Body).Decode(&dto)
	// 31st clamps to Feb 29 in 2024.
	wantNext := time.Date(2024, 2, 29, 7, 0, 0, 0, time.UTC)
	if dto.NextRunAt == nil || !dto.NextRunAt.Equal(wantNext) {
		t.Fatalf("expected next run %s, got %v", wantNext, dto.NextRunAt)
	}
	report, _ := env.mem.GetReportsStorage().GetReport(ctx, created.ReportID)
	if report.ScheduledAt == nil || !report.ScheduledAt.Equal(wantNext) {
		t.Fatalf("report scheduledAt should follow the schedule, got %v", report.ScheduledAt)
	}

	rr = call(h.HandleUpdate, http.MethodPatch, "/v1/schedules/x", map[string]any{"minute": 75}, agent, id)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "minute") {
		t.Fatalf("expected invalid minute, got %d %s", rr.Code, rr.Body.String())
	}

	for i := 0; i < 2; i++ {
		rr = call(h.HandleCancel, http.MethodDelete, "/v1/schedules/x", nil, agent, id)
		if rr.Code != http.StatusOK {
			t.Fatalf("cancel %d: expected 200, got %d", i, rr.Code)
		}
	}
	json.NewDecoder(rr.Body).Decode(&dto)
	if dto.IsActive || dto.CancelledAt == nil || dto.NextRunAt != nil {
		t.Fatalf("unexpected cancelled schedule %+v", dto)
	}
	report, _ = env.mem.GetReportsStorage().GetReport(ctx, created.ReportID)
	if report.ScheduledAt != nil {
		t.Fatal("cancel should clear the report's scheduled time")
	}
	entries, _ := env.mem.GetAuditStorage().ListAudit(ctx, storage.AuditFilter{EntityID: id})
	if len(entries) != 3 {
		t.Fatalf("expected create, update and one cancel entry, got %d", len(entries))
	}

	rr = call(h.HandleUpdate, http.MethodPatch, "/v1/schedules/x", map[string]any{"hour": 8}, agent, id)
	if rr.Code != http.StatusConflict {
		t.Fatalf("cancelled schedules cannot change, got %d", rr.Code)
	}
}

func TestRunNow(t *testing.T) {
	env := newEnv(t)
	h := NewHandlers(env.svc)
	ctx := context.Background()

	created, err := env.svc.ScheduleReport(ctx, agent, monthlyRequest())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	rr := call(h.HandleRunNow, http.MethodPost, "/v1/schedules/x/run", nil, agent, created.ID.String())
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp RunNowResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.ReportID != created.ReportID || resp.From != "2024-01-01" || resp.To != "2024-01-31" {
		t.Fatalf("unexpected run %+v", resp)
	}
	env.reports.Wait()

	report, _ := env.mem.GetReportsStorage().GetReport(ctx, created.ReportID)
	if report.Status != storage.ReportCompleted {
		t.Fatalf("expected completed report, got %s", report.Status)
	}
	sch, _ := env.mem.GetSchedulesStorage().GetSchedule(ctx, created.ID)
	if sch.RunCount != 0 || sch.NextRunAt == nil {
		t.Fatalf("run now must not move the schedule: %+v", sch)
	}

	rr = call(h.HandleRunNow, http.MethodPost, "/v1/schedules/x/run", nil, agent, uuid.NewString())
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown schedule, got %d", rr.Code)
	}
}

func TestListSchedules(t *testing.T) {
	env := newEnv(t)
	h := NewHandlers(env.svc)
	ctx := context.Background()

	first, _ := env.svc.ScheduleReport(ctx, agent, monthlyRequest())
	env.svc.ScheduleReport(ctx, agent, monthlyRequest())
	env.svc.ScheduleReport(ctx, other, monthlyRequest())
	env.svc.CancelSchedule(ctx, agent, first.ID)

	rr := call(h.HandleList, http.MethodGet, "/v1/schedules", nil, agent, "")
	var resp ListSchedulesResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Total != 2 {
		t.Fatalf("agent owns two schedules, got %d", resp.Total)
	}

	rr = call(h.HandleList, http.MethodGet, "/v1/schedules?active=true", nil, agent, "")
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Total != 1 {
		t.Fatalf("one schedule is still active, got %d", resp.Total)
	}

	rr = call(h.HandleList, http.MethodGet, "/v1/schedules?active=maybe", nil, agent, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
