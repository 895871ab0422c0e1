package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carelink/agent-portal/internal/aggregation"
	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/audit"
	"github.com/carelink/agent-portal/internal/blob"
	"github.com/carelink/agent-portal/internal/export"
	"github.com/carelink/agent-portal/internal/mailer"
	"github.com/carelink/agent-portal/internal/notifications"
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
	admin = userctx.Identity{UserID: "root", Role: userctx.RoleAdmin}
)

// blockingData holds appointment and payment reads until the context ends.
type blockingData struct {
	storage.DataStore
	entered chan struct{}
}

func (b *blockingData) ListAppointments(ctx context.Context, q storage.AppointmentQuery) ([]storage.Appointment, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type testEnv struct {
	svc  *Service
	mem  *memory.MemoryStorage
	blob *blob.MemoryStore
}

func seed(mem *memory.MemoryStorage) {
	d := mem.Directory()
	d.SeedUsers(
		storage.User{ID: "agent-1", Name: "Ana", Email: "ana@example.com", Role: "agent"},
		storage.User{ID: "agent-2", Name: "Ben", Role: "agent"},
	)
	d.SeedHospitals(storage.Hospital{ID: "h-1", Name: "City General"})
	d.SeedDoctors(storage.Doctor{ID: "doc-1", Name: "Dr. Ray", HospitalID: "h-1"})
	for i := 0; i < 4; i++ {
		d.SeedPayments(storage.Payment{
			ID:         "p" + string(rune('a'+i)),
			AgentID:    "agent-1",
			DoctorID:   "doc-1",
			HospitalID: "h-1",
			Amount:     decimal.NewFromInt(int64(10 * (i + 1))),
			Method:     "card",
			Status:     storage.PaymentPaid,
			CreatedAt:  time.Date(2024, 1, 2+i*7, 10, 0, 0, 0, time.UTC),
		})
	}
}

func newEnv(t *testing.T, data storage.DataStore, useBlob bool, timeout time.Duration) *testEnv {
	t.Helper()
	mem := memory.New()
	seed(mem)
	if data == nil {
		data = mem.GetDataStore()
	}
	recorder := audit.NewRecorder(mem.GetAuditStorage(), zerolog.Nop())
	env := &testEnv{mem: mem}
	deps := Deps{
		Reports:    mem.GetReportsStorage(),
		Schedules:  mem.GetSchedulesStorage(),
		Builder:    aggregation.NewBuilder(data, 2),
		Templates:  templates.NewService(mem.GetTemplatesStorage(), recorder),
		Serializer: export.NewSerializer(nil, nil),
		Notifier:   notifications.NewService(mem.GetNotificationsStorage(), mem.GetDataStore(), mailer.NewLocalSender(zerolog.Nop()), zerolog.Nop()),
		Audit:      recorder,
		Logger:     zerolog.Nop(),
	}
	if useBlob {
		env.blob = blob.NewMemoryStore()
		deps.Blob = env.blob
	}
	env.svc = NewService(deps, Options{MaxRangeDays: 365, GenerationTimeout: timeout})
	t.Cleanup(env.svc.Wait)
	return env
}

func revenueRequest() CreateReportRequest {
	return CreateReportRequest{
		Title:      "January revenue",
		Type:       storage.ReportTypeRevenueAnalysis,
		Parameters: json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31","groupBy":"week"}`),
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

func waitStatus(t *testing.T, env *testEnv, id uuid.UUID, want storage.ReportStatus) *storage.Report {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := env.mem.GetReportsStorage().GetReport(context.Background(), id)
		if err != nil {
			t.Fatalf("get report: %v", err)
		}
		if r.Status == want {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("report %s never reached %s", id, want)
	return nil
}

func TestCreateGeneratesAndDownloads(t *testing.T) {
	env := newEnv(t, nil, false, time.Minute)
	h := NewHandlers(env.svc)

	rr := call(h.HandleCreate, http.MethodPost, "/v1/reports", revenueRequest(), agent, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var created CreateReportResponse
	json.NewDecoder(rr.Body).Decode(&created)
	if created.Status != storage.ReportPending || created.EstimatedGenerationSeconds <= 0 {
		t.Fatalf("unexpected response %+v", created)
	}

	env.svc.Wait()
	r := waitStatus(t, env, created.ID, storage.ReportCompleted)
	if r.CompletedAt == nil || r.FileName != "january-revenue.csv" || r.RecordCount != 4 {
		t.Fatalf("unexpected completed report %+v", r)
	}

	rr = call(h.HandleDownload, http.MethodGet, "/v1/reports/x/download", nil, agent, created.ID.String())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "january-revenue.csv") {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header plus 5 weekly buckets, got %d lines:\n%s", len(lines), rr.Body.String())
	}

	rr = call(h.HandleGet, http.MethodGet, "/v1/reports/x", nil, agent, created.ID.String())
	var dto ReportDTO
	json.NewDecoder(rr.Body).Decode(&dto)
	if dto.GenerationSeconds == nil || dto.DownloadURL == "" || dto.Age != "today" || dto.IsOverdue {
		t.Fatalf("unexpected view fields %+v", dto)
	}

	inbox, _ := env.mem.GetNotificationsStorage().ListNotifications(context.Background(), "agent-1", false, 10, 0)
	if len(inbox) != 1 || inbox[0].Type != notifications.TypeReportCompleted {
		t.Fatalf("owner should be notified once, got %+v", inbox)
	}
}

func TestCreateRejectsBeforePersisting(t *testing.T) {
	env := newEnv(t, nil, false, time.Minute)
	ctx := context.Background()

	req := revenueRequest()
	req.Title = ""
	req.Parameters = json.RawMessage(`{"dateFrom":"2024-01-01","format":"docx"}`)
	_, err := env.svc.Create(ctx, agent, req)
	var appErr *apperr.Error
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation_error, got %v", err)
	}
	if !errors.As(err, &appErr) || len(appErr.Fields) != 3 {
		t.Fatalf("expected title, dateTo and format errors, got %+v", appErr.Fields)
	}

	req = revenueRequest()
	req.Parameters = json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2025-01-01"}`)
	if _, err := env.svc.Create(ctx, agent, req); apperr.KindOf(err) != apperr.KindRangeTooLarge {
		t.Fatalf("expected range_too_large, got %v", err)
	}

	req = revenueRequest()
	req.Parameters = json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31","doctorIds":["doc-1","doc-404"]}`)
	if _, err := env.svc.Create(ctx, agent, req); apperr.KindOf(err) != apperr.KindInvalidReference {
		t.Fatalf("expected invalid_reference, got %v", err)
	}

	req = revenueRequest()
	missing := uuid.New()
	req.TemplateID = &missing
	if _, err := env.svc.Create(ctx, agent, req); apperr.KindOf(err) != apperr.KindInvalidReference {
		t.Fatalf("expected invalid_reference for template, got %v", err)
	}

	_, total, _ := env.mem.GetReportsStorage().ListReports(ctx, storage.ReportFilter{})
	if total != 0 {
		t.Fatalf("rejected requests must not persist reports, found %d", total)
	}
}

func TestGenerationTimeout(t *testing.T) {
	mem := memory.New()
	seed(mem)
	data := &blockingData{DataStore: mem.GetDataStore(), entered: make(chan struct{}, 1)}
	env := newEnv(t, data, false, 50*time.Millisecond)

	req := revenueRequest()
	req.Type = storage.ReportTypeAppointmentSummary
	created, err := env.svc.Create(context.Background(), agent, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.svc.Wait()

	r := waitStatus(t, env, created.ID, storage.ReportFailed)
	if r.ErrorKind != string(apperr.KindGenerationTimeout) || r.ErrorMessage == nil {
		t.Fatalf("expected generation_timeout, got %q", r.ErrorKind)
	}
}

func TestCancelGeneratingReport(t *testing.T) {
	mem := memory.New()
	seed(mem)
	data := &blockingData{DataStore: mem.GetDataStore(), entered: make(chan struct{}, 1)}
	env := newEnv(t, data, false, time.Minute)
	ctx := context.Background()

	req := revenueRequest()
	req.Type = storage.ReportTypeAppointmentSummary
	created, err := env.svc.Create(ctx, agent, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	<-data.entered

	if _, err := env.svc.Cancel(ctx, other, created.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("other users must not see the report, got %v", err)
	}
	dto, err := env.svc.Cancel(ctx, agent, created.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if dto.Status != storage.ReportFailed || dto.ErrorKind != string(apperr.KindCancelledByUser) {
		t.Fatalf("unexpected cancelled report %+v", dto)
	}
	env.svc.Wait()

	r, _ := env.mem.GetReportsStorage().GetReport(ctx, created.ID)
	if r.Status != storage.ReportFailed || r.ErrorKind != string(apperr.KindCancelledByUser) {
		t.Fatalf("worker must not overwrite the cancellation: %+v", r)
	}

	if _, err := env.svc.Cancel(ctx, agent, created.ID); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("expected invalid_transition on terminal report, got %v", err)
	}
}

func TestDownloadRequiresCompletedAndRedirectsWithBlob(t *testing.T) {
	env := newEnv(t, nil, true, time.Minute)
	h := NewHandlers(env.svc)
	ctx := context.Background()

	pending := &storage.Report{Title: "p", Type: storage.ReportTypeRevenueAnalysis, GeneratedBy: "agent-1", Parameters: json.RawMessage(`{}`)}
	env.mem.GetReportsStorage().CreateReport(ctx, pending)
	rr := call(h.HandleDownload, http.MethodGet, "/v1/reports/x/download", nil, agent, pending.ID.String())
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending report, got %d", rr.Code)
	}

	created, err := env.svc.Create(ctx, agent, revenueRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.svc.Wait()
	r := waitStatus(t, env, created.ID, storage.ReportCompleted)
	if r.FilePath == nil || len(r.Data) != 0 {
		t.Fatalf("blob mode must store a key, not bytes: %+v", r)
	}
	if _, err := env.blob.GetObject(ctx, *r.FilePath); err != nil {
		t.Fatalf("object not uploaded: %v", err)
	}

	rr = call(h.HandleDownload, http.MethodGet, "/v1/reports/x/download", nil, agent, created.ID.String())
	if rr.Code != http.StatusFound || !strings.HasPrefix(rr.Header().Get("Location"), "memory://") {
		t.Fatalf("expected redirect to presigned url, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestListFiltersAndSort(t *testing.T) {
	env := newEnv(t, nil, false, time.Minute)
	h := NewHandlers(env.svc)
	ctx := context.Background()
	store := env.mem.GetReportsStorage()

	for _, r := range []*storage.Report{
		{Title: "Alpha revenue", Type: storage.ReportTypeRevenueAnalysis, GeneratedBy: "agent-1"},
		{Title: "Beta bookings", Type: storage.ReportTypeAppointmentSummary, GeneratedBy: "agent-1"},
		{Title: "Gamma", Type: storage.ReportTypeRevenueAnalysis, GeneratedBy: "agent-2"},
	} {
		store.CreateReport(ctx, r)
	}

	rr := call(h.HandleList, http.MethodGet, "/v1/reports?sortBy=title&sortOrder=asc", nil, agent, "")
	var resp ReportsResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Total != 2 || resp.Reports[0].Title != "Alpha revenue" {
		t.Fatalf("unexpected list %+v", resp)
	}

	rr = call(h.HandleList, http.MethodGet, "/v1/reports?type=REVENUE_ANALYSIS", nil, admin, "")
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Total != 2 {
		t.Fatalf("admin should see both revenue reports, got %d", resp.Total)
	}

	rr = call(h.HandleList, http.MethodGet, "/v1/reports?search=beta", nil, agent, "")
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Total != 1 || resp.Reports[0].Title != "Beta bookings" {
		t.Fatalf("search should match one report, got %+v", resp.Reports)
	}

	rr = call(h.HandleList, http.MethodGet, "/v1/reports?sortBy=fileSize", nil, agent, "")
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), string(apperr.KindInvalidSortField)) {
		t.Fatalf("expected invalid_sort_field, got %d %s", rr.Code, rr.Body.String())
	}

	rr = call(h.HandleList, http.MethodGet, "/v1/reports?status=DONE&createdFrom=yesterday", nil, agent, "")
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "createdFrom") || !strings.Contains(rr.Body.String(), `"status"`) {
		t.Fatalf("expected every bad filter reported, got %s", rr.Body.String())
	}
}

func TestCancelScheduledReportClearsSchedule(t *testing.T) {
	env := newEnv(t, nil, false, time.Minute)
	ctx := context.Background()

	next := time.Now().Add(time.Hour)
	r, err := env.svc.CreateScheduled(ctx, agent, revenueRequest(), next)
	if err != nil {
		t.Fatalf("create scheduled: %v", err)
	}
	sch := &storage.ReportSchedule{ReportID: r.ID, Frequency: "daily", IsActive: true, NextRunAt: &next, CreatedBy: "agent-1"}
	if err := env.mem.GetSchedulesStorage().CreateSchedule(ctx, sch); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	dto, err := env.svc.Cancel(ctx, agent, r.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if dto.Status != storage.ReportPending || dto.ScheduledAt != nil {
		t.Fatalf("scheduled cancel keeps status and clears scheduledAt: %+v", dto)
	}
	got, _ := env.mem.GetSchedulesStorage().GetSchedule(ctx, sch.ID)
	if got.IsActive || got.CancelledAt == nil {
		t.Fatalf("schedule should be deactivated: %+v", got)
	}
}

func TestEstimateSeconds(t *testing.T) {
	p, err := aggregation.DecodeParameters(storage.ReportTypeRevenueAnalysis,
		json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31","includeCharts":true,"format":"pdf"}`), 365)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 8 base + 5 weeks + 3 charts + 4 pdf
	if got := EstimateSeconds(p); got != 20 {
		t.Fatalf("expected 20 seconds, got %d", got)
	}
}
