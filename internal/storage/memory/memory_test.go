package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newPendingReport(t *testing.T, s *ReportsMemoryStorage, title string) *storage.Report {
	t.Helper()
	r := &storage.Report{
		Title:       title,
		Type:        storage.ReportTypeRevenueAnalysis,
		Parameters:  []byte(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31"}`),
		GeneratedBy: "agent-1",
	}
	if err := s.CreateReport(context.Background(), r); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	return r
}

func TestReportLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewReportsMemoryStorage()
	r := newPendingReport(t, s, "January revenue")

	if r.Status != storage.ReportPending {
		t.Fatalf("expected PENDING, got %s", r.Status)
	}

	if _, err := s.TransitionReport(ctx, r.ID, storage.ReportPending, storage.ReportCompleted, storage.ReportPatch{}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("PENDING -> COMPLETED should fail, got %v", err)
	}

	got, err := s.TransitionReport(ctx, r.ID, storage.ReportPending, storage.ReportGenerating, storage.ReportPatch{})
	if err != nil {
		t.Fatalf("PENDING -> GENERATING: %v", err)
	}
	if got.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	got, err = s.TransitionReport(ctx, r.ID, storage.ReportGenerating, storage.ReportCompleted, storage.ReportPatch{
		FileName:    "report.csv",
		FileSize:    42,
		RecordCount: 3,
		Data:        []byte("a,b"),
	})
	if err != nil {
		t.Fatalf("GENERATING -> COMPLETED: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if got.FileSize != 42 || got.RecordCount != 3 || got.FileName != "report.csv" {
		t.Errorf("patch not applied: %+v", got)
	}

	if _, err := s.TransitionReport(ctx, r.ID, storage.ReportCompleted, storage.ReportGenerating, storage.ReportPatch{}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("COMPLETED -> GENERATING should fail, got %v", err)
	}

	reset, err := s.ResetReportForRun(ctx, r.ID, nil)
	if err != nil {
		t.Fatalf("ResetReportForRun: %v", err)
	}
	if reset.Status != storage.ReportPending || reset.CompletedAt != nil || reset.Data != nil {
		t.Errorf("reset did not clear run state: %+v", reset)
	}
}

func TestTransitionReportIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewReportsMemoryStorage()
	r := newPendingReport(t, s, "race")

	var wg sync.WaitGroup
	wins := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TransitionReport(ctx, r.ID, storage.ReportPending, storage.ReportGenerating, storage.ReportPatch{}); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestListReportsFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := NewReportsMemoryStorage()
	newPendingReport(t, s, "Bravo revenue")
	newPendingReport(t, s, "Alpha revenue")
	other := &storage.Report{Title: "Charlie", Type: storage.ReportTypeAgentPerformance, GeneratedBy: "agent-2"}
	if err := s.CreateReport(ctx, other); err != nil {
		t.Fatal(err)
	}

	items, total, err := s.ListReports(ctx, storage.ReportFilter{GeneratedBy: "agent-1", SortBy: "title"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 reports, got total=%d len=%d", total, len(items))
	}
	if items[0].Title != "Alpha revenue" {
		t.Errorf("expected Alpha first, got %s", items[0].Title)
	}

	items, total, err = s.ListReports(ctx, storage.ReportFilter{Search: "charl", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].ID != other.ID {
		t.Errorf("search did not match Charlie: %+v", items)
	}

	items, total, err = s.ListReports(ctx, storage.ReportFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 1 {
		t.Errorf("pagination: total=%d len=%d", total, len(items))
	}
}

func TestClaimRunOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewSchedulesMemoryStorage()
	due := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	next := due.AddDate(0, 0, 7)
	sch := &storage.ReportSchedule{
		ReportID:  uuid.New(),
		Frequency: "weekly",
		IsActive:  true,
		NextRunAt: &due,
	}
	if err := s.CreateSchedule(ctx, sch); err != nil {
		t.Fatal(err)
	}

	list, err := s.DueSchedules(ctx, due, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 due schedule, got %d", len(list))
	}

	ok, err := s.ClaimRun(ctx, sch.ID, due, due, &next)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = s.ClaimRun(ctx, sch.ID, due, due, &next)
	if err != nil || ok {
		t.Fatalf("second claim should lose: ok=%v err=%v", ok, err)
	}

	got, err := s.GetSchedule(ctx, sch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunCount != 1 || !got.NextRunAt.Equal(next) {
		t.Errorf("unexpected schedule state: runCount=%d next=%v", got.RunCount, got.NextRunAt)
	}

	if err := s.RecordRunOutcome(ctx, sch.ID, false, due); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSchedule(ctx, sch.ID)
	if got.FailureCount != 1 || got.LastSuccessfulRun != nil {
		t.Errorf("failure not recorded: %+v", got)
	}
}

func TestFinishExportJob(t *testing.T) {
	ctx := context.Background()
	s := NewExportsMemoryStorage()
	job := &storage.ExportJob{EntityType: "appointments", Format: "csv", RequestedBy: "agent-1"}
	if err := s.CreateExportJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	done, err := s.FinishExportJob(ctx, job.ID, storage.ExportCompleted, storage.ExportPatch{TotalRecords: 5, FileSize: 120})
	if err != nil {
		t.Fatal(err)
	}
	if done.CompletedAt == nil || done.TotalRecords != 5 {
		t.Errorf("unexpected job: %+v", done)
	}

	if _, err := s.FinishExportJob(ctx, job.ID, storage.ExportFailed, storage.ExportPatch{}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("finishing a completed job should fail, got %v", err)
	}
}

func TestNotificationsPerUser(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationsMemoryStorage()
	for i := 0; i < 3; i++ {
		if err := s.CreateNotification(ctx, &storage.Notification{UserID: "u1", Title: "done", Type: "report_completed"}); err != nil {
			t.Fatal(err)
		}
	}
	foreign := &storage.Notification{UserID: "u2", Title: "other"}
	if err := s.CreateNotification(ctx, foreign); err != nil {
		t.Fatal(err)
	}

	n, _ := s.UnreadCount(ctx, "u1")
	if n != 3 {
		t.Fatalf("expected 3 unread, got %d", n)
	}

	updated, _ := s.MarkRead(ctx, "u1", []uuid.UUID{foreign.ID})
	if updated != 0 {
		t.Errorf("must not mark another user's notification, updated=%d", updated)
	}

	updated, _ = s.MarkAllRead(ctx, "u1")
	if updated != 3 {
		t.Errorf("expected 3 marked, got %d", updated)
	}
	unread, _ := s.ListNotifications(ctx, "u1", true, 0, 0)
	if len(unread) != 0 {
		t.Errorf("expected no unread, got %d", len(unread))
	}
}

func TestDirectoryQueries(t *testing.T) {
	ctx := context.Background()
	d := NewDirectoryMemoryStorage()
	d.SeedUsers(storage.User{ID: "agent-1", Role: "agent"}, storage.User{ID: "admin-1", Role: "admin"})
	d.SeedDoctors(storage.Doctor{ID: "doc-1", HospitalID: "h-1"})
	d.SeedHospitals(storage.Hospital{ID: "h-1"})

	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.SeedAppointments(
		storage.Appointment{ID: "a1", AgentID: "agent-1", ScheduledAt: jan, Fee: decimal.NewFromInt(50)},
		storage.Appointment{ID: "a2", AgentID: "agent-1", ScheduledAt: jan.AddDate(0, 1, 0)},
	)

	got, err := d.ListAppointments(ctx, storage.AppointmentQuery{From: jan, To: jan.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Errorf("range must be half-open, got %+v", got)
	}

	missing, err := d.MissingIDs(ctx, storage.EntityAgent, []string{"agent-1", "admin-1", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 || missing[0] != "admin-1" || missing[1] != "ghost" {
		t.Errorf("unexpected missing ids: %v", missing)
	}
}
