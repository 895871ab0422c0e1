package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

// ReportsMemoryStorage is the in-memory report store.
type ReportsMemoryStorage struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*storage.Report
}

func NewReportsMemoryStorage() *ReportsMemoryStorage {
	return &ReportsMemoryStorage{
		reports: make(map[uuid.UUID]*storage.Report),
	}
}

func (s *ReportsMemoryStorage) CreateReport(ctx context.Context, report *storage.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if report.Status == "" {
		report.Status = storage.ReportPending
	}
	now := time.Now().UTC()
	report.CreatedAt = now
	report.UpdatedAt = now

	clone := cloneReport(report)
	s.reports[report.ID] = &clone
	return nil
}

func (s *ReportsMemoryStorage) GetReport(ctx context.Context, id uuid.UUID) (*storage.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("report")
	}
	clone := cloneReport(r)
	return &clone, nil
}

func (s *ReportsMemoryStorage) ListReports(ctx context.Context, f storage.ReportFilter) ([]storage.Report, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	var filtered []storage.Report
	for _, r := range s.reports {
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.GeneratedBy != "" && r.GeneratedBy != f.GeneratedBy {
			continue
		}
		if f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && r.CreatedAt.After(*f.CreatedTo) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(r.Title), search) &&
			!strings.Contains(strings.ToLower(r.Description), search) {
			continue
		}
		clone := cloneReport(r)
		clone.Data = nil
		filtered = append(filtered, clone)
	}

	sortReports(filtered, f.SortBy, f.SortDesc)
	total := len(filtered)
	return paginate(filtered, f.Limit, f.Offset), total, nil
}

func (s *ReportsMemoryStorage) TransitionReport(ctx context.Context, id uuid.UUID, from, to storage.ReportStatus, patch storage.ReportPatch) (*storage.Report, error) {
	if err := storage.CheckTransition(from, to); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("report")
	}
	if r.Status != from {
		return nil, storage.StaleTransition(from, r.Status)
	}

	now := time.Now().UTC()
	r.Status = to
	r.UpdatedAt = now
	switch {
	case to == storage.ReportGenerating:
		r.StartedAt = &now
	case to.Terminal():
		r.CompletedAt = &now
	}
	applyReportPatch(r, patch)

	clone := cloneReport(r)
	return &clone, nil
}

func (s *ReportsMemoryStorage) ResetReportForRun(ctx context.Context, id uuid.UUID, parameters json.RawMessage) (*storage.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.NotFound("report")
	}
	if !r.Status.Rerunnable() && r.Status != storage.ReportPending {
		return nil, apperr.Newf(apperr.KindInvalidTransition, "report is %s and cannot be re-run", r.Status)
	}

	r.Status = storage.ReportPending
	if len(parameters) > 0 {
		r.Parameters = append(json.RawMessage(nil), parameters...)
	}
	r.StartedAt = nil
	r.CompletedAt = nil
	r.FilePath = nil
	r.FileName = ""
	r.ContentType = ""
	r.FileSize = 0
	r.RecordCount = 0
	r.ErrorKind = ""
	r.ErrorMessage = nil
	r.Data = nil
	r.UpdatedAt = time.Now().UTC()

	clone := cloneReport(r)
	return &clone, nil
}

func (s *ReportsMemoryStorage) SetScheduledAt(ctx context.Context, id uuid.UUID, scheduledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return apperr.NotFound("report")
	}
	r.ScheduledAt = copyTime(scheduledAt)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func applyReportPatch(r *storage.Report, p storage.ReportPatch) {
	if p.FilePath != nil {
		v := *p.FilePath
		r.FilePath = &v
	}
	if p.FileName != "" {
		r.FileName = p.FileName
	}
	if p.ContentType != "" {
		r.ContentType = p.ContentType
	}
	if p.FileSize > 0 {
		r.FileSize = p.FileSize
	}
	if p.RecordCount > 0 {
		r.RecordCount = p.RecordCount
	}
	if p.ErrorKind != "" {
		r.ErrorKind = p.ErrorKind
	}
	if p.ErrorMessage != nil {
		v := *p.ErrorMessage
		r.ErrorMessage = &v
	}
	if p.Data != nil {
		r.Data = append([]byte(nil), p.Data...)
	}
	if p.ClearSchedule {
		r.ScheduledAt = nil
	}
}

func sortReports(reports []storage.Report, sortBy string, desc bool) {
	key := func(r storage.Report) (string, time.Time) {
		switch sortBy {
		case "title":
			return strings.ToLower(r.Title), time.Time{}
		case "type":
			return string(r.Type), time.Time{}
		case "status":
			return string(r.Status), time.Time{}
		case "updatedAt":
			return "", r.UpdatedAt
		case "completedAt":
			return "", derefTime(r.CompletedAt)
		case "scheduledAt":
			return "", derefTime(r.ScheduledAt)
		default:
			return "", r.CreatedAt
		}
	}

	sort.SliceStable(reports, func(i, j int) bool {
		si, ti := key(reports[i])
		sj, tj := key(reports[j])
		var less bool
		if si != sj {
			less = si < sj
		} else if !ti.Equal(tj) {
			less = ti.Before(tj)
		} else {
			less = reports[i].ID.String() < reports[j].ID.String()
		}
		if desc {
			return !less
		}
		return less
	})
}

func cloneReport(r *storage.Report) storage.Report {
	c := *r
	c.Parameters = append(json.RawMessage(nil), r.Parameters...)
	c.ScheduledAt = copyTime(r.ScheduledAt)
	c.StartedAt = copyTime(r.StartedAt)
	c.CompletedAt = copyTime(r.CompletedAt)
	if r.TemplateID != nil {
		id := *r.TemplateID
		c.TemplateID = &id
	}
	if r.FilePath != nil {
		v := *r.FilePath
		c.FilePath = &v
	}
	if r.ErrorMessage != nil {
		v := *r.ErrorMessage
		c.ErrorMessage = &v
	}
	if r.Data != nil {
		c.Data = append([]byte(nil), r.Data...)
	}
	return c
}
