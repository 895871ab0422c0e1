package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

type SchedulesMemoryStorage struct {
	mu        sync.RWMutex
	schedules map[uuid.UUID]*storage.ReportSchedule
}

func NewSchedulesMemoryStorage() *SchedulesMemoryStorage {
	return &SchedulesMemoryStorage{
		schedules: make(map[uuid.UUID]*storage.ReportSchedule),
	}
}

func (s *SchedulesMemoryStorage) CreateSchedule(ctx context.Context, sch *storage.ReportSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sch.ID == uuid.Nil {
		sch.ID = uuid.New()
	}
	now := time.Now().UTC()
	sch.CreatedAt = now
	sch.UpdatedAt = now

	clone := cloneSchedule(sch)
	s.schedules[sch.ID] = &clone
	return nil
}

func (s *SchedulesMemoryStorage) GetSchedule(ctx context.Context, id uuid.UUID) (*storage.ReportSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sch, ok := s.schedules[id]
	if !ok {
		return nil, apperr.NotFound("schedule")
	}
	clone := cloneSchedule(sch)
	return &clone, nil
}

func (s *SchedulesMemoryStorage) GetScheduleByReport(ctx context.Context, reportID uuid.UUID) (*storage.ReportSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sch := range s.schedules {
		if sch.ReportID == reportID {
			clone := cloneSchedule(sch)
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("schedule")
}

func (s *SchedulesMemoryStorage) ListSchedules(ctx context.Context, f storage.ScheduleFilter) ([]storage.ReportSchedule, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.ReportSchedule
	for _, sch := range s.schedules {
		if f.CreatedBy != "" && sch.CreatedBy != f.CreatedBy {
			continue
		}
		if f.ActiveOnly && !sch.IsActive {
			continue
		}
		out = append(out, cloneSchedule(sch))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	return paginate(out, f.Limit, f.Offset), total, nil
}

func (s *SchedulesMemoryStorage) UpdateSchedule(ctx context.Context, sch *storage.ReportSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sch.ID]; !ok {
		return apperr.NotFound("schedule")
	}
	sch.UpdatedAt = time.Now().UTC()
	clone := cloneSchedule(sch)
	s.schedules[sch.ID] = &clone
	return nil
}

func (s *SchedulesMemoryStorage) DueSchedules(ctx context.Context, before time.Time, limit int) ([]storage.ReportSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []storage.ReportSchedule
	for _, sch := range s.schedules {
		if !sch.IsActive || sch.NextRunAt == nil || sch.NextRunAt.After(before) {
			continue
		}
		due = append(due, cloneSchedule(sch))
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})
	return paginate(due, limit, 0), nil
}

func (s *SchedulesMemoryStorage) ClaimRun(ctx context.Context, id uuid.UUID, expected time.Time, ranAt time.Time, next *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.schedules[id]
	if !ok {
		return false, apperr.NotFound("schedule")
	}
	if !sch.IsActive || sch.NextRunAt == nil || !sch.NextRunAt.Equal(expected) {
		return false, nil
	}

	sch.LastRunAt = &ranAt
	sch.RunCount++
	sch.NextRunAt = copyTime(next)
	if next == nil {
		sch.IsActive = false
	}
	sch.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *SchedulesMemoryStorage) RecordRunOutcome(ctx context.Context, id uuid.UUID, succeeded bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.schedules[id]
	if !ok {
		return apperr.NotFound("schedule")
	}
	if succeeded {
		sch.LastSuccessfulRun = &at
	} else {
		sch.FailureCount++
	}
	sch.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneSchedule(sch *storage.ReportSchedule) storage.ReportSchedule {
	c := *sch
	c.Recipients = append([]storage.Recipient(nil), sch.Recipients...)
	if sch.DayOfWeek != nil {
		v := *sch.DayOfWeek
		c.DayOfWeek = &v
	}
	if sch.DayOfMonth != nil {
		v := *sch.DayOfMonth
		c.DayOfMonth = &v
	}
	c.EndDate = copyTime(sch.EndDate)
	c.NextRunAt = copyTime(sch.NextRunAt)
	c.LastRunAt = copyTime(sch.LastRunAt)
	c.LastSuccessfulRun = copyTime(sch.LastSuccessfulRun)
	c.CancelledAt = copyTime(sch.CancelledAt)
	return c
}
