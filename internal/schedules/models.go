package schedules

import (
	"encoding/json"
	"time"

	"github.com/carelink/agent-portal/internal/recurrence"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

// upcomingRuns is the number of future runs listed on a schedule.
const upcomingRuns = 3

// ScheduleReportRequest creates a report together with its recurrence.
type ScheduleReportRequest struct {
	Title         string              `json:"title"`
	Type          storage.ReportType  `json:"type"`
	Description   string              `json:"description"`
	Parameters    json.RawMessage     `json:"parameters"`
	TemplateID    *uuid.UUID          `json:"templateId"`
	GeneratedByID string              `json:"generatedById"`
	Schedule      recurrence.Schedule `json:"schedule"`
	Recipients    []storage.Recipient `json:"recipients"`
	StartDate     string              `json:"startDate"`
	EndDate       *string             `json:"endDate"`
}

type ScheduleReportResponse struct {
	ID          uuid.UUID `json:"id"`
	ReportID    uuid.UUID `json:"reportId"`
	NextRunTime time.Time `json:"nextRunTime"`
}

// UpdateScheduleRequest is a partial update; nil fields are left unchanged.
type UpdateScheduleRequest struct {
	Frequency  *recurrence.Frequency `json:"frequency"`
	DayOfWeek  *int                  `json:"dayOfWeek"`
	DayOfMonth *int                  `json:"dayOfMonth"`
	Hour       *int                  `json:"hour"`
	Minute     *int                  `json:"minute"`
	Timezone   *string               `json:"timezone"`
	Recipients []storage.Recipient   `json:"recipients"`
	EndDate    *string               `json:"endDate"`
	IsActive   *bool                 `json:"isActive"`
}

type ScheduleDTO struct {
	ID                uuid.UUID           `json:"id"`
	ReportID          uuid.UUID           `json:"reportId"`
	Frequency         string              `json:"frequency"`
	DayOfWeek         *int                `json:"dayOfWeek,omitempty"`
	DayOfMonth        *int                `json:"dayOfMonth,omitempty"`
	Hour              int                 `json:"hour"`
	Minute            int                 `json:"minute"`
	Timezone          string              `json:"timezone"`
	IsActive          bool                `json:"isActive"`
	Recipients        []storage.Recipient `json:"recipients"`
	StartDate         time.Time           `json:"startDate"`
	EndDate           *time.Time          `json:"endDate,omitempty"`
	NextRunAt         *time.Time          `json:"nextRunAt"`
	LastRunAt         *time.Time          `json:"lastRunAt"`
	LastSuccessfulRun *time.Time          `json:"lastSuccessfulRun"`
	RunCount          int                 `json:"runCount"`
	FailureCount      int                 `json:"failureCount"`
	CreatedBy         string              `json:"createdBy"`
	CancelledAt       *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	IsOverdue         bool                `json:"isOverdue"`
	Upcoming          []time.Time         `json:"upcoming,omitempty"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleDTO `json:"schedules"`
	Total     int           `json:"total"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

type RunNowResponse struct {
	ReportID uuid.UUID            `json:"reportId"`
	Status   storage.ReportStatus `json:"status"`
	From     string               `json:"dateFrom,omitempty"`
	To       string               `json:"dateTo,omitempty"`
}

// DispatchResult counts what one dispatch pass did.
type DispatchResult struct {
	Triggered   int `json:"triggered"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
}

func ruleOf(s *storage.ReportSchedule) recurrence.Schedule {
	return recurrence.Schedule{
		Frequency:  recurrence.Frequency(s.Frequency),
		DayOfWeek:  s.DayOfWeek,
		DayOfMonth: s.DayOfMonth,
		Hour:       s.Hour,
		Minute:     s.Minute,
		Timezone:   s.Timezone,
		IsActive:   s.IsActive,
	}
}

func toDTO(s *storage.ReportSchedule, now time.Time) ScheduleDTO {
	dto := ScheduleDTO{
		ID:                s.ID,
		ReportID:          s.ReportID,
		Frequency:         s.Frequency,
		DayOfWeek:         s.DayOfWeek,
		DayOfMonth:        s.DayOfMonth,
		Hour:              s.Hour,
		Minute:            s.Minute,
		Timezone:          s.Timezone,
		IsActive:          s.IsActive,
		Recipients:        s.Recipients,
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		NextRunAt:         s.NextRunAt,
		LastRunAt:         s.LastRunAt,
		LastSuccessfulRun: s.LastSuccessfulRun,
		RunCount:          s.RunCount,
		FailureCount:      s.FailureCount,
		CreatedBy:         s.CreatedBy,
		CancelledAt:       s.CancelledAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if dto.Recipients == nil {
		dto.Recipients = []storage.Recipient{}
	}

	dto.IsOverdue = isOverdue(s, now)

	if s.IsActive && s.NextRunAt != nil {
		// NextRun is strictly after its input, so back off a nanosecond to include NextRunAt.
		upcoming, err := recurrence.Upcoming(ruleOf(s), s.NextRunAt.Add(-time.Nanosecond), upcomingRuns)
		if err == nil {
			for _, t := range upcoming {
				if s.EndDate != nil && t.After(*s.EndDate) {
					break
				}
				dto.Upcoming = append(dto.Upcoming, t.UTC())
			}
		}
	}
	return dto
}

// isOverdue measures from the last run, or from the later of creation and the
// start date for a schedule that has not run yet. A stored next run still in
// the future is never overdue.
func isOverdue(s *storage.ReportSchedule, now time.Time) bool {
	if s.IsActive && s.NextRunAt != nil && !now.After(*s.NextRunAt) {
		return false
	}
	lastKnown := s.CreatedAt
	if s.LastRunAt != nil {
		lastKnown = *s.LastRunAt
	} else if !s.StartDate.IsZero() {
		// A run at exactly StartDate counts as due.
		if beforeStart := s.StartDate.Add(-time.Nanosecond); beforeStart.After(lastKnown) {
			lastKnown = beforeStart
		}
	}
	return recurrence.IsOverdue(ruleOf(s), lastKnown, now)
}
