// Package recurrence computes run times for report schedules.
//
// A schedule fires at Hour:Minute in its own timezone, once per period.
// NextRun never returns an instant at or before the instant it was asked about.
package recurrence

import (
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
)

type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

var Frequencies = []Frequency{Daily, Weekly, Monthly, Quarterly, Yearly}

func (f Frequency) Valid() bool {
	for _, known := range Frequencies {
		if f == known {
			return true
		}
	}
	return false
}

// Schedule is the recurrence rule of a scheduled report.
// DayOfWeek is only read for weekly schedules and DayOfMonth only for monthly ones.
type Schedule struct {
	Frequency  Frequency `json:"frequency"`
	DayOfWeek  *int      `json:"dayOfWeek,omitempty"`
	DayOfMonth *int      `json:"dayOfMonth,omitempty"`
	Hour       int       `json:"hour"`
	Minute     int       `json:"minute"`
	Timezone   string    `json:"timezone,omitempty"`
	IsActive   bool      `json:"isActive"`
}

// Validate reports every violated field at once as an invalid_schedule error.
func (s Schedule) Validate() error {
	var fields []apperr.FieldError
	add := func(field, msg string) {
		fields = append(fields, apperr.FieldError{Field: field, Message: msg})
	}

	if !s.Frequency.Valid() {
		add("frequency", "must be one of daily, weekly, monthly, quarterly, yearly")
	}
	if s.Frequency == Weekly {
		switch {
		case s.DayOfWeek == nil:
			add("dayOfWeek", "is required for weekly schedules")
		case *s.DayOfWeek < 0 || *s.DayOfWeek > 6:
			add("dayOfWeek", "must be between 0 and 6")
		}
	}
	if s.Frequency == Monthly {
		switch {
		case s.DayOfMonth == nil:
			add("dayOfMonth", "is required for monthly schedules")
		case *s.DayOfMonth < 1 || *s.DayOfMonth > 31:
			add("dayOfMonth", "must be between 1 and 31")
		}
	}
	if s.Hour < 0 || s.Hour > 23 {
		add("hour", "must be between 0 and 23")
	}
	if s.Minute < 0 || s.Minute > 59 {
		add("minute", "must be between 0 and 59")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		add("timezone", "unknown timezone "+s.Timezone)
	}

	if len(fields) > 0 {
		return apperr.WithFields(apperr.KindInvalidSchedule, "invalid schedule", fields)
	}
	return nil
}

// Location returns the schedule's timezone, UTC when unset.
func (s Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// NextRun returns the first run strictly after from.
func NextRun(s Schedule, from time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}

	f := from.In(loc)
	y, m, d := f.Date()
	at := func(year int, month time.Month, day int) time.Time {
		return time.Date(year, month, day, s.Hour, s.Minute, 0, 0, loc)
	}
	candidate := at(y, m, d)
	passed := !candidate.After(f)

	switch s.Frequency {
	case Daily:
		if passed {
			candidate = at(y, m, d+1)
		}

	case Weekly:
		dist := (*s.DayOfWeek - int(candidate.Weekday()) + 7) % 7
		if dist == 0 && passed {
			dist = 7
		}
		candidate = at(y, m, d+dist)

	case Monthly:
		candidate = at(y, m, clampDay(y, m, *s.DayOfMonth))
		if !candidate.After(f) {
			ny, nm := addMonths(y, m, 1)
			candidate = at(ny, nm, clampDay(ny, nm, *s.DayOfMonth))
		}

	case Quarterly:
		if passed {
			ny, nm := addMonths(y, m, 3)
			candidate = at(ny, nm, 1)
		}

	case Yearly:
		if passed {
			candidate = at(y+1, time.January, 1)
		}
	}

	// DST gaps can pull a wall-clock time backwards; never hand out a past run.
	for !candidate.After(from) {
		candidate = candidate.Add(time.Hour)
	}
	return candidate, nil
}

// Upcoming returns the next n run times after from.
func Upcoming(s Schedule, from time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	cursor := from
	for i := 0; i < n; i++ {
		next, err := NextRun(s, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

// IsOverdue is true when an active schedule should have run since lastRun.
func IsOverdue(s Schedule, lastRun, now time.Time) bool {
	if !s.IsActive {
		return false
	}
	next, err := NextRun(s, lastRun)
	if err != nil {
		return false
	}
	return now.After(next)
}

// RunWindow returns the inclusive calendar dates covered by a run at runAt:
// the full period that ended just before the run day.
func RunWindow(freq Frequency, runAt time.Time) (from, to time.Time) {
	y, m, d := runAt.Date()
	loc := runAt.Location()
	day := func(year int, month time.Month, dd int) time.Time {
		return time.Date(year, month, dd, 0, 0, 0, 0, loc)
	}

	switch freq {
	case Weekly:
		return day(y, m, d-7), day(y, m, d-1)
	case Monthly:
		return day(y, m-1, 1), day(y, m, 0)
	case Quarterly:
		return day(y, m-3, 1), day(y, m, 0)
	case Yearly:
		return day(y-1, time.January, 1), day(y-1, time.December, 31)
	default:
		return day(y, m, d-1), day(y, m, d-1)
	}
}

// clampDay maps dayOfMonth onto month, using the last day when the month is shorter.
func clampDay(year int, month time.Month, dayOfMonth int) int {
	last := daysIn(year, month)
	if dayOfMonth > last {
		return last
	}
	return dayOfMonth
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func addMonths(year int, month time.Month, n int) (int, time.Month) {
	t := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.Month()
}
