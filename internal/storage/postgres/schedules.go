package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresSchedulesStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresSchedulesStorage(pool *pgxpool.Pool) *PostgresSchedulesStorage {
	return &PostgresSchedulesStorage{pool: pool}
}

const scheduleColumns = `id, report_id, frequency, day_of_week, day_of_month, hour, minute, timezone,
	is_active, recipients, start_date, end_date, next_run_at, last_run_at, last_successful_run,
	run_count, failure_count, created_by, cancelled_at, created_at, updated_at`

func scanSchedule(row pgx.Row, extra ...any) (*storage.ReportSchedule, error) {
	var sch storage.ReportSchedule
	var recipients []byte
	dest := []any{
		&sch.ID, &sch.ReportID, &sch.Frequency, &sch.DayOfWeek, &sch.DayOfMonth, &sch.Hour, &sch.Minute, &sch.Timezone,
		&sch.IsActive, &recipients, &sch.StartDate, &sch.EndDate, &sch.NextRunAt, &sch.LastRunAt, &sch.LastSuccessfulRun,
		&sch.RunCount, &sch.FailureCount, &sch.CreatedBy, &sch.CancelledAt, &sch.CreatedAt, &sch.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &sch.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients: %w", err)
		}
	}
	return &sch, nil
}

func encodeRecipients(recipients []storage.Recipient) (string, error) {
	if recipients == nil {
		recipients = []storage.Recipient{}
	}
	raw, err := json.Marshal(recipients)
	if err != nil {
		return "", fmt.Errorf("encode recipients: %w", err)
	}
	return string(raw), nil
}

func (s *PostgresSchedulesStorage) CreateSchedule(ctx context.Context, sch *storage.ReportSchedule) error {
	if sch.ID == uuid.Nil {
		sch.ID = uuid.New()
	}
	recipients, err := encodeRecipients(sch.Recipients)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO report_schedules (
			id, report_id, frequency, day_of_week, day_of_month, hour, minute, timezone,
			is_active, recipients, start_date, end_date, next_run_at, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		sch.ID,
		sch.ReportID,
		sch.Frequency,
		sch.DayOfWeek,
		sch.DayOfMonth,
		sch.Hour,
		sch.Minute,
		sch.Timezone,
		sch.IsActive,
		recipients,
		sch.StartDate,
		sch.EndDate,
		sch.NextRunAt,
		sch.CreatedBy,
	).Scan(&sch.CreatedAt, &sch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (s *PostgresSchedulesStorage) GetSchedule(ctx context.Context, id uuid.UUID) (*storage.ReportSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM report_schedules WHERE id = $1`
	sch, err := scanSchedule(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "schedule")
	}
	return sch, nil
}

func (s *PostgresSchedulesStorage) GetScheduleByReport(ctx context.Context, reportID uuid.UUID) (*storage.ReportSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM report_schedules WHERE report_id = $1`
	sch, err := scanSchedule(s.pool.QueryRow(ctx, query, reportID))
	if err != nil {
		return nil, notFound(err, "schedule")
	}
	return sch, nil
}

func (s *PostgresSchedulesStorage) ListSchedules(ctx context.Context, f storage.ScheduleFilter) ([]storage.ReportSchedule, int, error) {
	var c conditions
	if f.CreatedBy != "" {
		c.add("created_by = $%d", f.CreatedBy)
	}
	if f.ActiveOnly {
		c.raw("is_active")
	}

	filterArgs := len(c.args)
	query := `SELECT ` + scheduleColumns + `, COUNT(*) OVER () FROM report_schedules` + c.where() +
		` ORDER BY created_at DESC, id` + c.page(f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	out := []storage.ReportSchedule{}
	total := 0
	for rows.Next() {
		sch, err := scanSchedule(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *sch)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(out) == 0 && f.Offset > 0 {
		countQuery := `SELECT COUNT(*) FROM report_schedules` + c.where()
		if err := s.pool.QueryRow(ctx, countQuery, c.args[:filterArgs]...).Scan(&total); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (s *PostgresSchedulesStorage) UpdateSchedule(ctx context.Context, sch *storage.ReportSchedule) error {
	recipients, err := encodeRecipients(sch.Recipients)
	if err != nil {
		return err
	}

	query := `
		UPDATE report_schedules SET
			frequency           = $2,
			day_of_week         = $3,
			day_of_month        = $4,
			hour                = $5,
			minute              = $6,
			timezone            = $7,
			is_active           = $8,
			recipients          = $9::jsonb,
			start_date          = $10,
			end_date            = $11,
			next_run_at         = $12,
			last_run_at         = $13,
			last_successful_run = $14,
			run_count           = $15,
			failure_count       = $16,
			cancelled_at        = $17,
			updated_at          = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		sch.ID,
		sch.Frequency,
		sch.DayOfWeek,
		sch.DayOfMonth,
		sch.Hour,
		sch.Minute,
		sch.Timezone,
		sch.IsActive,
		recipients,
		sch.StartDate,
		sch.EndDate,
		sch.NextRunAt,
		sch.LastRunAt,
		sch.LastSuccessfulRun,
		sch.RunCount,
		sch.FailureCount,
		sch.CancelledAt,
	).Scan(&sch.UpdatedAt)
	if err != nil {
		return notFound(err, "schedule")
	}
	return nil
}

func (s *PostgresSchedulesStorage) DueSchedules(ctx context.Context, before time.Time, limit int) ([]storage.ReportSchedule, error) {
	c := conditions{}
	c.raw("is_active")
	c.raw("next_run_at IS NOT NULL")
	c.add("next_run_at <= $%d", before)

	query := `SELECT ` + scheduleColumns + ` FROM report_schedules` + c.where() +
		` ORDER BY next_run_at, id` + c.page(limit, 0)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()

	due := []storage.ReportSchedule{}
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		due = append(due, *sch)
	}
	return due, rows.Err()
}

// ClaimRun is a compare-and-set on next_run_at. A nil next deactivates the
// schedule in the same statement.
func (s *PostgresSchedulesStorage) ClaimRun(ctx context.Context, id uuid.UUID, expected time.Time, ranAt time.Time, next *time.Time) (bool, error) {
	query := `
		UPDATE report_schedules SET
			last_run_at = $3,
			run_count   = run_count + 1,
			next_run_at = $4::timestamptz,
			is_active   = ($4::timestamptz IS NOT NULL),
			updated_at  = NOW()
		WHERE id = $1 AND is_active AND next_run_at = $2
	`
	tag, err := s.pool.Exec(ctx, query, id, expected, ranAt, next)
	if err != nil {
		return false, fmt.Errorf("claim schedule run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM report_schedules WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, apperr.NotFound("schedule")
	}
	return false, nil
}

func (s *PostgresSchedulesStorage) RecordRunOutcome(ctx context.Context, id uuid.UUID, succeeded bool, at time.Time) error {
	query := `
		UPDATE report_schedules SET
			last_successful_run = CASE WHEN $2 THEN $3 ELSE last_successful_run END,
			failure_count       = CASE WHEN $2 THEN failure_count ELSE failure_count + 1 END,
			updated_at          = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, succeeded, at)
	if err != nil {
		return fmt.Errorf("record run outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule")
	}
	return nil
}
