package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresReportsStorage is the Postgres report store. Status changes are
// compare-and-set updates on the status column.
type PostgresReportsStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresReportsStorage(pool *pgxpool.Pool) *PostgresReportsStorage {
	return &PostgresReportsStorage{pool: pool}
}

const reportColumns = `id, title, type, description, parameters, status, generated_by, template_id,
	scheduled_at, started_at, completed_at, file_path, file_name, content_type, file_size,
	record_count, error_kind, error_message, created_at, updated_at`

func scanReport(row pgx.Row, extra ...any) (*storage.Report, error) {
	var r storage.Report
	var params []byte
	dest := []any{
		&r.ID, &r.Title, &r.Type, &r.Description, &params, &r.Status, &r.GeneratedBy, &r.TemplateID,
		&r.ScheduledAt, &r.StartedAt, &r.CompletedAt, &r.FilePath, &r.FileName, &r.ContentType, &r.FileSize,
		&r.RecordCount, &r.ErrorKind, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.Parameters = params
	return &r, nil
}

func (s *PostgresReportsStorage) CreateReport(ctx context.Context, report *storage.Report) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if report.Status == "" {
		report.Status = storage.ReportPending
	}
	params := report.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO reports (id, title, type, description, parameters, status, generated_by, template_id, scheduled_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		report.ID,
		report.Title,
		string(report.Type),
		report.Description,
		string(params),
		string(report.Status),
		report.GeneratedBy,
		report.TemplateID,
		report.ScheduledAt,
	).Scan(&report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetReport includes the inline file bytes; list queries never load them.
func (s *PostgresReportsStorage) GetReport(ctx context.Context, id uuid.UUID) (*storage.Report, error) {
	query := `SELECT ` + reportColumns + `, file_data FROM reports WHERE id = $1`
	var data []byte
	r, err := scanReport(s.pool.QueryRow(ctx, query, id), &data)
	if err != nil {
		return nil, notFound(err, "report")
	}
	r.Data = data
	return r, nil
}

func (s *PostgresReportsStorage) ListReports(ctx context.Context, f storage.ReportFilter) ([]storage.Report, int, error) {
	var c conditions
	if f.Type != "" {
		c.add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		c.add("status = $%d", string(f.Status))
	}
	if f.GeneratedBy != "" {
		c.add("generated_by = $%d", f.GeneratedBy)
	}
	if f.CreatedFrom != nil {
		c.add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		c.add("created_at <= $%d", *f.CreatedTo)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		c.add("(title ILIKE $%[1]d OR description ILIKE $%[1]d)", "%"+escapeLike(search)+"%")
	}

	filterArgs := len(c.args)
	query := `SELECT ` + reportColumns + `, COUNT(*) OVER () FROM reports` + c.where() +
		reportOrder(f.SortBy, f.SortDesc) + c.page(f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := []storage.Report{}
	total := 0
	for rows.Next() {
		r, err := scanReport(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// An offset past the end returns no rows and so no window count.
	if len(reports) == 0 && f.Offset > 0 {
		countQuery := `SELECT COUNT(*) FROM reports` + c.where()
		if err := s.pool.QueryRow(ctx, countQuery, c.args[:filterArgs]...).Scan(&total); err != nil {
			return nil, 0, err
		}
	}
	return reports, total, nil
}

// reportOrder builds ORDER BY from the whitelisted sort keys; id breaks ties.
func reportOrder(sortBy string, desc bool) string {
	col, ok := storage.ReportSortFields[sortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	if col == "title" {
		col = "LOWER(title)"
	}
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, id %s", col, dir, dir)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PostgresReportsStorage) TransitionReport(ctx context.Context, id uuid.UUID, from, to storage.ReportStatus, patch storage.ReportPatch) (*storage.Report, error) {
	if err := storage.CheckTransition(from, to); err != nil {
		return nil, err
	}

	query := `
		UPDATE reports SET
			status        = $3::text,
			updated_at    = NOW(),
			started_at    = CASE WHEN $3::text = 'GENERATING' THEN NOW() ELSE started_at END,
			completed_at  = CASE WHEN $3::text IN ('COMPLETED', 'FAILED', 'CANCELLED') THEN NOW() ELSE completed_at END,
			file_path     = COALESCE($4::text, file_path),
			file_name     = COALESCE(NULLIF($5::text, ''), file_name),
			content_type  = COALESCE(NULLIF($6::text, ''), content_type),
			file_size     = CASE WHEN $7::bigint > 0 THEN $7::bigint ELSE file_size END,
			record_count  = CASE WHEN $8::int > 0 THEN $8::int ELSE record_count END,
			error_kind    = COALESCE(NULLIF($9::text, ''), error_kind),
			error_message = COALESCE($10::text, error_message),
			file_data     = COALESCE($11::bytea, file_data),
			scheduled_at  = CASE WHEN $12::boolean THEN NULL ELSE scheduled_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + reportColumns

	var data any
	if patch.Data != nil {
		data = patch.Data
	}
	r, err := scanReport(s.pool.QueryRow(ctx, query,
		id,
		string(from),
		string(to),
		patch.FilePath,
		patch.FileName,
		patch.ContentType,
		patch.FileSize,
		patch.RecordCount,
		patch.ErrorKind,
		patch.ErrorMessage,
		data,
		patch.ClearSchedule,
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition report: %w", err)
	}

	current, err := s.status(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, storage.StaleTransition(from, current)
}

func (s *PostgresReportsStorage) status(ctx context.Context, id uuid.UUID) (storage.ReportStatus, error) {
	var st storage.ReportStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM reports WHERE id = $1`, id).Scan(&st)
	if err != nil {
		return "", notFound(err, "report")
	}
	return st, nil
}

func (s *PostgresReportsStorage) ResetReportForRun(ctx context.Context, id uuid.UUID, parameters json.RawMessage) (*storage.Report, error) {
	var params any
	if len(parameters) > 0 {
		params = string(parameters)
	}

	query := `
		UPDATE reports SET
			status        = 'PENDING',
			parameters    = COALESCE($2::jsonb, parameters),
			started_at    = NULL,
			completed_at  = NULL,
			file_path     = NULL,
			file_name     = '',
			content_type  = '',
			file_size     = 0,
			record_count  = 0,
			error_kind    = '',
			error_message = NULL,
			file_data     = NULL,
			updated_at    = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'COMPLETED', 'FAILED')
		RETURNING ` + reportColumns

	r, err := scanReport(s.pool.QueryRow(ctx, query, id, params))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reset report: %w", err)
	}

	current, err := s.status(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, apperr.Newf(apperr.KindInvalidTransition, "report is %s and cannot be re-run", current)
}

func (s *PostgresReportsStorage) SetScheduledAt(ctx context.Context, id uuid.UUID, scheduledAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET scheduled_at = $2, updated_at = NOW() WHERE id = $1`,
		id, scheduledAt,
	)
	if err != nil {
		return fmt.Errorf("set scheduled_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("report")
	}
	return nil
}
