package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresExportsStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresExportsStorage(pool *pgxpool.Pool) *PostgresExportsStorage {
	return &PostgresExportsStorage{pool: pool}
}

const exportColumns = `id, entity_type, format, file_name, status, total_records, filters, columns,
	include_headers, email_recipients, file_path, file_size, content_type, error_message,
	requested_by, created_at, updated_at, completed_at`

func scanExportJob(row pgx.Row, extra ...any) (*storage.ExportJob, error) {
	var job storage.ExportJob
	var filters []byte
	dest := []any{
		&job.ID, &job.EntityType, &job.Format, &job.FileName, &job.Status, &job.TotalRecords, &filters, &job.Columns,
		&job.IncludeHeaders, &job.EmailRecipients, &job.FilePath, &job.FileSize, &job.ContentType, &job.ErrorMessage,
		&job.RequestedBy, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &job.Filters); err != nil {
			return nil, fmt.Errorf("decode export filters: %w", err)
		}
	}
	return &job, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *PostgresExportsStorage) CreateExportJob(ctx context.Context, job *storage.ExportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = storage.ExportProcessing
	}
	filters := job.Filters
	if filters == nil {
		filters = map[string]string{}
	}
	rawFilters, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("encode export filters: %w", err)
	}

	query := `
		INSERT INTO export_jobs (
			id, entity_type, format, file_name, status, total_records, filters, columns,
			include_headers, email_recipients, requested_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		job.ID,
		job.EntityType,
		job.Format,
		job.FileName,
		string(job.Status),
		job.TotalRecords,
		string(rawFilters),
		nonNilStrings(job.Columns),
		job.IncludeHeaders,
		nonNilStrings(job.EmailRecipients),
		job.RequestedBy,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

func (s *PostgresExportsStorage) GetExportJob(ctx context.Context, id uuid.UUID) (*storage.ExportJob, error) {
	query := `SELECT ` + exportColumns + `, file_data FROM export_jobs WHERE id = $1`
	var data []byte
	job, err := scanExportJob(s.pool.QueryRow(ctx, query, id), &data)
	if err != nil {
		return nil, notFound(err, "export job")
	}
	job.Data = data
	return job, nil
}

func (s *PostgresExportsStorage) ListExportJobs(ctx context.Context, requestedBy string, limit, offset int) ([]storage.ExportJob, error) {
	var c conditions
	if requestedBy != "" {
		c.add("requested_by = $%d", requestedBy)
	}
	query := `SELECT ` + exportColumns + ` FROM export_jobs` + c.where() +
		` ORDER BY created_at DESC, id` + c.page(limit, offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()

	out := []storage.ExportJob{}
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// FinishExportJob locks the row so the status check and the write happen together.
func (s *PostgresExportsStorage) FinishExportJob(ctx context.Context, id uuid.UUID, to storage.ExportStatus, patch storage.ExportPatch) (*storage.ExportJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var current storage.ExportStatus
	err = tx.QueryRow(ctx, `SELECT status FROM export_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		return nil, notFound(err, "export job")
	}
	if err := storage.CheckExportTransition(current, to); err != nil {
		return nil, err
	}

	var data any
	if patch.Data != nil {
		data = patch.Data
	}
	query := `
		UPDATE export_jobs SET
			status        = $2,
			completed_at  = NOW(),
			updated_at    = NOW(),
			file_name     = COALESCE(NULLIF($3::text, ''), file_name),
			file_path     = COALESCE($4::text, file_path),
			file_size     = $5,
			content_type  = COALESCE(NULLIF($6::text, ''), content_type),
			total_records = $7,
			error_message = COALESCE($8::text, error_message),
			file_data     = COALESCE($9::bytea, file_data)
		WHERE id = $1
		RETURNING ` + exportColumns

	job, err := scanExportJob(tx.QueryRow(ctx, query,
		id,
		string(to),
		patch.FileName,
		patch.FilePath,
		patch.FileSize,
		patch.ContentType,
		patch.TotalRecords,
		patch.ErrorMessage,
		data,
	))
	if err != nil {
		return nil, fmt.Errorf("finish export job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if patch.Data != nil {
		job.Data = patch.Data
	}
	return job, nil
}
