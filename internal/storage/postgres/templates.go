package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTemplatesStorage keeps the template documents in JSONB columns.
type PostgresTemplatesStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresTemplatesStorage(pool *pgxpool.Pool) *PostgresTemplatesStorage {
	return &PostgresTemplatesStorage{pool: pool}
}

const templateColumns = `id, name, description, report_type, category, layout, structure, styling,
	permissions, metadata, created_by, is_active, deleted_at, created_at, updated_at`

// templateDocs are the JSON-encoded document columns of a template, in column order.
type templateDocs struct {
	layout, structure, styling, permissions, metadata []byte
}

func encodeTemplateDocs(t *storage.Template) (templateDocs, error) {
	var d templateDocs
	var err error
	if d.layout, err = json.Marshal(t.Layout); err != nil {
		return d, fmt.Errorf("encode layout: %w", err)
	}
	if d.structure, err = json.Marshal(t.Structure); err != nil {
		return d, fmt.Errorf("encode structure: %w", err)
	}
	if t.Styling != nil {
		if d.styling, err = json.Marshal(t.Styling); err != nil {
			return d, fmt.Errorf("encode styling: %w", err)
		}
	}
	if d.permissions, err = json.Marshal(t.Permissions); err != nil {
		return d, fmt.Errorf("encode permissions: %w", err)
	}
	if d.metadata, err = json.Marshal(t.Metadata); err != nil {
		return d, fmt.Errorf("encode metadata: %w", err)
	}
	return d, nil
}

// nullableJSON passes empty documents as SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanTemplate(row pgx.Row) (*storage.Template, error) {
	var t storage.Template
	var d templateDocs
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.ReportType, &t.Category,
		&d.layout, &d.structure, &d.styling, &d.permissions, &d.metadata,
		&t.CreatedBy, &t.IsActive, &t.DeletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	docs := []struct {
		raw []byte
		dst any
	}{
		{d.layout, &t.Layout},
		{d.structure, &t.Structure},
		{d.styling, &t.Styling},
		{d.permissions, &t.Permissions},
		{d.metadata, &t.Metadata},
	}
	for _, doc := range docs {
		if len(doc.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.raw, doc.dst); err != nil {
			return nil, fmt.Errorf("decode template %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (s *PostgresTemplatesStorage) CreateTemplate(ctx context.Context, t *storage.Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	d, err := encodeTemplateDocs(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO report_templates (
			id, name, description, report_type, category, layout, structure, styling,
			permissions, metadata, created_by, is_active, deleted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		t.ID,
		t.Name,
		t.Description,
		t.ReportType,
		t.Category,
		string(d.layout),
		string(d.structure),
		nullableJSON(d.styling),
		string(d.permissions),
		string(d.metadata),
		t.CreatedBy,
		t.IsActive,
		t.DeletedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (s *PostgresTemplatesStorage) GetTemplate(ctx context.Context, id uuid.UUID) (*storage.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM report_templates WHERE id = $1`
	t, err := scanTemplate(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "template")
	}
	return t, nil
}

func (s *PostgresTemplatesStorage) UpdateTemplate(ctx context.Context, t *storage.Template) error {
	d, err := encodeTemplateDocs(t)
	if err != nil {
		return err
	}

	query := `
		UPDATE report_templates SET
			name        = $2,
			description = $3,
			report_type = $4,
			category    = $5,
			layout      = $6::jsonb,
			structure   = $7::jsonb,
			styling     = $8::jsonb,
			permissions = $9::jsonb,
			metadata    = $10::jsonb,
			is_active   = $11,
			deleted_at  = $12,
			updated_at  = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err = s.pool.QueryRow(ctx, query,
		t.ID,
		t.Name,
		t.Description,
		t.ReportType,
		t.Category,
		string(d.layout),
		string(d.structure),
		nullableJSON(d.styling),
		string(d.permissions),
		string(d.metadata),
		t.IsActive,
		t.DeletedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return notFound(err, "template")
	}
	return nil
}

func (s *PostgresTemplatesStorage) ListTemplates(ctx context.Context, f storage.TemplateFilter) ([]storage.Template, error) {
	var c conditions
	if !f.IncludeInactive {
		c.raw("is_active")
	}
	if f.ReportType != "" {
		c.add("report_type = $%d", f.ReportType)
	}
	if f.Category != "" {
		c.add("category = $%d", f.Category)
	}
	if f.Tag != "" {
		c.add("metadata->'tags' ? $%d", f.Tag)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		c.add("(name ILIKE $%[1]d OR description ILIKE $%[1]d)", "%"+escapeLike(search)+"%")
	}

	query := `SELECT ` + templateColumns + ` FROM report_templates` + c.where() + ` ORDER BY updated_at DESC, id`
	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []storage.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
