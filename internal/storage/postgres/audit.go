package postgres

import (
	"context"
	"fmt"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAuditStorage only inserts and reads; audit rows are never updated.
type PostgresAuditStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditStorage(pool *pgxpool.Pool) *PostgresAuditStorage {
	return &PostgresAuditStorage{pool: pool}
}

func (s *PostgresAuditStorage) AppendAudit(ctx context.Context, entry *storage.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, details)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING created_at
	`
	err := s.pool.QueryRow(ctx, query,
		entry.ID,
		entry.ActorID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		nullableJSON(entry.Details),
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *PostgresAuditStorage) ListAudit(ctx context.Context, f storage.AuditFilter) ([]storage.AuditEntry, error) {
	var c conditions
	if f.EntityType != "" {
		c.add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		c.add("entity_id = $%d", f.EntityID)
	}
	if f.ActorID != "" {
		c.add("actor_id = $%d", f.ActorID)
	}

	query := `SELECT id, actor_id, action, entity_type, entity_id, details, created_at FROM audit_log` +
		c.where() + ` ORDER BY created_at DESC, id DESC` + c.page(f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	out := []storage.AuditEntry{}
	for rows.Next() {
		var e storage.AuditEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Details = details
		out = append(out, e)
	}
	return out, rows.Err()
}
