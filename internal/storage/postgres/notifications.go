package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresNotificationsStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresNotificationsStorage(pool *pgxpool.Pool) *PostgresNotificationsStorage {
	return &PostgresNotificationsStorage{pool: pool}
}

func (s *PostgresNotificationsStorage) CreateNotification(ctx context.Context, n *storage.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO notifications (id, user_id, title, message, type, data, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.Title,
		n.Message,
		n.Type,
		nullableJSON(n.Data),
		n.CreatedAt,
		n.ReadAt,
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *PostgresNotificationsStorage) ListNotifications(ctx context.Context, userID string, onlyUnread bool, limit, offset int) ([]storage.Notification, error) {
	c := conditions{}
	c.add("user_id = $%d", userID)
	if onlyUnread {
		c.raw("read_at IS NULL")
	}

	query := `SELECT id, user_id, title, message, type, data, created_at, read_at FROM notifications` +
		c.where() + ` ORDER BY created_at DESC, id` + c.page(limit, offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []storage.Notification{}

	for rows.Next() {
		var n storage.Notification
		var data []byte
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Title,
			&n.Message,
			&n.Type,
			&data,
			&n.CreatedAt,
			&n.ReadAt,
		); err != nil {
			return nil, err
		}
		n.Data = data
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

func (s *PostgresNotificationsStorage) UnreadCount(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE user_id = $1 AND read_at IS NULL
	`

	var count int
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// MarkRead ignores ids that belong to another user or are already read.
func (s *PostgresNotificationsStorage) MarkRead(ctx context.Context, userID string, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE notifications
		SET read_at = $1
		WHERE user_id = $2
			AND id = ANY($3)
			AND read_at IS NULL
	`

	result, err := s.pool.Exec(ctx, query, time.Now().UTC(), userID, ids)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

func (s *PostgresNotificationsStorage) MarkAllRead(ctx context.Context, userID string) (int, error) {
	query := `
		UPDATE notifications
		SET read_at = $1
		WHERE user_id = $2 AND read_at IS NULL
	`

	result, err := s.pool.Exec(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}
