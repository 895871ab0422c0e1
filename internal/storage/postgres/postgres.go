// Package postgres implements storage.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage is the Postgres implementation of storage.Store.
type PostgresStorage struct {
	pool          *pgxpool.Pool
	reports       *PostgresReportsStorage
	schedules     *PostgresSchedulesStorage
	templates     *PostgresTemplatesStorage
	exports       *PostgresExportsStorage
	audit         *PostgresAuditStorage
	notifications *PostgresNotificationsStorage
	directory     *PostgresDirectoryStorage
}

// New connects to databaseURL and checks the connection.
func New(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStorage{
		pool:          pool,
		reports:       NewPostgresReportsStorage(pool),
		schedules:     NewPostgresSchedulesStorage(pool),
		templates:     NewPostgresTemplatesStorage(pool),
		exports:       NewPostgresExportsStorage(pool),
		audit:         NewPostgresAuditStorage(pool),
		notifications: NewPostgresNotificationsStorage(pool),
		directory:     NewPostgresDirectoryStorage(pool),
	}, nil
}

func (p *PostgresStorage) GetReportsStorage() storage.ReportsStorage { return p.reports }

func (p *PostgresStorage) GetSchedulesStorage() storage.SchedulesStorage { return p.schedules }

func (p *PostgresStorage) GetTemplatesStorage() storage.TemplatesStorage { return p.templates }

func (p *PostgresStorage) GetExportsStorage() storage.ExportsStorage { return p.exports }

func (p *PostgresStorage) GetAuditStorage() storage.AuditStorage { return p.audit }

func (p *PostgresStorage) GetNotificationsStorage() storage.NotificationsStorage {
	return p.notifications
}

func (p *PostgresStorage) GetDataStore() storage.DataStore { return p.directory }

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

// notFound maps pgx.ErrNoRows to the not_found error of entity.
func notFound(err error, entity string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity)
	}
	return err
}

// conditions accumulates WHERE clauses with positional arguments. Each clause
// carries one %d verb for its placeholder number.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

// raw adds a clause without an argument.
func (c *conditions) raw(clause string) {
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// page appends LIMIT/OFFSET placeholders. A zero limit means no limit.
func (c *conditions) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		c.args = append(c.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(c.args))
	}
	if offset > 0 {
		c.args = append(c.args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(c.args))
	}
	return b.String()
}
