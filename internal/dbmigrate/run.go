// Package dbmigrate applies the goose migrations of the reporting schema.
package dbmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	"github.com/carelink/agent-portal/migrations"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	CommandUp     = "up"
	CommandDown   = "down"
	CommandStatus = "status"
)

// Commands lists what Run accepts.
var Commands = []string{CommandUp, CommandDown, CommandStatus}

// Run executes command against dbURL. Migrations come from the embedded set
// unless dir points at a directory on disk.
func Run(ctx context.Context, command, dbURL, dir string, logger zerolog.Logger) error {
	if dbURL == "" {
		return ErrNoDatabaseURL
	}

	var source fs.FS = migrations.FS
	if dir != "" {
		source = os.DirFS(dir)
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, source)
	if err != nil {
		return fmt.Errorf("init goose: %w", err)
	}

	switch command {
	case CommandUp:
		results, err := provider.Up(ctx)
		if err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		for _, r := range results {
			logger.Info().Int64("version", r.Source.Version).Dur("took", r.Duration).Msg("migration applied")
		}
		if len(results) == 0 {
			logger.Info().Msg("schema up to date")
		}
	case CommandDown:
		r, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
		logger.Info().Int64("version", r.Source.Version).Msg("migration rolled back")
	case CommandStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		for _, st := range statuses {
			ev := logger.Info().Int64("version", st.Source.Version).Str("state", string(st.State))
			if !st.AppliedAt.IsZero() {
				ev = ev.Time("applied_at", st.AppliedAt)
			}
			ev.Msg("migration")
		}
	default:
		return fmt.Errorf("unsupported migrate command %q", command)
	}
	return nil
}
