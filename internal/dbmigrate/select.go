package dbmigrate

import (
	"errors"

	"github.com/carelink/agent-portal/internal/config"
)

// Selection is the connection string chosen for DDL and where it came from.
type Selection struct {
	URL     string
	Source  string
	Warning string
}

var ErrNoDatabaseURL = errors.New("no database URL configured (set DATABASE_URL_DIRECT or DATABASE_URL)")

// SelectDatabaseURL picks the URL migrations run against: DIRECT, then
// DATABASE_URL, then POOLED with a warning. Startup migrations pass
// requireDirect since poolers in transaction mode break DDL.
func SelectDatabaseURL(cfg *config.Config, requireDirect bool) (Selection, error) {
	switch {
	case cfg.DatabaseURLDirect != "":
		return Selection{URL: cfg.DatabaseURLDirect, Source: "DATABASE_URL_DIRECT"}, nil
	case requireDirect:
		return Selection{}, errors.New("DATABASE_URL_DIRECT is required for startup migrations")
	case cfg.DatabaseURLRaw != "":
		return Selection{URL: cfg.DatabaseURLRaw, Source: "DATABASE_URL"}, nil
	case cfg.DatabaseURLPooled != "":
		return Selection{
			URL:     cfg.DatabaseURLPooled,
			Source:  "DATABASE_URL_POOLED",
			Warning: "running DDL through the pooled connection; set DATABASE_URL_DIRECT",
		}, nil
	}
	return Selection{}, ErrNoDatabaseURL
}
