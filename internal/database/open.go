// Package database opens the durable customer store named by a database URL
// and keeps its schema current.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	"github.com/hystdevtv/pear/internal/store"
	"github.com/hystdevtv/pear/internal/store/postgres"
	"github.com/hystdevtv/pear/internal/store/sqlite"
)

const DefaultURL = "sqlite://./data/pear.db"

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// DriverFor picks the driver from the URL scheme. Anything that is not a
// postgres URL is treated as a SQLite path.
func DriverFor(databaseURL string) (Driver, string) {
	u := strings.TrimSpace(databaseURL)
	if u == "" {
		u = DefaultURL
	}
	lower := strings.ToLower(u)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres, u
	case strings.HasPrefix(lower, "sqlite://"):
		return DriverSQLite, u[len("sqlite://"):]
	case strings.HasPrefix(lower, "sqlite:"):
		return DriverSQLite, u[len("sqlite:"):]
	default:
		return DriverSQLite, u
	}
}

// Handle is an open customer store plus the resources behind it.
type Handle struct {
	Store  store.CustomerStore
	Driver Driver
	close  func() error
}

func (h *Handle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects to the store named by databaseURL. When migrate is true the
// schema is brought up to date first.
func Open(ctx context.Context, databaseURL string, migrations fs.FS, migrate bool) (*Handle, error) {
	driver, dsn := DriverFor(databaseURL)
	switch driver {
	case DriverPostgres:
		db, err := postgres.NewDB(dsn)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := RunMigrations(migrations, dsn); err != nil {
				db.Close()
				return nil, err
			}
		}
		return &Handle{Store: postgres.NewCustomerStore(db), Driver: driver, close: closeDB(db)}, nil
	default:
		s, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		return &Handle{Store: s, Driver: driver, close: s.Close}, nil
	}
}

func closeDB(db *sql.DB) func() error {
	return func() error {
		if err := db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
		return nil
	}
}
