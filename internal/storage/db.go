package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/forms-engine/internal/config"
)

// driverNames maps config driver names to database/sql driver names.
var driverNames = map[string]string{
	"sqlite":   "sqlite3",
	"postgres": "postgres",
}

// Open opens the configured database, applies pool settings and verifies
// connectivity.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	driverName, ok := driverNames[cfg.Database.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}

	db, err := sql.Open(driverName, cfg.DatabaseDSN())
	if err != nil {
		return nil, classifyError(err)
	}

	if cfg.Database.Driver == "postgres" {
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
	} else if cfg.Database.SQLite.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return db, nil
}
