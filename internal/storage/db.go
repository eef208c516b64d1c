// Package storage provides the run ledger: a SQL record of every run and
// attempt, kept alongside the on-disk bundles so runs can be listed and
// audited without walking the output directory.
//
// The ledger runs on SQLite (modernc.org/sqlite, the default for local use)
// or Postgres (pgx through database/sql). Queries are written with $N
// placeholders and rebound for SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Driver identifies the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "pgx"
)

var placeholderRe = regexp.MustCompile(`\$\d+`)

// DB wraps a database/sql handle for one of the supported drivers.
type DB struct {
	sql    *sql.DB
	driver Driver
	logger *slog.Logger
}

// DriverFor picks the driver for a DSN: postgres:// and postgresql:// URLs
// use Postgres, anything else is a SQLite path or file: URI.
func DriverFor(dsn string) Driver {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open connects to the ledger at dsn and pings it. Migrations are not run;
// call RunMigrations.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage: empty DSN")
	}
	driver := DriverFor(dsn)

	sqlDB, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}

	switch driver {
	case DriverSQLite:
		// One writer; WAL lets readers proceed alongside it.
		sqlDB.SetMaxOpenConns(1)
		for _, p := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := sqlDB.ExecContext(ctx, p); err != nil {
				_ = sqlDB.Close()
				return nil, fmt.Errorf("storage: %s: %w", p, err)
			}
		}
	case DriverPostgres:
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", driver, err)
	}

	return &DB{sql: sqlDB, driver: driver, logger: logger}, nil
}

// Driver returns the backend in use.
func (db *DB) Driver() Driver {
	return db.driver
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Close closes the underlying handle.
func (db *DB) Close() error {
	return db.sql.Close()
}

// rebind converts $N placeholders to ? for SQLite.
func (db *DB) rebind(query string) string {
	if db.driver == DriverSQLite {
		return placeholderRe.ReplaceAllString(query, "?")
	}
	return query
}
