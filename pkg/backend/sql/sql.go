// Package sql implements a storage.Backend on a relational database through bun.
//
// Two drivers are supported:
//   - "libsql": embedded SQLite file opened with go-libsql (sqlitedialect)
//   - "postgres": PostgreSQL reached through lib/pq (pgdialect)
//
// Every object is one row of the objects table: the key is the primary key,
// the payload lives in a BLOB column and the metadata in a JSON text column.
package sql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/marmos91/dittostore/internal/logger"
)

const (
	DriverLibSQL   = "libsql"
	DriverPostgres = "postgres"
)

// SQLBackendConfig contains configuration for the relational backend.
type SQLBackendConfig struct {
	// Driver selects the database: "libsql" (default) or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file. Used by the libsql driver.
	Path string `mapstructure:"path"`

	// DSN is the connection string. Used by the postgres driver.
	DSN string `mapstructure:"dsn"`

	// BusyTimeoutMS is the SQLite busy timeout in milliseconds (default: 5000).
	BusyTimeoutMS int `mapstructure:"busy_timeout_ms"`

	// MaxOpenConns limits the connection pool (default: driver default).
	MaxOpenConns int `mapstructure:"max_open_conns"`
}

// SQLBackend implements storage.Backend on top of bun.
//
// Thread Safety:
// database/sql pools connections; every operation is a single statement, so
// the backend adds no locks of its own.
type SQLBackend struct {
	db     *bun.DB
	driver string
}

// NewSQLBackend opens the database, applies connection pragmas and creates
// the schema if missing.
func NewSQLBackend(ctx context.Context, cfg SQLBackendConfig) (*SQLBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Driver == "" {
		cfg.Driver = DriverLibSQL
	}

	var db *bun.DB
	switch cfg.Driver {
	case DriverLibSQL:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sql backend: path is required for the libsql driver")
		}
		sqlDB, err := sql.Open("libsql", "file:"+cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
		}
		if err := applyPragmas(sqlDB, cfg.BusyTimeoutMS); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		db = bun.NewDB(sqlDB, sqlitedialect.New())

	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sql backend: dsn is required for the postgres driver")
		}
		sqlDB, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		db = bun.NewDB(sqlDB, pgdialect.New())

	default:
		return nil, fmt.Errorf("sql backend: unknown driver %q", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	if err := createSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("SQL backend opened: driver=%s", cfg.Driver)

	return &SQLBackend{db: db, driver: cfg.Driver}, nil
}

func (b *SQLBackend) Type() string { return "sql" }

func (b *SQLBackend) Close() error {
	return b.db.Close()
}

func createSchema(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*objectModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	return rows.Close()
}

// applyPragmas sets connection pragmas explicitly; libsql ignores DSN pragmas.
func applyPragmas(db *sql.DB, busyTimeoutMS int) error {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	// Busy timeout first so journal_mode waits for locks instead of failing.
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS)); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	return nil
}
