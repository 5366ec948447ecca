// Package db opens the sqlite database holding local daemon state.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftsync/internal/utils"
)

const MemoryPath = ":memory:"

const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
`

type options struct {
	path            string
	pragmas         string
	maxOpenConns    int
	connMaxLifetime time.Duration
}

type SqliteOption func(*options)

// WithPath sets the database file. MemoryPath keeps everything in memory.
func WithPath(path string) SqliteOption {
	return func(o *options) { o.path = path }
}

// WithPragmas replaces the default pragmas.
func WithPragmas(pragmas string) SqliteOption {
	return func(o *options) { o.pragmas = pragmas }
}

func WithMaxOpenConns(n int) SqliteOption {
	return func(o *options) { o.maxOpenConns = n }
}

func WithConnMaxLifetime(d time.Duration) SqliteOption {
	return func(o *options) { o.connMaxLifetime = d }
}

// NewSqliteDB connects and applies the pragmas. A file database gets its
// parent directory created first.
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	o := &options{
		path:    MemoryPath,
		pragmas: defaultPragma,
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := MemoryPath
	if o.path != MemoryPath {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	} else {
		// every pooled connection would get its own empty memory db
		o.maxOpenConns = 1
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if o.maxOpenConns > 0 {
		db.SetMaxOpenConns(o.maxOpenConns)
	}
	if o.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.connMaxLifetime)
	}

	if _, err := db.Exec(o.pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// Migrate runs schema statements inside one transaction. Statements must be
// idempotent.
func Migrate(ctx context.Context, db *sqlx.DB, statements ...string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}
