// Package dbopen opens the tracking database with the pragmas rank history
// needs: WAL so concurrent keyword tasks can write while the API reads,
// foreign keys so keywords cannot outlive their place, and a busy timeout
// sized for overlapping sessions.
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("rankwatch.db", dbopen.WithSchema(schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type config struct {
	busyTimeout int
	schemas     []string
	mkdirAll    bool
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSchema queues SQL to execute after pragmas are applied. Schemas run in
// the order given; each must be idempotent (CREATE TABLE IF NOT EXISTS).
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// Open opens the SQLite database at path, applies pragmas and queued schemas,
// and verifies the connection. The caller blank-imports modernc.org/sqlite.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{busyTimeout: 10_000}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for testing. MaxOpenConns is pinned
// to 1 because each ":memory:" connection is a separate database; t.Cleanup
// closes it.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
