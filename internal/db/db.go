// Package db wraps the sqlite databases the harness writes: opening with the
// pure-Go driver, applying embedded migrations, and the run ledger.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB is a sqlite handle.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the sqlite database at path and applies
// the connection pragmas. Use ":memory:" for a private in-memory database.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// A single connection keeps :memory: databases coherent and matches the
	// one-owner-per-file use of every store in this module.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("applying %q to %s: %w", p, path, err)
		}
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string { return db.path }

// NullStr maps "" to NULL.
func NullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
