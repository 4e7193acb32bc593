// Package sqlitepure implements the dbadapter.DB interface over
// modernc.org/sqlite, a cgo-free pure-Go SQLite implementation
// (transpiled C, not WASM). It is wired in to exercise the capability
// differences spec.md §4.1 calls out between backends: this driver's
// PRAGMA statements only ever return a single row even for pragmas
// that conceptually enumerate multiple settings.
package sqlitepure

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/untoldecay/apex/internal/dbadapter"
)

// DB is the sqlitepure-backed dbadapter.DB implementation.
type DB struct {
	*dbadapter.SQLBase
}

// Open opens a direct (unbuffered) modernc.org/sqlite connection at
// path. Unlike sqlitewasm, this backend writes straight to the on-disk
// file and performs no debounced autosave — it exists to demonstrate
// an alternative backend behind the same dbadapter.DB contract.
func Open(ctx context.Context, path string) (*DB, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("sqlitepure: create dir: %w", err)
		}
	} else {
		path = ":memory:"
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitepure: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlitepure: enable foreign keys: %w", err)
	}

	return &DB{SQLBase: dbadapter.NewSQLBase(sqlDB, path, true)}, nil
}

// SupportsFTSTriggers is true: modernc.org/sqlite is still SQLite and
// supports CREATE TRIGGER the same way sqlitewasm does. The capability
// flag exists for backends (postgres) where it does not hold.
func (db *DB) SupportsFTSTriggers() bool { return true }
