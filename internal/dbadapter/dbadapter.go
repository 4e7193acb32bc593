// Package dbadapter presents a uniform statement/exec/pragma/transaction
// interface over multiple embedded-SQL backends (spec.md §4.1), grounded
// on BeadsLog's storage.Storage/storage.Transaction split: an explicit
// interface object rather than a dynamically-dispatched class hierarchy
// (spec.md §9 "Dynamic dispatch across adapters").
package dbadapter

import (
	"context"
	"database/sql"
)

// RowScanner is the minimal row-scanning surface both database/sql's
// *sql.Rows and pgx's pgx.Rows satisfy, letting Statement.All stay
// backend-agnostic without wrapping every row in an adapter type.
type RowScanner interface {
	Scan(dest ...any) error
}

// Result mirrors database/sql.Result with the two fields callers
// actually need (spec.md §4.1 statement.run → {changes, lastInsertRowid}).
type Result struct {
	Changes       int64
	LastInsertRowID int64
}

// Statement is a prepared statement usable across many invocations
// within the adapter's lifetime.
type Statement interface {
	// Run executes the statement for its side effects.
	Run(ctx context.Context, args ...any) (Result, error)
	// Get executes the statement and scans the first row into dest
	// (a pointer, or a slice of pointers for multi-column rows). Returns
	// sql.ErrNoRows when there is no matching row.
	Get(ctx context.Context, dest []any, args ...any) error
	// All executes the statement and invokes scan once per row.
	All(ctx context.Context, scan func(row RowScanner) error, args ...any) error
	// Close releases the prepared statement.
	Close() error
}

// Tx is the capability surface exposed inside Transaction's callback:
// every operation DB exposes, minus the ability to start a new
// top-level transaction (nested calls use savepoints instead, spec.md
// §4.1).
type Tx interface {
	Prepare(ctx context.Context, query string) (Statement, error)
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// DB is the adapter surface a repository/task-store instance is built
// against. Each concrete backend (sqlitewasm, sqlitepure, postgres)
// implements this same interface; selection is a start-up decision
// (spec.md §9), never runtime polymorphism over a live connection.
type DB interface {
	Tx

	// Pragma issues a backend-specific pragma/setting statement and
	// returns any result rows. Some backends (sqlitepure) only ever
	// return a single row; callers must not assume multiple rows.
	Pragma(ctx context.Context, text string) ([]map[string]any, error)

	// SupportsFTSTriggers reports whether CREATE TRIGGER ... can
	// maintain an FTS index automatically. When false, callers (the
	// pattern repository) MUST update the FTS table manually inside
	// the same transaction as the base-table write.
	SupportsFTSTriggers() bool

	// UnderlyingDB exposes the *sql.DB for migration/DDL operations
	// that need a raw connection, mirroring BeadsLog's
	// Storage.UnderlyingDB() escape hatch for extensions.
	UnderlyingDB() *sql.DB

	// Close releases the adapter's resources. Buffered backends flush
	// and atomically replace their backing file (temp file, fsync,
	// rename) before returning.
	Close() error
}
