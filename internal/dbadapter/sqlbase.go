package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLBase implements DB/Tx over any database/sql driver that speaks
// SQLite's SAVEPOINT dialect. Both sqlitewasm and sqlitepure embed it
// and only differ in the driver name passed to sql.Open and in their
// SupportsFTSTriggers answer — the same "shared core, thin dialect
// shim" shape BeadsLog uses across its migration list (one runner,
// many per-migration Go functions).
type SQLBase struct {
	db          *sql.DB
	path        string
	ftsTriggers bool
}

// NewSQLBase wraps an already-opened *sql.DB.
func NewSQLBase(db *sql.DB, path string, ftsTriggers bool) *SQLBase {
	return &SQLBase{db: db, path: path, ftsTriggers: ftsTriggers}
}

func (b *SQLBase) SupportsFTSTriggers() bool { return b.ftsTriggers }
func (b *SQLBase) UnderlyingDB() *sql.DB     { return b.db }
func (b *SQLBase) Close() error              { return b.db.Close() }

func (b *SQLBase) Prepare(ctx context.Context, query string) (Statement, error) {
	stmt, err := b.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	return &sqlStatement{stmt: stmt}, nil
}

func (b *SQLBase) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("exec: %w", err)
	}
	return resultOf(res), nil
}

func (b *SQLBase) Pragma(ctx context.Context, text string) ([]map[string]any, error) {
	rows, err := b.db.QueryContext(ctx, "PRAGMA "+text)
	if err != nil {
		return nil, fmt.Errorf("pragma %s: %w", text, err)
	}
	defer rows.Close()
	return scanAllMaps(rows)
}

// Transaction runs fn inside a fresh database transaction, issuing
// BEGIN/COMMIT/ROLLBACK. database/sql pools a distinct connection per
// BeginTx call, so concurrent top-level Transaction calls against the
// same SQLBase (e.g. a foreground Upsert racing a background
// triggerSimilarity write, spec.md §5) are independently safe without
// any shared counter on SQLBase itself.
//
// Nesting is scoped to the Tx handle, not to this instance: a callback
// that already holds a Tx (the sqlTxWrapper fn receives below) and
// calls tx.Transaction(...) again goes straight to
// sqlTxWrapper.Transaction, which issues a real SAVEPOINT, satisfying
// spec.md §4.1's nested-transaction requirement. There is no
// instance-wide state to race on: "nested" is whatever the caller's
// own Tx variable says it is.
func (b *SQLBase) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	wrapped := &sqlTxWrapper{tx: sqlTx, base: b}
	if err := fn(wrapped); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sqlTxWrapper is the Tx implementation handed to a Transaction
// callback; nested Transaction calls on it use savepoints.
type sqlTxWrapper struct {
	tx   *sql.Tx
	base *SQLBase
	sp   int
}

func (w *sqlTxWrapper) Prepare(ctx context.Context, query string) (Statement, error) {
	stmt, err := w.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	return &sqlStatement{stmt: stmt}, nil
}

func (w *sqlTxWrapper) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := w.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("exec: %w", err)
	}
	return resultOf(res), nil
}

func (w *sqlTxWrapper) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	w.sp++
	name := fmt.Sprintf("apex_sp_%d", w.sp)
	if _, err := w.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(w); err != nil {
		_, _ = w.tx.ExecContext(ctx, "ROLLBACK TO "+name)
		return err
	}
	if _, err := w.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}

type sqlStatement struct{ stmt *sql.Stmt }

func (s *sqlStatement) Run(ctx context.Context, args ...any) (Result, error) {
	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		return Result{}, fmt.Errorf("run: %w", err)
	}
	return resultOf(res), nil
}

func (s *sqlStatement) Get(ctx context.Context, dest []any, args ...any) error {
	return s.stmt.QueryRowContext(ctx, args...).Scan(dest...)
}

func (s *sqlStatement) All(ctx context.Context, scan func(row RowScanner) error, args ...any) error {
	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return fmt.Errorf("all: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqlStatement) Close() error { return s.stmt.Close() }

func resultOf(res sql.Result) Result {
	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return Result{Changes: changes, LastInsertRowID: lastID}
}

func scanAllMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
