// Package sqlitewasm implements the dbadapter.DB interface over
// github.com/ncruces/go-sqlite3, a pure-Go SQLite driver that runs the
// SQLite C library compiled to WASM under tetratelabs/wazero — no
// cgo, no system SQLite required. This is APEX's default backend,
// grounded directly on the teacher's own storage engine.
//
// It opens the database file directly, in WAL mode. MarkDirty
// schedules a debounced snapshot: a copy of the database file written
// to <path>.snapshot via temp-file+fsync+rename, guarded by a
// cross-process github.com/gofrs/flock lock; Close writes a final
// snapshot when one is pending. No code in this module calls
// MarkDirty, so snapshots are written only when a caller of this
// package does.
package sqlitewasm

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/untoldecay/apex/internal/dbadapter"
)

// DB is the sqlitewasm-backed dbadapter.DB implementation.
type DB struct {
	*dbadapter.SQLBase

	path      string
	flockPath string
	fl        *flock.Flock
	log       zerolog.Logger

	mu         sync.Mutex
	debounce   time.Duration
	saveTimer  *time.Timer
	dirty      bool
}

// Open opens (creating if needed) a sqlitewasm-backed adapter
// at path. An empty path opens an in-memory database with no backing
// file (used by the migration runner's dry-run mode).
func Open(ctx context.Context, path string, log zerolog.Logger) (*DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("sqlitewasm: create dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitewasm: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // single-writer, single-threaded-cooperative model (spec.md §5)

	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlitewasm: enable foreign keys: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlitewasm: enable WAL: %w", err)
	}

	db := &DB{
		SQLBase:  dbadapter.NewSQLBase(sqlDB, path, true),
		path:     path,
		log:      log,
		debounce: 250 * time.Millisecond,
	}

	if path != "" {
		db.flockPath = path + ".lock"
		db.fl = flock.New(db.flockPath)
	}

	return db, nil
}

// SupportsFTSTriggers is true: ncruces/go-sqlite3 allows CREATE TRIGGER
// to be defined from user SQL, so the pattern repository may rely on
// triggers to keep patterns_fts synchronized (spec.md §4.1/§4.3).
func (db *DB) SupportsFTSTriggers() bool { return true }

// MarkDirty schedules a debounced snapshot write; repeated calls
// within the debounce window coalesce into a single flush. The
// adapter's own Exec/Transaction paths do not call it.
func (db *DB) MarkDirty() {
	if db.path == "" {
		return // in-memory, nothing to flush
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.dirty = true
	if db.saveTimer != nil {
		db.saveTimer.Stop()
	}
	db.saveTimer = time.AfterFunc(db.debounce, func() {
		if err := db.flush(); err != nil {
			db.log.Warn().Err(err).Msg("sqlitewasm: debounced autosave failed")
		}
	})
}

// flush writes the snapshot: WAL checkpoint, copy the current
// database file to a temp file in the same directory, fsync, then
// rename the temp file to <path>.snapshot. The live database file is
// never replaced; SQLite's own WAL mechanism keeps it crash-safe.
func (db *DB) flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.dirty || db.path == "" {
		return nil
	}

	if db.fl != nil {
		locked, err := db.fl.TryLock()
		if err != nil {
			return fmt.Errorf("sqlitewasm: acquire flush lock: %w", err)
		}
		if !locked {
			return nil // another process is flushing; skip this round
		}
		defer db.fl.Unlock()
	}

	if _, err := db.UnderlyingDB().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sqlitewasm: checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(db.path), ".apex-*.db.tmp")
	if err != nil {
		return fmt.Errorf("sqlitewasm: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	src, err := os.Open(db.path)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("sqlitewasm: open source: %w", err)
	}
	if _, err := src.WriteTo(tmp); err != nil {
		src.Close()
		tmp.Close()
		return fmt.Errorf("sqlitewasm: copy: %w", err)
	}
	src.Close()

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sqlitewasm: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sqlitewasm: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, db.path+".snapshot"); err != nil {
		return fmt.Errorf("sqlitewasm: rename: %w", err)
	}

	db.dirty = false
	return nil
}

// Close flushes any pending snapshot and closes the underlying
// connection.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.saveTimer != nil {
		db.saveTimer.Stop()
	}
	db.mu.Unlock()

	if err := db.flush(); err != nil {
		db.log.Warn().Err(err).Msg("sqlitewasm: final flush failed")
	}
	return db.SQLBase.Close()
}
