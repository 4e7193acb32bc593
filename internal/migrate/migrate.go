// Package migrate runs ordered, idempotent schema migrations against a
// dbadapter.DB, grounded on BeadsLog's sqlite.RunMigrations: a fixed
// migrations list applied in order, each migration in its own
// transaction, followed by an invariant check (captureSnapshot/
// verifyInvariants there; here, schema_meta.schema_version compared
// against the highest applied migration version).
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/untoldecay/apex/internal/apexerr"
	"github.com/untoldecay/apex/internal/dbadapter"
)

// Migration is one schema step. Version must be monotonically
// increasing across the registered list; Up/Down run inside the
// adapter's transaction wrapper and therefore must not spawn
// goroutines or otherwise suspend outside it (spec.md §4.2, §5).
type Migration struct {
	ID      string
	Version int
	Name    string

	Up   func(ctx context.Context, tx dbadapter.Tx) error
	Down func(ctx context.Context, tx dbadapter.Tx) error

	// Validate runs after Up commits its statements (but still inside
	// the migration's transaction). A false return aborts the whole
	// run with MIGRATION_FAILED.
	Validate func(ctx context.Context, tx dbadapter.Tx) (bool, error)

	// Checksum is an optional caller-supplied fingerprint of the
	// migration body, recorded for drift detection between runs.
	Checksum string
}

// Runner applies a fixed, ordered list of migrations against a
// dbadapter.DB, tracking applied versions in the "migrations" table.
type Runner struct {
	migrations []Migration
	log        zerolog.Logger
}

// NewRunner builds a Runner over ms, sorted by Version. Registration
// order does not matter; Version does.
func NewRunner(log zerolog.Logger, ms ...Migration) *Runner {
	sorted := make([]Migration, len(ms))
	copy(sorted, ms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Runner{migrations: sorted, log: log}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	version INTEGER PRIMARY KEY,
	id TEXT NOT NULL,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	execution_time_ms INTEGER NOT NULL DEFAULT 0
);`

const createSchemaMeta = `
CREATE TABLE IF NOT EXISTS schema_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Up applies every migration whose version is not yet recorded in the
// migrations table, each in its own transaction, in ascending version
// order (spec.md §4.2). schema_meta.schema_version is written eagerly
// in the same transaction as the migrations-table insert (Open
// Question 2, resolved in DESIGN.md: the two values must never be
// allowed to drift).
func (r *Runner) Up(ctx context.Context, db dbadapter.DB) error {
	if _, err := db.Exec(ctx, createMigrationsTable); err != nil {
		return apexerr.Wrap(apexerr.MigrationFailed, "create migrations table", err)
	}
	if _, err := db.Exec(ctx, createSchemaMeta); err != nil {
		return apexerr.Wrap(apexerr.MigrationFailed, "create schema_meta table", err)
	}

	applied, err := r.appliedVersions(ctx, db)
	if err != nil {
		return apexerr.Wrap(apexerr.MigrationFailed, "read applied versions", err)
	}

	for _, m := range r.migrations {
		if applied[m.Version] {
			continue
		}

		start := time.Now()
		err := db.Transaction(ctx, func(tx dbadapter.Tx) error {
			if err := m.Up(ctx, tx); err != nil {
				return fmt.Errorf("up: %w", err)
			}
			if m.Validate != nil {
				ok, err := m.Validate(ctx, tx)
				if err != nil {
					return fmt.Errorf("validate: %w", err)
				}
				if !ok {
					return fmt.Errorf("validate returned false")
				}
			}

			elapsedMS := time.Since(start).Milliseconds()
			stmt, err := tx.Prepare(ctx, `
				INSERT INTO migrations (version, id, name, checksum, execution_time_ms)
				VALUES (?, ?, ?, ?, ?)`)
			if err != nil {
				return fmt.Errorf("prepare migrations insert: %w", err)
			}
			defer stmt.Close()
			if _, err := stmt.Run(ctx, m.Version, m.ID, m.Name, m.Checksum, elapsedMS); err != nil {
				return fmt.Errorf("record migration: %w", err)
			}

			metaStmt, err := tx.Prepare(ctx, `
				INSERT INTO schema_meta (key, value) VALUES ('schema_version', ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
			if err != nil {
				return fmt.Errorf("prepare schema_meta upsert: %w", err)
			}
			defer metaStmt.Close()
			if _, err := metaStmt.Run(ctx, fmt.Sprintf("%d", m.Version)); err != nil {
				return fmt.Errorf("update schema_meta: %w", err)
			}
			return nil
		})
		if err != nil {
			r.log.Error().Err(err).Str("migration", m.Name).Int("version", m.Version).Msg("migration failed")
			return apexerr.Wrap(apexerr.MigrationFailed, fmt.Sprintf("migration %s (version %d)", m.Name, m.Version), err)
		}
		r.log.Info().Str("migration", m.Name).Int("version", m.Version).Msg("migration applied")
	}

	return r.verifySchemaConsistency(ctx, db)
}

// verifySchemaConsistency enforces the Open Question 2 resolution:
// schema_meta.schema_version must equal the max applied migrations
// version at all times.
func (r *Runner) verifySchemaConsistency(ctx context.Context, db dbadapter.DB) error {
	var metaVersion, maxVersion int

	stmt, err := db.Prepare(ctx, "SELECT value FROM schema_meta WHERE key = 'schema_version'")
	if err != nil {
		return apexerr.Wrap(apexerr.MigrationFailed, "read schema_meta", err)
	}
	defer stmt.Close()
	var metaStr string
	if getErr := stmt.Get(ctx, []any{&metaStr}); getErr == nil {
		fmt.Sscanf(metaStr, "%d", &metaVersion)
	}

	maxStmt, err := db.Prepare(ctx, "SELECT COALESCE(MAX(version), 0) FROM migrations")
	if err != nil {
		return apexerr.Wrap(apexerr.MigrationFailed, "read migrations max version", err)
	}
	defer maxStmt.Close()
	if err := maxStmt.Get(ctx, []any{&maxVersion}); err != nil {
		return apexerr.Wrap(apexerr.MigrationFailed, "scan max version", err)
	}

	if len(r.migrations) > 0 && metaVersion != maxVersion {
		return apexerr.New(apexerr.MigrationFailed, "schema_meta.schema_version diverged from migrations table").
			WithContext("schema_meta_version", metaVersion).
			WithContext("migrations_max_version", maxVersion)
	}
	return nil
}

func (r *Runner) appliedVersions(ctx context.Context, db dbadapter.DB) (map[int]bool, error) {
	out := map[int]bool{}
	stmt, err := db.Prepare(ctx, "SELECT version FROM migrations")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var v int
		if err := row.Scan(&v); err != nil {
			return err
		}
		out[v] = true
		return nil
	})
	return out, err
}

// DryRun replays every registered migration's Up against an in-memory
// database opened by openTemp, to catch ordering/drift issues before
// they reach a real database (spec.md §4.2's "sequential-application
// test hook"), generalizing BeadsLog's captureSnapshot drift check
// into a reusable standalone pass.
func (r *Runner) DryRun(ctx context.Context, openTemp func(ctx context.Context) (dbadapter.DB, error)) error {
	db, err := openTemp(ctx)
	if err != nil {
		return apexerr.Wrap(apexerr.MigrationFailed, "open dry-run database", err)
	}
	defer db.Close()
	return r.Up(ctx, db)
}

// Down rolls back every applied migration in descending version
// order, each in its own transaction; used only by tests and the
// reversibility property in spec.md §8 ("up then down preserves the
// set of existing tables").
func (r *Runner) Down(ctx context.Context, db dbadapter.DB) error {
	applied, err := r.appliedVersions(ctx, db)
	if err != nil {
		return apexerr.Wrap(apexerr.MigrationFailed, "read applied versions", err)
	}

	reversed := make([]Migration, len(r.migrations))
	copy(reversed, r.migrations)
	sort.Slice(reversed, func(i, j int) bool { return reversed[i].Version > reversed[j].Version })

	for _, m := range reversed {
		if !applied[m.Version] || m.Down == nil {
			continue
		}
		err := db.Transaction(ctx, func(tx dbadapter.Tx) error {
			if err := m.Down(ctx, tx); err != nil {
				return err
			}
			stmt, err := tx.Prepare(ctx, "DELETE FROM migrations WHERE version = ?")
			if err != nil {
				return err
			}
			defer stmt.Close()
			if _, err := stmt.Run(ctx, m.Version); err != nil {
				return err
			}
			metaStmt, err := tx.Prepare(ctx, `
				UPDATE schema_meta
				SET value = (SELECT CAST(COALESCE(MAX(version), 0) AS TEXT) FROM migrations)
				WHERE key = 'schema_version'`)
			if err != nil {
				return err
			}
			defer metaStmt.Close()
			_, err = metaStmt.Run(ctx)
			return err
		})
		if err != nil {
			return apexerr.Wrap(apexerr.MigrationFailed, fmt.Sprintf("down %s", m.Name), err)
		}
	}
	return nil
}

// Checksum hashes a migration body's source text for the optional
// Migration.Checksum field (drift detection between deployments).
func Checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
