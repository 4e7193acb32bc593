package patterns

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/untoldecay/apex/internal/apexerr"
	"github.com/untoldecay/apex/internal/canonical"
	"github.com/untoldecay/apex/internal/dbadapter"
)

// Dialect selects which DDL/FTS strategy EnsureSchema and UpsertInTx use.
// Set once at repository construction based on which dbadapter backend
// the caller opened (spec.md §9 "selection is a start-up decision").
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Repository is the pattern store's public contract (C3): get, upsert,
// delete, list_by_type, assign_alias (full-text search lives in
// internal/search), grounded on BeadsLog's internal/storage/sqlite CRUD
// shape generalized from a single "issues" table to patterns plus their
// facet child tables.
type Repository struct {
	db      dbadapter.DB
	dialect Dialect
	log     zerolog.Logger
}

// NewRepository wraps an opened dbadapter.DB. dialect must match the
// concrete backend db was opened from.
func NewRepository(db dbadapter.DB, dialect Dialect, log zerolog.Logger) *Repository {
	return &Repository{db: db, dialect: dialect, log: log}
}

// EnsureSchema creates every table (and, for SQLite-family backends
// that support FTS triggers, the patterns_fts virtual table and its
// maintenance triggers) if not already present. Safe to call on every
// start-up; every statement is idempotent (IF NOT EXISTS).
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, SchemaDDL(r.dialect)); err != nil {
		return apexerr.Wrap(apexerr.Internal, "pattern schema DDL", err)
	}
	if r.dialect == DialectSQLite {
		if _, err := r.db.Exec(ctx, FTSSchemaDDL(r.db.SupportsFTSTriggers())); err != nil {
			return apexerr.Wrap(apexerr.Internal, "pattern FTS schema", err)
		}
	}
	return nil
}

// SchemaDDL returns the base table DDL for dialect, exported so
// internal/migrate can register it as a versioned migration step
// instead of every caller re-deriving it from EnsureSchema.
func SchemaDDL(dialect Dialect) string {
	if dialect == DialectPostgres {
		return schemaPostgres
	}
	return schema
}

// FTSSchemaDDL returns the SQLite FTS5 schema variant matching whether
// the backend supports automatic trigger-maintained FTS.
func FTSSchemaDDL(supportsTriggers bool) string {
	if supportsTriggers {
		return ftsTriggerSchema
	}
	return ftsPlainSchema
}

// Get resolves id_or_alias by ID first, then alias, returning nil when
// neither matches or the match is invalid and includeInvalid is false
// (spec.md §4.3).
func (r *Repository) Get(ctx context.Context, idOrAlias string, includeInvalid bool) (*Pattern, error) {
	p, err := r.getByID(ctx, r.db, idOrAlias, includeInvalid)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	return r.getByAlias(ctx, r.db, idOrAlias, includeInvalid)
}

func (r *Repository) getByID(ctx context.Context, q queryer, id string, includeInvalid bool) (*Pattern, error) {
	return r.scanOne(ctx, q, "SELECT "+baseColumns+" FROM patterns WHERE id = ?", id, includeInvalid)
}

func (r *Repository) getByAlias(ctx context.Context, q queryer, alias string, includeInvalid bool) (*Pattern, error) {
	return r.scanOne(ctx, q, "SELECT "+baseColumns+" FROM patterns WHERE alias = ?", alias, includeInvalid)
}

const baseColumns = `id, schema_version, pattern_version, type, title, summary, trust_score,
	alpha, beta, usage_count, success_count, created_at, updated_at, alias,
	provenance, invalid, invalid_reason, key_insight, when_to_use, search_index,
	half_life_days, pattern_digest`

// queryer is the minimal surface Get's helpers need, satisfied by both
// dbadapter.DB and dbadapter.Tx via their shared Prepare method.
type queryer interface {
	Prepare(ctx context.Context, query string) (dbadapter.Statement, error)
}

func (r *Repository) scanOne(ctx context.Context, q queryer, query, key string, includeInvalid bool) (*Pattern, error) {
	stmt, err := q.Prepare(ctx, query)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare pattern lookup", err)
	}
	defer stmt.Close()

	var p Pattern
	var invalidInt int
	var aliasNS sql.NullString
	dest := []any{
		&p.ID, &p.SchemaVersion, &p.PatternVersion, &p.Type, &p.Title, &p.Summary, &p.TrustScore,
		&p.Alpha, &p.Beta, &p.UsageCount, &p.SuccessCount, &p.CreatedAt, &p.UpdatedAt, &aliasNS,
		&p.Provenance, &invalidInt, &p.InvalidReason, &p.KeyInsight, &p.WhenToUse, &p.SearchIndex,
		&p.HalfLifeDays, &p.PatternDigest,
	}
	if err := stmt.Get(ctx, dest, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apexerr.Wrap(apexerr.Internal, "scan pattern", err)
	}
	p.Alias = aliasNS.String
	p.Invalid = invalidInt != 0
	if p.Invalid && !includeInvalid {
		return nil, nil
	}

	if err := r.loadFacets(ctx, q, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert canonicalizes pat, computes pattern_digest, and writes the
// base row plus every facet table inside one transaction. Caller-
// provided IDs are idempotent by digest: writing the same (id, digest)
// twice is a no-op that returns the stored record unchanged. An empty
// ID triggers auto-allocation (spec.md §4.3); a digest collision
// across *any* existing pattern on the auto-ID path returns the
// existing record and discards the incoming one (first-write-wins).
func (r *Repository) Upsert(ctx context.Context, pat *Pattern) (*Pattern, error) {
	var result *Pattern
	err := r.db.Transaction(ctx, func(tx dbadapter.Tx) error {
		var err error
		result, err = r.UpsertInTx(ctx, tx, pat)
		return err
	})
	if err != nil {
		if ae, ok := err.(*apexerr.Error); ok {
			return nil, ae
		}
		return nil, apexerr.Wrap(apexerr.Internal, "upsert pattern", err)
	}
	return result, nil
}

// UpsertInTx runs Upsert's logic against an already-open transaction,
// letting callers (the reflection engine) canonicalize new patterns
// and apply trust updates to existing ones inside a single atomic unit
// (spec.md §4.5 transactional processing order).
func (r *Repository) UpsertInTx(ctx context.Context, tx dbadapter.Tx, pat *Pattern) (*Pattern, error) {
	now := time.Now().UTC()
	autoAllocated := pat.ID == ""

	canonicalJSON, digest, err := canonical.MarshalAndDigest(pat.canonicalPayload())
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "canonicalize pattern", err)
	}

	if autoAllocated {
		existing, err := r.findByDigest(ctx, tx, digest)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		pat.ID, err = allocateAutoID(pat.Type)
		if err != nil {
			return nil, err
		}
	}

	existing, err := r.getByID(ctx, tx, pat.ID, true)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.PatternDigest == digest {
		return existing, nil
	}

	pat.PatternDigest = digest
	pat.JSONCanonical = canonicalJSON
	pat.UpdatedAt = now
	if existing == nil {
		pat.CreatedAt = now
		pat.PatternVersion = 1
		if pat.Provenance == "" {
			pat.Provenance = ProvenanceManual
		}
		if pat.TrustScore == 0 && pat.Alpha == 0 && pat.Beta == 0 {
			pat.Alpha, pat.Beta = 1, 1
			pat.TrustScore = 0.3
		}
	} else {
		pat.CreatedAt = existing.CreatedAt
		pat.PatternVersion = existing.PatternVersion + 1
		if pat.Alias == "" {
			pat.Alias = existing.Alias
		}
		if pat.Alpha == 0 && pat.Beta == 0 {
			pat.Alpha, pat.Beta, pat.TrustScore = existing.Alpha, existing.Beta, existing.TrustScore
			pat.UsageCount, pat.SuccessCount = existing.UsageCount, existing.SuccessCount
		}
	}

	if err := r.writeRow(ctx, tx, pat, existing != nil); err != nil {
		return nil, err
	}
	if err := r.writeFacets(ctx, tx, pat); err != nil {
		return nil, err
	}
	if r.dialect == DialectPostgres {
		if err := r.updateSearchVector(ctx, tx, pat); err != nil {
			return nil, err
		}
	} else if !r.db.SupportsFTSTriggers() {
		if err := r.updateFTSManually(ctx, tx, pat); err != nil {
			return nil, err
		}
	} else {
		// The FTS triggers fire on writeRow, before writeFacets stores
		// tags/keywords; touching the row lets patterns_fts_au re-index.
		if _, err := tx.Exec(ctx, "UPDATE patterns SET updated_at = updated_at WHERE id = ?", pat.ID); err != nil {
			return nil, apexerr.Wrap(apexerr.Internal, "refresh fts row", err)
		}
	}

	return pat, nil
}

// Transaction exposes the repository's DB for callers (the reflection
// engine) that need to interleave UpsertInTx/ApplyTrustUpdate calls
// across multiple patterns inside one atomic unit.
func (r *Repository) Transaction(ctx context.Context, fn func(tx dbadapter.Tx) error) error {
	return r.db.Transaction(ctx, fn)
}

// GetTx is Get's transaction-scoped variant, for use inside a
// Transaction callback.
func (r *Repository) GetTx(ctx context.Context, tx dbadapter.Tx, idOrAlias string, includeInvalid bool) (*Pattern, error) {
	p, err := r.getByID(ctx, tx, idOrAlias, includeInvalid)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	return r.getByAlias(ctx, tx, idOrAlias, includeInvalid)
}

func (r *Repository) findByDigest(ctx context.Context, tx dbadapter.Tx, digest string) (*Pattern, error) {
	stmt, err := tx.Prepare(ctx, "SELECT id FROM patterns WHERE pattern_digest = ?")
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare digest lookup", err)
	}
	defer stmt.Close()
	var id string
	if err := stmt.Get(ctx, []any{&id}, digest); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apexerr.Wrap(apexerr.Internal, "scan digest lookup", err)
	}
	return r.getByID(ctx, tx, id, true)
}

func (r *Repository) writeRow(ctx context.Context, tx dbadapter.Tx, p *Pattern, isUpdate bool) error {
	if isUpdate {
		stmt, err := tx.Prepare(ctx, `
			UPDATE patterns SET
				schema_version = ?, pattern_version = ?, type = ?, title = ?, summary = ?,
				trust_score = ?, alpha = ?, beta = ?, usage_count = ?, success_count = ?,
				updated_at = ?, alias = ?, provenance = ?, invalid = ?, invalid_reason = ?,
				key_insight = ?, when_to_use = ?, search_index = ?, half_life_days = ?,
				pattern_digest = ?, json_canonical = ?
			WHERE id = ?`)
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "prepare pattern update", err)
		}
		defer stmt.Close()
		_, err = stmt.Run(ctx, p.SchemaVersion, p.PatternVersion, string(p.Type), p.Title, p.Summary,
			p.TrustScore, p.Alpha, p.Beta, p.UsageCount, p.SuccessCount, p.UpdatedAt,
			nullableString(p.Alias), string(p.Provenance), boolInt(p.Invalid), p.InvalidReason,
			p.KeyInsight, p.WhenToUse, p.SearchIndex, p.HalfLifeDays, p.PatternDigest,
			p.JSONCanonical, p.ID)
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "update pattern row", err)
		}
		return nil
	}

	stmt, err := tx.Prepare(ctx, `
		INSERT INTO patterns (
			id, schema_version, pattern_version, type, title, summary, trust_score,
			alpha, beta, usage_count, success_count, created_at, updated_at, alias,
			provenance, invalid, invalid_reason, key_insight, when_to_use, search_index,
			half_life_days, pattern_digest, json_canonical
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare pattern insert", err)
	}
	defer stmt.Close()
	_, err = stmt.Run(ctx, p.ID, p.SchemaVersion, p.PatternVersion, string(p.Type), p.Title, p.Summary,
		p.TrustScore, p.Alpha, p.Beta, p.UsageCount, p.SuccessCount, p.CreatedAt, p.UpdatedAt,
		nullableString(p.Alias), string(p.Provenance), boolInt(p.Invalid), p.InvalidReason,
		p.KeyInsight, p.WhenToUse, p.SearchIndex, p.HalfLifeDays, p.PatternDigest, p.JSONCanonical)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "insert pattern row", err)
	}
	return nil
}

// Delete cascades to facets, snippets, and FTS/metadata, but never to
// the historical evidence/reflection logs owned by other components
// (spec.md §4.3).
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db.Transaction(ctx, func(tx dbadapter.Tx) error {
		if !r.db.SupportsFTSTriggers() && r.dialect == DialectSQLite {
			stmt, err := tx.Prepare(ctx, "DELETE FROM patterns_fts WHERE id = ?")
			if err == nil {
				defer stmt.Close()
				_, _ = stmt.Run(ctx, id)
			}
		}
		stmt, err := tx.Prepare(ctx, "DELETE FROM patterns WHERE id = ?")
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "prepare pattern delete", err)
		}
		defer stmt.Close()
		res, err := stmt.Run(ctx, id)
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "delete pattern", err)
		}
		if res.Changes == 0 {
			return apexerr.New(apexerr.PatternNotFound, id)
		}
		return nil
	})
}

// ListAll returns every non-invalid pattern, the candidate source set
// for the ranker (spec.md §4.6 candidate generation).
func (r *Repository) ListAll(ctx context.Context) ([]*Pattern, error) {
	stmt, err := r.db.Prepare(ctx, "SELECT id FROM patterns WHERE invalid = "+falseLiteral(r.dialect)+" ORDER BY id")
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare list_all", err)
	}
	defer stmt.Close()

	var ids []string
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var id string
		if err := row.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "scan list_all", err)
	}

	out := make([]*Pattern, 0, len(ids))
	for _, id := range ids {
		p, err := r.getByID(ctx, r.db, id, false)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListByType returns non-invalid patterns of the given type.
func (r *Repository) ListByType(ctx context.Context, t Type) ([]*Pattern, error) {
	stmt, err := r.db.Prepare(ctx, "SELECT id FROM patterns WHERE type = ? AND invalid = "+falseLiteral(r.dialect)+" ORDER BY id")
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare list_by_type", err)
	}
	defer stmt.Close()

	var ids []string
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var id string
		if err := row.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	}, string(t))
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "scan list_by_type", err)
	}

	out := make([]*Pattern, 0, len(ids))
	for _, id := range ids {
		p, err := r.getByID(ctx, r.db, id, false)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// AssignAlias slugs title, resolves collisions with numeric suffixes,
// and writes the alias onto pattern id in one transaction (spec.md
// §4.3).
func (r *Repository) AssignAlias(ctx context.Context, id, title string) (string, error) {
	var alias string
	err := r.db.Transaction(ctx, func(tx dbadapter.Tx) error {
		a, err := assignAlias(ctx, tx, title)
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(ctx, "UPDATE patterns SET alias = ? WHERE id = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()
		res, err := stmt.Run(ctx, a, id)
		if err != nil {
			return err
		}
		if res.Changes == 0 {
			return apexerr.New(apexerr.PatternNotFound, id)
		}
		alias = a
		return nil
	})
	if err != nil {
		if ae, ok := err.(*apexerr.Error); ok {
			return "", ae
		}
		return "", apexerr.Wrap(apexerr.Internal, "assign alias", err)
	}
	return alias, nil
}

// ApplyTrustUpdate is the reflection engine's sole entry point for
// mutating (alpha, beta, trust_score, usage_count, success_count)
// (spec.md §3 ownership invariant, §4.5 outcome mapping). trust_score
// is recomputed eagerly as the Beta posterior mean alpha/(alpha+beta)
// on every call (Open Question 3). success_count increments only when
// deltaAlpha > deltaBeta, i.e. the outcome leaned toward success.
func (r *Repository) ApplyTrustUpdate(ctx context.Context, tx dbadapter.Tx, id string, deltaAlpha, deltaBeta float64) (*Pattern, error) {
	existing, err := r.getByID(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apexerr.New(apexerr.PatternNotFound, id)
	}

	existing.Alpha += deltaAlpha
	existing.Beta += deltaBeta
	existing.TrustScore = existing.Alpha / (existing.Alpha + existing.Beta)
	existing.UsageCount++
	if deltaAlpha > deltaBeta {
		existing.SuccessCount++
	}
	existing.UpdatedAt = time.Now().UTC()

	stmt, err := tx.Prepare(ctx, `
		UPDATE patterns SET alpha = ?, beta = ?, trust_score = ?,
			usage_count = ?, success_count = ?, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare trust update", err)
	}
	defer stmt.Close()
	if _, err := stmt.Run(ctx, existing.Alpha, existing.Beta, existing.TrustScore,
		existing.UsageCount, existing.SuccessCount, existing.UpdatedAt, id); err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "apply trust update", err)
	}
	return existing, nil
}

// allocateAutoID mints the 8-char suffix for an auto-created pattern's
// 4-segment ID from a UUIDv4, trimmed to the same width a hex-encoded
// random suffix would have (spec.md §3 "4-segment ID policy").
func allocateAutoID(t Type) (string, error) {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	if t == TypeAnti {
		return "APEX.SYSTEM:ANTI:AUTO:" + suffix, nil
	}
	return "APEX.SYSTEM:PAT:AUTO:" + suffix, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func falseLiteral(d Dialect) string {
	if d == DialectPostgres {
		return "false"
	}
	return "0"
}
