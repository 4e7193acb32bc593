// Package search implements pattern full-text search (C9): FTS query
// construction and bm25 ranking, grounded directly on BeadsLog's
// internal/queries/search.go HybridSearch — the same
// match-then-order-by-bm25 query shape, adapted from session search to
// pattern/facet search across (title, summary, tags, keywords,
// search_index).
package search

import (
	"context"
	"strings"

	"github.com/untoldecay/apex/internal/apexerr"
	"github.com/untoldecay/apex/internal/dbadapter"
)

// Dialect mirrors patterns.Dialect (same string values) without
// importing that package; apex.go converts between the two.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Hit is one full-text search result.
type Hit struct {
	ID      string
	Snippet string
	Score   float64
}

// Patterns runs query against patterns_fts (SQLite/FTS5 bm25) or
// patterns.search_vector (Postgres tsvector/ts_rank), excluding
// invalid=1 rows, and returns up to limit hits ordered by relevance
// (spec.md §4.3 search contract).
func Patterns(ctx context.Context, db dbadapter.DB, dialect Dialect, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	if dialect == DialectPostgres {
		return searchPostgres(ctx, db, query, limit)
	}
	return searchSQLite(ctx, db, query, limit)
}

func searchSQLite(ctx context.Context, db dbadapter.DB, query string, limit int) ([]Hit, error) {
	matchQuery := ftsMatchQuery(query)

	stmt, err := db.Prepare(ctx, `
		SELECT p.id, snippet(patterns_fts, 1, '<b>', '</b>', '...', 64), bm25(patterns_fts)
		FROM patterns_fts
		JOIN patterns p ON patterns_fts.rowid = p.rowid
		WHERE patterns_fts MATCH ? AND p.invalid = 0
		ORDER BY bm25(patterns_fts)
		LIMIT ?`)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare pattern search", err)
	}
	defer stmt.Close()

	var hits []Hit
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var h Hit
		if err := row.Scan(&h.ID, &h.Snippet, &h.Score); err != nil {
			return err
		}
		hits = append(hits, h)
		return nil
	}, matchQuery, limit)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "scan pattern search", err)
	}
	return hits, nil
}

func searchPostgres(ctx context.Context, db dbadapter.DB, query string, limit int) ([]Hit, error) {
	stmt, err := db.Prepare(ctx, `
		SELECT id,
			ts_headline('english', summary, plainto_tsquery('english', ?)),
			ts_rank(search_vector, plainto_tsquery('english', ?))
		FROM patterns
		WHERE search_vector @@ plainto_tsquery('english', ?) AND invalid = false
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', ?)) DESC
		LIMIT ?`)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare pattern search", err)
	}
	defer stmt.Close()

	var hits []Hit
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var h Hit
		if err := row.Scan(&h.ID, &h.Snippet, &h.Score); err != nil {
			return err
		}
		hits = append(hits, h)
		return nil
	}, query, query, query, query, limit)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "scan pattern search", err)
	}
	return hits, nil
}

// ftsMatchQuery applies the same UX affordance HybridSearch does: a
// bare word (no FTS5 operator characters) gets a trailing "*" so a
// partial term still matches as a prefix.
func ftsMatchQuery(query string) string {
	if !strings.ContainsAny(query, ` "*:()`) {
		return query + "*"
	}
	return query
}
