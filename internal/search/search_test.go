package search

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/apex/internal/dbadapter"
	"github.com/untoldecay/apex/internal/dbadapter/sqlitepure"
)

func TestFtsMatchQueryAppendsPrefixStarForBareWord(t *testing.T) {
	assert.Equal(t, "login*", ftsMatchQuery("login"))
}

func TestFtsMatchQueryLeavesOperatorQueriesUnchanged(t *testing.T) {
	for _, q := range []string{`"login bug"`, "login bug", "login:bug", "(login OR bug)", "login*"} {
		assert.Equal(t, q, ftsMatchQuery(q))
	}
}

func openSearchTestDB(t *testing.T) dbadapter.DB {
	t.Helper()
	db, err := sqlitepure.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = db.Exec(ctx, `
		CREATE TABLE patterns (
			id TEXT PRIMARY KEY,
			invalid INTEGER NOT NULL DEFAULT 0
		);
		CREATE VIRTUAL TABLE patterns_fts USING fts5(
			id UNINDEXED,
			title,
			summary,
			tags,
			keywords,
			search_index
		);
	`)
	require.NoError(t, err)
	return db
}

func insertSearchFixture(t *testing.T, db dbadapter.DB, id, title, summary string, invalid bool) {
	t.Helper()
	ctx := context.Background()
	invalidInt := 0
	if invalid {
		invalidInt = 1
	}
	_, err := db.Exec(ctx, "INSERT INTO patterns (id, invalid) VALUES (?, ?)", id, invalidInt)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `
		INSERT INTO patterns_fts(rowid, id, title, summary, tags, keywords, search_index)
		SELECT rowid, ?, ?, ?, '', '', '' FROM patterns WHERE id = ?`,
		id, title, summary, id)
	require.NoError(t, err)
}

func TestSearchSQLiteRanksByBm25AndExcludesInvalid(t *testing.T) {
	db := openSearchTestDB(t)
	insertSearchFixture(t, db, "A", "retry backoff helper", "wraps flaky network calls with exponential backoff", false)
	insertSearchFixture(t, db, "B", "backoff backoff backoff retry retry", "dense match on purpose", false)
	insertSearchFixture(t, db, "C", "retry backoff helper", "should be excluded", true)

	hits, err := Patterns(context.Background(), db, DialectSQLite, "retry backoff", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	assert.Contains(t, ids, "A")
	assert.Contains(t, ids, "B")
	assert.Equal(t, "B", ids[0], "the denser match must rank first by bm25")
	assert.NotContains(t, ids, "C", "invalid=1 rows must be excluded from search results")
}

func TestSearchSQLiteProducesHighlightedSnippet(t *testing.T) {
	db := openSearchTestDB(t)
	insertSearchFixture(t, db, "A", "retry backoff helper", "summary text", false)

	hits, err := Patterns(context.Background(), db, DialectSQLite, "retry", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Snippet, "<b>")
	assert.Contains(t, hits[0].Snippet, "</b>")
}

func TestSearchSQLiteRespectsLimit(t *testing.T) {
	db := openSearchTestDB(t)
	for _, id := range []string{"A", "B", "C"} {
		insertSearchFixture(t, db, id, "retry backoff helper", "summary", false)
	}

	hits, err := Patterns(context.Background(), db, DialectSQLite, "retry", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchSQLiteBarePrefixMatchesPartialTerm(t *testing.T) {
	db := openSearchTestDB(t)
	insertSearchFixture(t, db, "A", "retryable client", "summary", false)

	// "retry" with no FTS5 operator characters gets a trailing "*" so it
	// matches "retryable" as a prefix (ftsMatchQuery's UX affordance).
	hits, err := Patterns(context.Background(), db, DialectSQLite, "retry", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "A", hits[0].ID)
}

func TestPatternsBlankQueryReturnsNoHits(t *testing.T) {
	db := openSearchTestDB(t)
	hits, err := Patterns(context.Background(), db, DialectSQLite, "   ", 10)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

// fakePostgresDB and capturingStatement exercise the Postgres dialect
// branch without a live Postgres connection, recording the prepared
// query text and bound args the way db.Prepare/Statement.All would be
// invoked for real, and replaying canned rows back through the same
// All/Scan contract searchPostgres relies on.
type fakeRow struct{ values []any }

func (r *fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = r.values[i].(string)
		case *float64:
			*ptr = r.values[i].(float64)
		}
	}
	return nil
}

type fakePostgresDB struct {
	lastQuery string
	lastArgs  []any
	rows      [][]any
}

func (db *fakePostgresDB) Prepare(_ context.Context, query string) (dbadapter.Statement, error) {
	db.lastQuery = query
	return &capturingStatement{db: db, rows: db.rows}, nil
}
func (db *fakePostgresDB) Exec(context.Context, string, ...any) (dbadapter.Result, error) {
	return dbadapter.Result{}, nil
}
func (db *fakePostgresDB) Transaction(_ context.Context, fn func(tx dbadapter.Tx) error) error {
	return fn(db)
}
func (db *fakePostgresDB) Pragma(context.Context, string) ([]map[string]any, error) { return nil, nil }
func (db *fakePostgresDB) SupportsFTSTriggers() bool                                { return false }
func (db *fakePostgresDB) UnderlyingDB() *sql.DB                                    { return nil }
func (db *fakePostgresDB) Close() error                                             { return nil }

type capturingStatement struct {
	db   *fakePostgresDB
	rows [][]any
}

func (s *capturingStatement) Prepare(context.Context, string) (dbadapter.Statement, error) {
	return s, nil
}
func (s *capturingStatement) Run(context.Context, ...any) (dbadapter.Result, error) {
	return dbadapter.Result{}, nil
}
func (s *capturingStatement) Get(context.Context, []any, ...any) error { return nil }

func (s *capturingStatement) All(_ context.Context, scan func(row dbadapter.RowScanner) error, args ...any) error {
	s.db.lastArgs = args
	for _, row := range s.rows {
		if err := scan(&fakeRow{values: row}); err != nil {
			return err
		}
	}
	return nil
}
func (s *capturingStatement) Close() error { return nil }

func TestSearchPostgresBuildsTsRankQueryAndBindsQueryAndLimit(t *testing.T) {
	db := &fakePostgresDB{rows: [][]any{
		{"A", "<b>retry</b> helper", 0.75},
	}}

	hits, err := searchPostgres(context.Background(), db, "retry", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "A", hits[0].ID)
	assert.Equal(t, 0.75, hits[0].Score)

	assert.Contains(t, db.lastQuery, "plainto_tsquery")
	assert.Contains(t, db.lastQuery, "ts_rank")
	assert.Contains(t, db.lastQuery, "invalid = false")
	// query is bound four times (headline, rank, where, order-by rank) plus limit.
	require.Len(t, db.lastArgs, 5)
	assert.Equal(t, "retry", db.lastArgs[0])
	assert.Equal(t, "retry", db.lastArgs[3])
	assert.Equal(t, 5, db.lastArgs[4])
}
