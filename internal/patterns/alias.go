package patterns

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/untoldecay/apex/internal/dbadapter"
)

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases title, replaces runs of non-alphanumerics with a
// single "-", trims leading/trailing "-", and truncates to 100 chars
// (spec.md §4.3 assign_alias rule).
func slugify(title string) string {
	s := strings.ToLower(title)
	s = nonAlnumRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
		s = strings.TrimRight(s, "-")
	}
	if s == "" {
		s = "pattern"
	}
	return s
}

// alias_counters tracks how many collision suffixes a base slug has
// handed out, the same atomic "INSERT ... ON CONFLICT DO UPDATE ...
// RETURNING" counter idiom BeadsLog uses for hierarchical child IDs
// (internal/storage/sqlite/hash_ids.go getNextChildNumber), adapted
// from per-parent counters to per-slug counters.
const createAliasCounters = `
CREATE TABLE IF NOT EXISTS alias_counters (
	base_slug TEXT PRIMARY KEY,
	last_suffix INTEGER NOT NULL DEFAULT 0
);`

// assignAlias computes a unique alias for title and reserves it by
// inserting the alias_counters row, without yet writing it onto any
// pattern row (the caller does that inside the same transaction).
func assignAlias(ctx context.Context, tx dbadapter.Tx, title string) (string, error) {
	base := slugify(title)

	exists, err := aliasTaken(ctx, tx, base)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := reserveSlug(ctx, tx, base); err != nil {
			return "", err
		}
		return base, nil
	}

	for {
		n, err := nextSuffix(ctx, tx, base)
		if err != nil {
			return "", err
		}
		candidate := fmt.Sprintf("%s-%d", base, n)
		taken, err := aliasTaken(ctx, tx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		// Another pattern already holds this exact suffixed alias
		// (e.g. manually assigned); keep advancing the counter.
	}
}

func aliasTaken(ctx context.Context, tx dbadapter.Tx, alias string) (bool, error) {
	stmt, err := tx.Prepare(ctx, "SELECT 1 FROM patterns WHERE alias = ?")
	if err != nil {
		return false, err
	}
	defer stmt.Close()
	var one int
	err = stmt.Get(ctx, []any{&one}, alias)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func reserveSlug(ctx context.Context, tx dbadapter.Tx, base string) error {
	_, err := tx.Exec(ctx, createAliasCounters)
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(ctx, `
		INSERT INTO alias_counters (base_slug, last_suffix) VALUES (?, 0)
		ON CONFLICT(base_slug) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.Run(ctx, base)
	return err
}

func nextSuffix(ctx context.Context, tx dbadapter.Tx, base string) (int, error) {
	if err := reserveSlug(ctx, tx, base); err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(ctx, `
		UPDATE alias_counters SET last_suffix = last_suffix + 1
		WHERE base_slug = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	if _, err := stmt.Run(ctx, base); err != nil {
		return 0, err
	}

	getStmt, err := tx.Prepare(ctx, "SELECT last_suffix FROM alias_counters WHERE base_slug = ?")
	if err != nil {
		return 0, err
	}
	defer getStmt.Close()
	var n int
	if err := getStmt.Get(ctx, []any{&n}, base); err != nil {
		return 0, err
	}
	return n, nil
}
