package patterns

import (
	"context"
	"strings"

	"github.com/untoldecay/apex/internal/apexerr"
	"github.com/untoldecay/apex/internal/dbadapter"
)

// loadFacets fills every facet slice on p by querying each child
// table, mirroring the teacher's pattern of composing a full record
// from several single-purpose queries (GetLabels, GetDependencies,
// GetIssueComments, etc. in internal/storage.Storage).
func (r *Repository) loadFacets(ctx context.Context, q queryer, p *Pattern) error {
	var err error
	if p.Languages, err = scanStrings(ctx, q, "SELECT language FROM pattern_languages WHERE pattern_id = ? ORDER BY language", p.ID); err != nil {
		return err
	}
	if p.Paths, err = scanStrings(ctx, q, "SELECT path_glob FROM pattern_paths WHERE pattern_id = ? ORDER BY path_glob", p.ID); err != nil {
		return err
	}
	if p.Repos, err = scanStrings(ctx, q, "SELECT repo FROM pattern_repos WHERE pattern_id = ? ORDER BY repo", p.ID); err != nil {
		return err
	}
	if p.TaskTypes, err = scanStrings(ctx, q, "SELECT task_type FROM pattern_task_types WHERE pattern_id = ? ORDER BY task_type", p.ID); err != nil {
		return err
	}
	if p.Envs, err = scanStrings(ctx, q, "SELECT env FROM pattern_envs WHERE pattern_id = ? ORDER BY env", p.ID); err != nil {
		return err
	}
	if p.Tags, err = scanStrings(ctx, q, "SELECT tag FROM pattern_tags WHERE pattern_id = ? ORDER BY tag", p.ID); err != nil {
		return err
	}
	if p.Keywords, err = scanStrings(ctx, q, "SELECT keyword FROM pattern_keywords WHERE pattern_id = ? ORDER BY keyword", p.ID); err != nil {
		return err
	}
	if p.CommonPitfalls, err = scanStrings(ctx, q, "SELECT pitfall FROM pattern_pitfalls WHERE pattern_id = ? ORDER BY ord", p.ID); err != nil {
		return err
	}

	stmt, err := q.Prepare(ctx, "SELECT name, range FROM pattern_frameworks WHERE pattern_id = ? ORDER BY name")
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare frameworks load", err)
	}
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var f Framework
		if err := row.Scan(&f.Name, &f.Range); err != nil {
			return err
		}
		p.Frameworks = append(p.Frameworks, f)
		return nil
	}, p.ID)
	stmt.Close()
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "load frameworks", err)
	}

	trigStmt, err := q.Prepare(ctx, "SELECT kind, value, is_regex FROM pattern_triggers WHERE pattern_id = ? ORDER BY ord")
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare triggers load", err)
	}
	err = trigStmt.All(ctx, func(row dbadapter.RowScanner) error {
		var t Trigger
		var regexInt int
		if err := row.Scan(&t.Kind, &t.Value, &regexInt); err != nil {
			return err
		}
		t.Regex = regexInt != 0
		p.Triggers = append(p.Triggers, t)
		return nil
	}, p.ID)
	trigStmt.Close()
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "load triggers", err)
	}

	vocabStmt, err := q.Prepare(ctx, "SELECT term, type, weight FROM pattern_vocabulary WHERE pattern_id = ? ORDER BY term")
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare vocabulary load", err)
	}
	err = vocabStmt.All(ctx, func(row dbadapter.RowScanner) error {
		var v VocabTerm
		if err := row.Scan(&v.Term, &v.Type, &v.Weight); err != nil {
			return err
		}
		p.Vocabulary = append(p.Vocabulary, v)
		return nil
	}, p.ID)
	vocabStmt.Close()
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "load vocabulary", err)
	}

	snipStmt, err := q.Prepare(ctx, `SELECT id, label, language, file, line_start, line_end, content, size_bytes
		FROM snippets WHERE pattern_id = ? ORDER BY id`)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare snippets load", err)
	}
	err = snipStmt.All(ctx, func(row dbadapter.RowScanner) error {
		var s Snippet
		if err := row.Scan(&s.ID, &s.Label, &s.Language, &s.File, &s.LineStart, &s.LineEnd, &s.Content, &s.SizeBytes); err != nil {
			return err
		}
		p.Snippets = append(p.Snippets, s)
		return nil
	}, p.ID)
	snipStmt.Close()
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "load snippets", err)
	}

	return nil
}

func scanStrings(ctx context.Context, q queryer, query, id string) ([]string, error) {
	stmt, err := q.Prepare(ctx, query)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare facet load", err)
	}
	defer stmt.Close()
	var out []string
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var s string
		if err := row.Scan(&s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}, id)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "scan facet", err)
	}
	return out, nil
}

// writeFacets replaces every child-table row for p.ID: delete then
// reinsert, the simplest correct strategy for a small, bounded-size
// facet set (spec.md never calls for incremental facet diffing).
func (r *Repository) writeFacets(ctx context.Context, tx dbadapter.Tx, p *Pattern) error {
	tables := []string{
		"pattern_languages", "pattern_frameworks", "pattern_paths", "pattern_repos",
		"pattern_task_types", "pattern_envs", "pattern_tags", "pattern_keywords",
		"pattern_pitfalls", "pattern_triggers", "pattern_vocabulary", "snippets",
	}
	for _, t := range tables {
		stmt, err := tx.Prepare(ctx, "DELETE FROM "+t+" WHERE pattern_id = ?")
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "prepare facet clear", err)
		}
		_, err = stmt.Run(ctx, p.ID)
		stmt.Close()
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "clear facet table "+t, err)
		}
	}

	insertAll := func(query string, values [][]any) error {
		if len(values) == 0 {
			return nil
		}
		stmt, err := tx.Prepare(ctx, query)
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "prepare facet insert", err)
		}
		defer stmt.Close()
		for _, v := range values {
			if _, err := stmt.Run(ctx, v...); err != nil {
				return apexerr.Wrap(apexerr.Internal, "insert facet row", err)
			}
		}
		return nil
	}

	var languages, paths, repos, taskTypes, envs, tags, keywords [][]any
	for _, v := range p.Languages {
		languages = append(languages, []any{p.ID, v})
	}
	for _, v := range p.Paths {
		paths = append(paths, []any{p.ID, v})
	}
	for _, v := range p.Repos {
		repos = append(repos, []any{p.ID, v})
	}
	for _, v := range p.TaskTypes {
		taskTypes = append(taskTypes, []any{p.ID, v})
	}
	for _, v := range p.Envs {
		envs = append(envs, []any{p.ID, v})
	}
	for _, v := range p.Tags {
		tags = append(tags, []any{p.ID, v})
	}
	for _, v := range p.Keywords {
		keywords = append(keywords, []any{p.ID, v})
	}
	if err := insertAll("INSERT INTO pattern_languages (pattern_id, language) VALUES (?, ?)", languages); err != nil {
		return err
	}
	if err := insertAll("INSERT INTO pattern_paths (pattern_id, path_glob) VALUES (?, ?)", paths); err != nil {
		return err
	}
	if err := insertAll("INSERT INTO pattern_repos (pattern_id, repo) VALUES (?, ?)", repos); err != nil {
		return err
	}
	if err := insertAll("INSERT INTO pattern_task_types (pattern_id, task_type) VALUES (?, ?)", taskTypes); err != nil {
		return err
	}
	if err := insertAll("INSERT INTO pattern_envs (pattern_id, env) VALUES (?, ?)", envs); err != nil {
		return err
	}
	if err := insertAll("INSERT INTO pattern_tags (pattern_id, tag) VALUES (?, ?)", tags); err != nil {
		return err
	}
	if err := insertAll("INSERT INTO pattern_keywords (pattern_id, keyword) VALUES (?, ?)", keywords); err != nil {
		return err
	}

	var frameworks [][]any
	for _, f := range p.Frameworks {
		frameworks = append(frameworks, []any{p.ID, f.Name, f.Range})
	}
	if err := insertAll("INSERT INTO pattern_frameworks (pattern_id, name, range) VALUES (?, ?, ?)", frameworks); err != nil {
		return err
	}

	var pitfalls [][]any
	for i, v := range p.CommonPitfalls {
		pitfalls = append(pitfalls, []any{p.ID, i, v})
	}
	if err := insertAll("INSERT INTO pattern_pitfalls (pattern_id, ord, pitfall) VALUES (?, ?, ?)", pitfalls); err != nil {
		return err
	}

	var triggers [][]any
	for i, t := range p.Triggers {
		triggers = append(triggers, []any{p.ID, i, t.Kind, t.Value, boolInt(t.Regex)})
	}
	if err := insertAll("INSERT INTO pattern_triggers (pattern_id, ord, kind, value, is_regex) VALUES (?, ?, ?, ?, ?)", triggers); err != nil {
		return err
	}

	var vocab [][]any
	for _, v := range p.Vocabulary {
		vocab = append(vocab, []any{p.ID, v.Term, v.Type, v.Weight})
	}
	if err := insertAll("INSERT INTO pattern_vocabulary (pattern_id, term, type, weight) VALUES (?, ?, ?, ?)", vocab); err != nil {
		return err
	}

	var snippets [][]any
	for _, s := range p.Snippets {
		snippets = append(snippets, []any{s.ID, p.ID, s.Label, s.Language, s.File, s.LineStart, s.LineEnd, s.Content, s.SizeBytes})
	}
	if err := insertAll(`INSERT INTO snippets (id, pattern_id, label, language, file, line_start, line_end, content, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, snippets); err != nil {
		return err
	}

	return nil
}

// updateFTSManually maintains patterns_fts for backends without FTS
// trigger support (spec.md §4.1, §4.3): delete then reinsert the row,
// mirroring the trigger bodies in schema.go's ftsTriggerSchema.
func (r *Repository) updateFTSManually(ctx context.Context, tx dbadapter.Tx, p *Pattern) error {
	delStmt, err := tx.Prepare(ctx, "DELETE FROM patterns_fts WHERE id = ?")
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare fts delete", err)
	}
	_, err = delStmt.Run(ctx, p.ID)
	delStmt.Close()
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "clear fts row", err)
	}

	if p.Invalid {
		return nil
	}

	insStmt, err := tx.Prepare(ctx, `INSERT INTO patterns_fts (rowid, id, title, summary, tags, keywords, search_index)
		SELECT rowid, ?, ?, ?, ?, ?, ? FROM patterns WHERE id = ?`)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare fts insert", err)
	}
	defer insStmt.Close()
	_, err = insStmt.Run(ctx, p.ID, p.Title, p.Summary, strings.Join(p.Tags, " "), strings.Join(p.Keywords, " "), p.SearchIndex, p.ID)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "insert fts row", err)
	}
	return nil
}

// updateSearchVector maintains the Postgres tsvector column explicitly
// (SupportsFTSTriggers() == false for that backend), combining the
// same fields bm25 ranks over on SQLite.
func (r *Repository) updateSearchVector(ctx context.Context, tx dbadapter.Tx, p *Pattern) error {
	stmt, err := tx.Prepare(ctx, `UPDATE patterns SET search_vector =
		setweight(to_tsvector('english', coalesce(title, '')), 'A') ||
		setweight(to_tsvector('english', coalesce(summary, '')), 'B') ||
		setweight(to_tsvector('english', ?), 'C') ||
		setweight(to_tsvector('english', ?), 'C') ||
		setweight(to_tsvector('english', coalesce(search_index, '')), 'D')
		WHERE id = ?`)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare tsvector update", err)
	}
	defer stmt.Close()
	_, err = stmt.Run(ctx, strings.Join(p.Tags, " "), strings.Join(p.Keywords, " "), p.ID)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "update tsvector", err)
	}
	return nil
}
