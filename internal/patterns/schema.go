package patterns

// schema is the pattern-store DDL, grounded on BeadsLog's
// internal/storage/sqlite/schema.go table-per-facet style: the base
// table carries scalar fields, every repeating attribute (languages,
// frameworks, paths, repos, task_types, envs, tags, triggers,
// vocabulary, snippets) gets its own child table with an ON DELETE
// CASCADE foreign key back to patterns(id), exactly as BeadsLog splits
// dependencies/labels/comments off of issues.
//
// This DDL targets the SQLite-family backends (sqlitewasm,
// sqlitepure). FTS5 virtual table creation is conditional on
// SupportsFTSTriggers and is therefore issued separately (FTSSchemaDDL,
// run by Repository.EnsureSchema), not embedded here.
const schema = `
CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL DEFAULT 1,
	pattern_version INTEGER NOT NULL DEFAULT 1,
	type TEXT NOT NULL,
	title TEXT NOT NULL CHECK(length(title) <= 500),
	summary TEXT NOT NULL DEFAULT '',
	trust_score REAL NOT NULL DEFAULT 0.3,
	alpha REAL NOT NULL DEFAULT 1,
	beta REAL NOT NULL DEFAULT 1,
	usage_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	alias TEXT UNIQUE,
	provenance TEXT NOT NULL DEFAULT 'manual',
	invalid INTEGER NOT NULL DEFAULT 0,
	invalid_reason TEXT DEFAULT '',
	key_insight TEXT DEFAULT '',
	when_to_use TEXT DEFAULT '',
	search_index TEXT DEFAULT '',
	half_life_days INTEGER NOT NULL DEFAULT 0,
	pattern_digest TEXT NOT NULL DEFAULT '',
	json_canonical BLOB,
	CHECK (alpha >= 1 AND beta >= 1),
	CHECK (trust_score >= 0 AND trust_score <= 1)
);

CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(type);
CREATE INDEX IF NOT EXISTS idx_patterns_invalid ON patterns(invalid);
CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_digest ON patterns(pattern_digest) WHERE pattern_digest != '';

CREATE TABLE IF NOT EXISTS pattern_languages (
	pattern_id TEXT NOT NULL,
	language TEXT NOT NULL,
	PRIMARY KEY (pattern_id, language),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_frameworks (
	pattern_id TEXT NOT NULL,
	name TEXT NOT NULL,
	range TEXT DEFAULT '',
	PRIMARY KEY (pattern_id, name),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_paths (
	pattern_id TEXT NOT NULL,
	path_glob TEXT NOT NULL,
	PRIMARY KEY (pattern_id, path_glob),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_repos (
	pattern_id TEXT NOT NULL,
	repo TEXT NOT NULL,
	PRIMARY KEY (pattern_id, repo),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_task_types (
	pattern_id TEXT NOT NULL,
	task_type TEXT NOT NULL,
	PRIMARY KEY (pattern_id, task_type),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_envs (
	pattern_id TEXT NOT NULL,
	env TEXT NOT NULL,
	PRIMARY KEY (pattern_id, env),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_tags (
	pattern_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (pattern_id, tag),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_pattern_tags_tag ON pattern_tags(tag);

CREATE TABLE IF NOT EXISTS pattern_keywords (
	pattern_id TEXT NOT NULL,
	keyword TEXT NOT NULL,
	PRIMARY KEY (pattern_id, keyword),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_pitfalls (
	pattern_id TEXT NOT NULL,
	ord INTEGER NOT NULL,
	pitfall TEXT NOT NULL,
	PRIMARY KEY (pattern_id, ord),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_triggers (
	pattern_id TEXT NOT NULL,
	ord INTEGER NOT NULL,
	kind TEXT NOT NULL,
	value TEXT NOT NULL,
	is_regex INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (pattern_id, ord),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_vocabulary (
	pattern_id TEXT NOT NULL,
	term TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	weight REAL NOT NULL DEFAULT 1.0,
	PRIMARY KEY (pattern_id, term),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snippets (
	id TEXT NOT NULL,
	pattern_id TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	language TEXT DEFAULT '',
	file TEXT DEFAULT '',
	line_start INTEGER DEFAULT 0,
	line_end INTEGER DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (pattern_id, id),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pattern_metadata (
	pattern_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (pattern_id, key),
	FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);
`

// ftsTriggerSchema creates the patterns_fts virtual table plus the
// triggers that keep it synchronized automatically, used only by
// backends where SupportsFTSTriggers() is true (spec.md §4.1, §4.3).
const ftsTriggerSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS patterns_fts USING fts5(
	id UNINDEXED,
	title,
	summary,
	tags,
	keywords,
	search_index
);

CREATE TRIGGER IF NOT EXISTS patterns_fts_ai AFTER INSERT ON patterns
WHEN NEW.invalid = 0
BEGIN
	INSERT INTO patterns_fts(rowid, id, title, summary, tags, keywords, search_index)
	SELECT NEW.rowid, NEW.id, NEW.title, NEW.summary,
		COALESCE((SELECT group_concat(tag, ' ') FROM pattern_tags WHERE pattern_id = NEW.id), ''),
		COALESCE((SELECT group_concat(keyword, ' ') FROM pattern_keywords WHERE pattern_id = NEW.id), ''),
		NEW.search_index;
END;

CREATE TRIGGER IF NOT EXISTS patterns_fts_ad AFTER DELETE ON patterns
BEGIN
	DELETE FROM patterns_fts WHERE rowid = OLD.rowid;
END;

CREATE TRIGGER IF NOT EXISTS patterns_fts_au AFTER UPDATE ON patterns
BEGIN
	DELETE FROM patterns_fts WHERE rowid = OLD.rowid;
	INSERT INTO patterns_fts(rowid, id, title, summary, tags, keywords, search_index)
	SELECT NEW.rowid, NEW.id, NEW.title, NEW.summary,
		COALESCE((SELECT group_concat(tag, ' ') FROM pattern_tags WHERE pattern_id = NEW.id), ''),
		COALESCE((SELECT group_concat(keyword, ' ') FROM pattern_keywords WHERE pattern_id = NEW.id), ''),
		NEW.search_index
	WHERE NEW.invalid = 0;
END;
`

// ftsPlainSchema creates patterns_fts with no triggers, for backends
// without SupportsFTSTriggers (or without FTS5 at all, e.g. postgres,
// which instead gets a tsvector column maintained explicitly by the
// repository — see schemaPostgres in schema_postgres.go).
const ftsPlainSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS patterns_fts USING fts5(
	id UNINDEXED,
	title,
	summary,
	tags,
	keywords,
	search_index
);
`
