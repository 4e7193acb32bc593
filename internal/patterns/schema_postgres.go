package patterns

// schemaPostgres mirrors schema.go's table-per-facet layout translated
// to Postgres types (BYTEA instead of BLOB, TIMESTAMPTZ instead of
// DATETIME). Postgres has no FTS5 virtual table; patterns carries a
// tsvector column instead, maintained explicitly by the repository on
// every write (spec.md §4.1, §4.3 — "callers MUST fall back to
// explicit synchronization when supportsFTSTriggers is false").
const schemaPostgres = `
CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL DEFAULT 1,
	pattern_version INTEGER NOT NULL DEFAULT 1,
	type TEXT NOT NULL,
	title TEXT NOT NULL CHECK(length(title) <= 500),
	summary TEXT NOT NULL DEFAULT '',
	trust_score DOUBLE PRECISION NOT NULL DEFAULT 0.3,
	alpha DOUBLE PRECISION NOT NULL DEFAULT 1,
	beta DOUBLE PRECISION NOT NULL DEFAULT 1,
	usage_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	alias TEXT UNIQUE,
	provenance TEXT NOT NULL DEFAULT 'manual',
	invalid BOOLEAN NOT NULL DEFAULT false,
	invalid_reason TEXT DEFAULT '',
	key_insight TEXT DEFAULT '',
	when_to_use TEXT DEFAULT '',
	search_index TEXT DEFAULT '',
	half_life_days INTEGER NOT NULL DEFAULT 0,
	pattern_digest TEXT NOT NULL DEFAULT '',
	json_canonical BYTEA,
	search_vector TSVECTOR,
	CHECK (alpha >= 1 AND beta >= 1),
	CHECK (trust_score >= 0 AND trust_score <= 1)
);

CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(type);
CREATE INDEX IF NOT EXISTS idx_patterns_invalid ON patterns(invalid);
CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_digest ON patterns(pattern_digest) WHERE pattern_digest != '';
CREATE INDEX IF NOT EXISTS idx_patterns_search_vector ON patterns USING GIN(search_vector);

CREATE TABLE IF NOT EXISTS pattern_languages (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	language TEXT NOT NULL,
	PRIMARY KEY (pattern_id, language)
);

CREATE TABLE IF NOT EXISTS pattern_frameworks (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	range TEXT DEFAULT '',
	PRIMARY KEY (pattern_id, name)
);

CREATE TABLE IF NOT EXISTS pattern_paths (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	path_glob TEXT NOT NULL,
	PRIMARY KEY (pattern_id, path_glob)
);

CREATE TABLE IF NOT EXISTS pattern_repos (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	repo TEXT NOT NULL,
	PRIMARY KEY (pattern_id, repo)
);

CREATE TABLE IF NOT EXISTS pattern_task_types (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	task_type TEXT NOT NULL,
	PRIMARY KEY (pattern_id, task_type)
);

CREATE TABLE IF NOT EXISTS pattern_envs (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	env TEXT NOT NULL,
	PRIMARY KEY (pattern_id, env)
);

CREATE TABLE IF NOT EXISTS pattern_tags (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	PRIMARY KEY (pattern_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_pattern_tags_tag ON pattern_tags(tag);

CREATE TABLE IF NOT EXISTS pattern_keywords (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	keyword TEXT NOT NULL,
	PRIMARY KEY (pattern_id, keyword)
);

CREATE TABLE IF NOT EXISTS pattern_pitfalls (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	ord INTEGER NOT NULL,
	pitfall TEXT NOT NULL,
	PRIMARY KEY (pattern_id, ord)
);

CREATE TABLE IF NOT EXISTS pattern_triggers (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	ord INTEGER NOT NULL,
	kind TEXT NOT NULL,
	value TEXT NOT NULL,
	is_regex BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (pattern_id, ord)
);

CREATE TABLE IF NOT EXISTS pattern_vocabulary (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	term TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	PRIMARY KEY (pattern_id, term)
);

CREATE TABLE IF NOT EXISTS snippets (
	id TEXT NOT NULL,
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	label TEXT NOT NULL DEFAULT '',
	language TEXT DEFAULT '',
	file TEXT DEFAULT '',
	line_start INTEGER DEFAULT 0,
	line_end INTEGER DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (pattern_id, id)
);

CREATE TABLE IF NOT EXISTS pattern_metadata (
	pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (pattern_id, key)
);

CREATE TABLE IF NOT EXISTS alias_counters (
	base_slug TEXT PRIMARY KEY,
	last_suffix INTEGER NOT NULL DEFAULT 0
);
`
