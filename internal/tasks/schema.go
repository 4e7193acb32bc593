package tasks

// schema is the SQLite DDL for the task store (spec.md §6 persistent
// state layout: tasks, task_files, task_evidence, task_similarity).
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	intent TEXT NOT NULL DEFAULT '',
	task_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	phase TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.3,
	tags TEXT NOT NULL DEFAULT '[]',
	brief TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT '',
	key_learning TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS task_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	action TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_files_task ON task_files(task_id);

CREATE TABLE IF NOT EXISTS task_evidence (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	ref TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_evidence_task ON task_evidence(task_id);

CREATE TABLE IF NOT EXISTS task_similarity (
	task_a TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	task_b TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	score REAL NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (task_a, task_b)
);
`

// schemaPostgres is the Postgres dialect of the same DDL.
const schemaPostgres = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	intent TEXT NOT NULL DEFAULT '',
	task_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	phase TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0.3,
	tags TEXT NOT NULL DEFAULT '[]',
	brief TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT '',
	key_learning TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS task_files (
	id BIGSERIAL PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	action TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_files_task ON task_files(task_id);

CREATE TABLE IF NOT EXISTS task_evidence (
	id BIGSERIAL PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	ref TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_evidence_task ON task_evidence(task_id);

CREATE TABLE IF NOT EXISTS task_similarity (
	task_a TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	task_b TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	score DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (task_a, task_b)
);
`
