package history

// schema holds the history database migrations. Tables are append-mostly:
// a row is written when the registry archives a terminal entity.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	run_type TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL,
	response TEXT,
	error TEXT,
	logs TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS pipelines (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	pr_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL,
	error TEXT,
	logs TEXT,
	steps TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id);
CREATE INDEX IF NOT EXISTS idx_pipelines_target ON pipelines(project_id, pr_number);
`
