package sqlite

import (
	"context"
	"fmt"
)

// baseSchema is the original on-disk layout. Columns added after the first
// release are NOT listed here; they arrive through the additive migrations
// in migrate.go, on fresh files and legacy files alike.
const baseSchema = `
	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		readable_id TEXT NOT NULL,
		title TEXT NOT NULL,
		project_name TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		assignee_login TEXT,
		assignee_name TEXT,
		reporter_login TEXT,
		reporter_name TEXT,
		priority TEXT,
		priority_rank INTEGER NOT NULL DEFAULT 0,
		status TEXT,
		tags_json TEXT,
		custom_fields_json TEXT,

		-- local-only state
		is_dirty INTEGER NOT NULL DEFAULT 0,
		local_updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS issue_queries (
		query_key TEXT NOT NULL,
		issue_id TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		sort_index INTEGER NOT NULL,
		PRIMARY KEY (query_key, issue_id),
		FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS issue_mutations (
		id TEXT PRIMARY KEY,
		issue_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		local_changes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_attempt_at TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS issue_boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		project_names_json TEXT,
		sprints_json TEXT,
		current_sprint_id TEXT,
		column_field_name TEXT,
		columns_json TEXT,
		swimlane_json TEXT,
		orphans_at_top INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS saved_queries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		query TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Indexes for delta-sync watermarks and cached query reads
	CREATE INDEX IF NOT EXISTS idx_issues_project_updated
	    ON issues(project_name, updated_at);
	CREATE INDEX IF NOT EXISTS idx_issues_dirty ON issues(is_dirty);
	CREATE INDEX IF NOT EXISTS idx_queries_key_sort
	    ON issue_queries(query_key, sort_index);
	CREATE INDEX IF NOT EXISTS idx_queries_issue ON issue_queries(issue_id);
	CREATE INDEX IF NOT EXISTS idx_mutations_issue_created
	    ON issue_mutations(issue_id, created_at);
	`

// initSchema creates the base tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
