package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		description TEXT,
		priority INTEGER NOT NULL,
		deadline DATETIME,
		status TEXT NOT NULL,
		agent_id TEXT,
		parent_id TEXT,
		requirements TEXT NOT NULL,
		result TEXT,
		subtasks TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		capabilities TEXT NOT NULL,
		max_concurrent INTEGER NOT NULL,
		active INTEGER NOT NULL,
		error_count INTEGER NOT NULL DEFAULT 0,
		last_heartbeat DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		context_id TEXT NOT NULL,
		agent_id TEXT,
		operation TEXT NOT NULL,
		resource TEXT,
		allowed INTEGER NOT NULL,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
