package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/djh00t/steve/internal/registry"
)

// SaveTask saves or updates a task snapshot.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *registry.Task) error {
	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	requirements, err := json.Marshal(task.Requirements)
	if err != nil {
		return fmt.Errorf("failed to encode requirements: %w", err)
	}

	// Result and subtasks stay NULL until they exist, so recovery can tell
	// "no result yet" from an empty one.
	var result any
	if task.Result != nil {
		data, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		result = string(data)
	}

	var subtasks any
	if len(task.Subtasks) > 0 {
		data, err := json.Marshal(task.Subtasks)
		if err != nil {
			return fmt.Errorf("failed to encode subtasks: %w", err)
		}
		subtasks = string(data)
	}

	// Upsert task (insert or update on conflict)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, type, description, priority, deadline, status, agent_id, parent_id, requirements, result, subtasks, created_at, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			description = excluded.description,
			priority = excluded.priority,
			deadline = excluded.deadline,
			status = excluded.status,
			agent_id = excluded.agent_id,
			parent_id = excluded.parent_id,
			requirements = excluded.requirements,
			result = excluded.result,
			subtasks = excluded.subtasks,
			started_at = excluded.started_at,
			updated_at = CURRENT_TIMESTAMP
	`, task.ID, task.Type, task.Description, task.Priority.Level, nullTime(task.Priority.Deadline),
		task.Status.String(), task.AgentID, task.Parent, string(requirements), result, subtasks,
		task.CreatedAt.UTC(), nullTime(task.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTask retrieves a task snapshot by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*registry.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, description, priority, deadline, status, agent_id, parent_id, requirements, result, subtasks, created_at, started_at
		FROM tasks
		WHERE id = ?
	`, taskID)

	task, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", taskID, registry.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return task, nil
}

// LoadTasks returns all stored task snapshots in creation order.
func (s *SQLiteStore) LoadTasks(ctx context.Context) ([]*registry.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, description, priority, deadline, status, agent_id, parent_id, requirements, result, subtasks, created_at, started_at
		FROM tasks
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*registry.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// scanTask decodes one tasks row. The scan argument is either sql.Row.Scan
// or sql.Rows.Scan, which share a signature but no interface.
func scanTask(scan func(dest ...any) error) (*registry.Task, error) {
	task := &registry.Task{}
	var (
		statusStr    string
		requirements string
		result       sql.NullString
		subtasks     sql.NullString
		deadline     sql.NullTime
		startedAt    sql.NullTime
	)

	err := scan(&task.ID, &task.Type, &task.Description, &task.Priority.Level, &deadline,
		&statusStr, &task.AgentID, &task.Parent, &requirements, &result, &subtasks,
		&task.CreatedAt, &startedAt)
	if err != nil {
		return nil, err
	}

	status, ok := registry.ParseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("task %s: unknown status %q", task.ID, statusStr)
	}
	task.Status = status

	if err := json.Unmarshal([]byte(requirements), &task.Requirements); err != nil {
		return nil, fmt.Errorf("task %s: decode requirements: %w", task.ID, err)
	}
	if result.Valid {
		task.Result = &registry.Result{}
		if err := json.Unmarshal([]byte(result.String), task.Result); err != nil {
			return nil, fmt.Errorf("task %s: decode result: %w", task.ID, err)
		}
	}
	if subtasks.Valid {
		if err := json.Unmarshal([]byte(subtasks.String), &task.Subtasks); err != nil {
			return nil, fmt.Errorf("task %s: decode subtasks: %w", task.ID, err)
		}
	}
	if deadline.Valid {
		task.Priority.Deadline = deadline.Time
	}
	if startedAt.Valid {
		task.StartedAt = startedAt.Time
	}

	return task, nil
}
