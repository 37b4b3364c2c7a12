package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/djh00t/steve/internal/registry"
)

// SaveAgent saves or updates an agent snapshot. In-flight task ownership is
// not stored here; it lives on the tasks rows and is reconciled on restart.
func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *registry.Agent) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	capabilities, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, name, capabilities, max_concurrent, active, error_count, last_heartbeat, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			capabilities = excluded.capabilities,
			max_concurrent = excluded.max_concurrent,
			active = excluded.active,
			error_count = excluded.error_count,
			last_heartbeat = excluded.last_heartbeat,
			updated_at = CURRENT_TIMESTAMP
	`, agent.ID, agent.Name, string(capabilities), agent.MaxConcurrent, agent.Active,
		agent.ErrorCount, nullTime(agent.LastHeartbeat))
	if err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetAgent retrieves an agent snapshot by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*registry.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, capabilities, max_concurrent, active, error_count, last_heartbeat
		FROM agents
		WHERE id = ?
	`, agentID)

	agent, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", agentID, registry.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return agent, nil
}

// LoadAgents returns all stored agent snapshots ordered by ID.
func (s *SQLiteStore) LoadAgents(ctx context.Context) ([]*registry.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, capabilities, max_concurrent, active, error_count, last_heartbeat
		FROM agents
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*registry.Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}

	return agents, nil
}

func scanAgent(scan func(dest ...any) error) (*registry.Agent, error) {
	agent := &registry.Agent{}
	var (
		capabilities  string
		lastHeartbeat sql.NullTime
	)

	err := scan(&agent.ID, &agent.Name, &capabilities, &agent.MaxConcurrent,
		&agent.Active, &agent.ErrorCount, &lastHeartbeat)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(capabilities), &agent.Capabilities); err != nil {
		return nil, fmt.Errorf("agent %s: decode capabilities: %w", agent.ID, err)
	}
	if lastHeartbeat.Valid {
		agent.LastHeartbeat = lastHeartbeat.Time
	}

	return agent, nil
}
