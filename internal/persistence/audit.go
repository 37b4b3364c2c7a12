package persistence

import (
	"context"
	"fmt"

	"github.com/djh00t/steve/internal/auth"
)

// SaveAudit appends one authorization decision to the audit log.
// The log is append-only; records are never updated or deleted.
func (s *SQLiteStore) SaveAudit(ctx context.Context, rec auth.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, context_id, agent_id, operation, resource, allowed, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.Timestamp.UTC(), rec.ContextID, rec.AgentID, rec.Operation, rec.Resource, rec.Allowed, rec.Reason)

	if err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}
	return nil
}

// LoadAudit returns the most recent audit records, newest first.
// A limit of zero or less returns everything.
func (s *SQLiteStore) LoadAudit(ctx context.Context, limit int) ([]auth.Record, error) {
	query := `
		SELECT timestamp, context_id, agent_id, operation, resource, allowed, reason
		FROM audit_log
		ORDER BY timestamp DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var records []auth.Record
	for rows.Next() {
		var rec auth.Record
		if err := rows.Scan(&rec.Timestamp, &rec.ContextID, &rec.AgentID,
			&rec.Operation, &rec.Resource, &rec.Allowed, &rec.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return records, nil
}
