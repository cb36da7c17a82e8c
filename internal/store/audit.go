package store

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry records one mutating API request.
type AuditEntry struct {
	ID        int64  `json:"id"`
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Action    string `json:"action"`
	Resource  string `json:"resource"`
	Result    string `json:"result"`
	Details   string `json:"details,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// SaveAudit appends an audit entry.
func (s *Store) SaveAudit(ctx context.Context, e *AuditEntry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (request_id, user_id, action, resource, result, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.UserID, e.Action, e.Resource, e.Result, e.Details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, user_id, action, COALESCE(resource, ''), result, COALESCE(details, ''), created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.RequestID, &e.UserID, &e.Action, &e.Resource, &e.Result, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
