package store

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy bounds how long append-only tables keep rows. A zero
// duration keeps rows forever.
type RetentionPolicy struct {
	AuditLog      time.Duration
	ProjectEvents time.Duration
}

// DefaultRetention keeps the request audit log for 30 days and project
// events for a year.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		AuditLog:      30 * 24 * time.Hour,
		ProjectEvents: 365 * 24 * time.Hour,
	}
}

// RunRetention deletes rows older than the policy allows and returns the
// number of rows removed.
func (s *Store) RunRetention(ctx context.Context, p RetentionPolicy) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var removed int64

	if p.AuditLog > 0 {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM audit_log WHERE created_at < ?",
			now.Add(-p.AuditLog).UnixMilli(),
		)
		if err != nil {
			return removed, fmt.Errorf("failed to delete old audit logs: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if p.ProjectEvents > 0 {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM project_events WHERE created_at < ?",
			now.Add(-p.ProjectEvents).UnixMilli(),
		)
		if err != nil {
			return removed, fmt.Errorf("failed to delete old project events: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if removed > 0 {
		s.logger.Info().Int64("rows", removed).Msg("retention removed rows")
	}
	return removed, nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
