package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/store"
)

// Store handles project-related SQLite operations.
type Store struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewStore creates a new project store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		logger: logger.With().Str("component", "project.store").Logger(),
	}
}

// DB returns the underlying sql.DB for direct use.
func (s *Store) DB() *sql.DB {
	return s.ds.DB()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// CreateProject inserts p, filling in ID and timestamps, and records ev in
// the same transaction.
func (s *Store) CreateProject(ctx context.Context, p *Project, ev *ProjectEvent) error {
	now := time.Now().UnixMilli()
	p.ID = uuid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = StatusActive
	}

	tx, err := s.ds.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO projects (id, name, description, manager_id, manager_login, repo_owner, repo_name, github_repo_link, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.ManagerID, p.ManagerLogin, p.RepoOwner, p.RepoName,
		sql.NullString{String: p.GitHubRepoLink, Valid: p.GitHubRepoLink != ""},
		p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	if ev != nil {
		ev.ProjectID = p.ID
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// projectColumns is the standard column list for project queries.
const projectColumns = `id, name, description, manager_id, manager_login, repo_owner, repo_name, github_repo_link, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	var link sql.NullString
	if err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.ManagerID, &p.ManagerLogin,
		&p.RepoOwner, &p.RepoName, &link, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if link.Valid {
		p.GitHubRepoLink = link.String
	}
	return p, nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.ds.DB().QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "project.Get", "project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (s *Store) queryProjects(ctx context.Context, query string, args ...any) ([]*Project, error) {
	rows, err := s.ds.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListProjectsForMember lists projects the user manages or collaborates on.
func (s *Store) ListProjectsForMember(ctx context.Context, userID, login string) ([]*Project, error) {
	return s.queryProjects(ctx, `
	SELECT `+projectColumns+` FROM projects
	WHERE manager_id = ?
	   OR (? != '' AND id IN (SELECT project_id FROM collaborators WHERE lower(github_username) = lower(?)))
	ORDER BY updated_at DESC`, userID, login, login)
}

// ListProjectsByRepo lists projects linked to owner/name.
func (s *Store) ListProjectsByRepo(ctx context.Context, owner, name string) ([]*Project, error) {
	return s.queryProjects(ctx, `
	SELECT `+projectColumns+` FROM projects
	WHERE lower(repo_owner) = lower(?) AND lower(repo_name) = lower(?)`, owner, name)
}

// UpdateProject writes name and description and records ev.
func (s *Store) UpdateProject(ctx context.Context, p *Project, ev *ProjectEvent) error {
	p.UpdatedAt = time.Now().UnixMilli()
	return s.withEvent(ctx, ev, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
			p.Name, p.Description, p.UpdatedAt, p.ID)
		if err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		return requireRow(res, "project.Update", "project not found")
	})
}

// SetStatus moves a project to status and records ev.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, ev *ProjectEvent) error {
	return s.withEvent(ctx, ev, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
			status, time.Now().UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("failed to set project status: %w", err)
		}
		return requireRow(res, "project.SetStatus", "project not found")
	})
}

// DeleteProject removes the project and its collaborators in one
// transaction. The event is written in the same transaction and survives.
func (s *Store) DeleteProject(ctx context.Context, id string, ev *ProjectEvent) error {
	return s.withEvent(ctx, ev, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM collaborators WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete collaborators: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		return requireRow(res, "project.Delete", "project not found")
	})
}

// AddCollaborator inserts c and records ev. A duplicate login on the same
// project is a conflict.
func (s *Store) AddCollaborator(ctx context.Context, c *Collaborator, ev *ProjectEvent) error {
	now := time.Now().UnixMilli()
	c.ID = uuid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now
	perms, err := json.Marshal(c.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	return s.withEvent(ctx, ev, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO collaborators (id, project_id, github_username, permissions, access, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ProjectID, c.GitHubUsername, string(perms), c.Access, c.CreatedAt, c.UpdatedAt)
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.KindConflict, "project.AddCollaborator", "%s is already a collaborator", c.GitHubUsername)
		}
		if err != nil {
			return fmt.Errorf("failed to add collaborator: %w", err)
		}
		return nil
	})
}

const collaboratorColumns = `id, project_id, github_username, permissions, access, created_at, updated_at`

func scanCollaborator(row rowScanner) (*Collaborator, error) {
	c := &Collaborator{}
	var perms string
	if err := row.Scan(&c.ID, &c.ProjectID, &c.GitHubUsername, &perms, &c.Access, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(perms), &c.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	if c.Permissions == nil {
		c.Permissions = []string{}
	}
	return c, nil
}

// GetCollaborator retrieves a collaborator of projectID by ID.
func (s *Store) GetCollaborator(ctx context.Context, projectID, id string) (*Collaborator, error) {
	c, err := scanCollaborator(s.ds.DB().QueryRowContext(ctx,
		`SELECT `+collaboratorColumns+` FROM collaborators WHERE project_id = ? AND id = ?`, projectID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "project.GetCollaborator", "collaborator not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collaborator: %w", err)
	}
	return c, nil
}

// FindCollaborator looks a collaborator up by GitHub login, case-insensitively.
// It returns nil without error when there is none.
func (s *Store) FindCollaborator(ctx context.Context, projectID, login string) (*Collaborator, error) {
	c, err := scanCollaborator(s.ds.DB().QueryRowContext(ctx,
		`SELECT `+collaboratorColumns+` FROM collaborators WHERE project_id = ? AND lower(github_username) = lower(?)`, projectID, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find collaborator: %w", err)
	}
	return c, nil
}

// ListCollaborators lists a project's collaborators in creation order.
func (s *Store) ListCollaborators(ctx context.Context, projectID string) ([]*Collaborator, error) {
	rows, err := s.ds.DB().QueryContext(ctx,
		`SELECT `+collaboratorColumns+` FROM collaborators WHERE project_id = ? ORDER BY created_at ASC, github_username ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}
	defer rows.Close()

	collabs := []*Collaborator{}
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		collabs = append(collabs, c)
	}
	return collabs, rows.Err()
}

// UpdateCollaborator writes permissions and access and records ev.
func (s *Store) UpdateCollaborator(ctx context.Context, c *Collaborator, ev *ProjectEvent) error {
	c.UpdatedAt = time.Now().UnixMilli()
	perms, err := json.Marshal(c.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return s.withEvent(ctx, ev, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE collaborators SET permissions = ?, access = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
			string(perms), c.Access, c.UpdatedAt, c.ID, c.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to update collaborator: %w", err)
		}
		return requireRow(res, "project.UpdateCollaborator", "collaborator not found")
	})
}

// DeleteCollaborator removes a collaborator and records ev.
func (s *Store) DeleteCollaborator(ctx context.Context, projectID, id string, ev *ProjectEvent) error {
	return s.withEvent(ctx, ev, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM collaborators WHERE id = ? AND project_id = ?`, id, projectID)
		if err != nil {
			return fmt.Errorf("failed to delete collaborator: %w", err)
		}
		return requireRow(res, "project.DeleteCollaborator", "collaborator not found")
	})
}

// AddEvent records a project event outside any other write.
func (s *Store) AddEvent(ctx context.Context, ev *ProjectEvent) error {
	return insertEvent(ctx, s.ds.DB(), ev)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, ev *ProjectEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.ExecContext(ctx, `
	INSERT INTO project_events (id, project_id, event_type, actor_id, summary, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ProjectID, ev.EventType, ev.ActorID, ev.Summary,
		sql.NullString{String: ev.Metadata, Valid: ev.Metadata != ""}, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events of a project first.
func (s *Store) ListEvents(ctx context.Context, projectID string, limit int) ([]*ProjectEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.ds.DB().QueryContext(ctx, `
	SELECT id, project_id, event_type, actor_id, summary, COALESCE(metadata, ''), created_at
	FROM project_events WHERE project_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*ProjectEvent{}
	for rows.Next() {
		e := &ProjectEvent{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.ActorID, &e.Summary, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) withEvent(ctx context.Context, ev *ProjectEvent, fn func(tx *sql.Tx) error) error {
	tx, err := s.ds.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if ev != nil {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func requireRow(res sql.Result, op, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, op, msg)
	}
	return nil
}

// metadataJSON marshals event metadata, dropping it on failure.
func metadataJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
