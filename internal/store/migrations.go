package store

import (
	"fmt"
	"strconv"
)

// migrations are applied in order; index i brings the schema to version i+1.
var migrations = []string{
	// v1: projects and collaborators.
	`
	CREATE TABLE IF NOT EXISTS projects (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		manager_id       TEXT NOT NULL,
		manager_login    TEXT NOT NULL DEFAULT '',
		repo_owner       TEXT NOT NULL DEFAULT '',
		repo_name        TEXT NOT NULL DEFAULT '',
		github_repo_link TEXT,
		status           TEXT NOT NULL DEFAULT 'active',
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_manager ON projects(manager_id);
	CREATE INDEX IF NOT EXISTS idx_projects_repo ON projects(repo_owner, repo_name);

	CREATE TABLE IF NOT EXISTS collaborators (
		id              TEXT PRIMARY KEY,
		project_id      TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		github_username TEXT NOT NULL,
		permissions     TEXT NOT NULL DEFAULT '[]',
		access          TEXT NOT NULL DEFAULT 'pull',
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_collab_project_user
		ON collaborators(project_id, lower(github_username));
	CREATE INDEX IF NOT EXISTS idx_collab_user ON collaborators(lower(github_username));
	`,
	// v2: append-only project audit trail. No foreign key, so rows outlive
	// the project they describe.
	`
	CREATE TABLE IF NOT EXISTS project_events (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		actor_id    TEXT NOT NULL,
		summary     TEXT NOT NULL DEFAULT '',
		metadata    TEXT,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pevt_project ON project_events(project_id, created_at);
	`,
	// v3: HTTP request audit log.
	`
	CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL DEFAULT '',
		user_id    TEXT NOT NULL,
		action     TEXT NOT NULL,
		resource   TEXT,
		result     TEXT NOT NULL,
		details    TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
	`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	current := s.SchemaVersion()
	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration v%d: begin: %w", version, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration v%d: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`, strconv.Itoa(version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration v%d: commit: %w", version, err)
		}
		s.logger.Info().Int("version", version).Msg("applied migration")
	}
	return nil
}

// SchemaVersion returns the applied schema version, 0 for a fresh database.
func (s *Store) SchemaVersion() int {
	var raw string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw); err != nil {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}
