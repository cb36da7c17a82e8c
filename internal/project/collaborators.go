package project

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/permission"
)

var loginRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,37}[A-Za-z0-9])?$`)

// ValidLogin reports whether s is a syntactically valid GitHub login.
func ValidLogin(s string) bool {
	return loginRe.MatchString(s) && !strings.Contains(s, "--")
}

func parsePermissions(op string, raw []string) (permission.Set, error) {
	set, err := permission.ParseCapabilities(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err, err.Error())
	}
	return set, nil
}

// ListCollaborators lists a project's collaborators. The manager is not
// among them.
func (s *Service) ListCollaborators(ctx context.Context, actor Actor, projectID string) ([]*Collaborator, error) {
	if _, err := s.authorize(ctx, actor, projectID, permission.ActionListCollaborators); err != nil {
		return nil, err
	}
	return s.store.ListCollaborators(ctx, projectID)
}

// AddCollaborator grants username access on GitHub at the tier implied by
// the requested capabilities and records the collaborator only once GitHub
// accepted the grant.
func (s *Service) AddCollaborator(ctx context.Context, actor Actor, projectID, username string, requested []string) (*Collaborator, error) {
	const op = "project.AddCollaborator"
	username = strings.TrimSpace(username)
	if !ValidLogin(username) {
		return nil, apperr.Newf(apperr.KindValidation, op, "invalid GitHub username %q", username)
	}
	caps, err := parsePermissions(op, requested)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	m, err := s.authorize(ctx, actor, projectID, permission.ActionAddCollaborator)
	if err != nil {
		return nil, err
	}
	p := m.Project
	if sameLogin(p.ManagerLogin, username) {
		return nil, apperr.New(apperr.KindValidation, op, "the project manager already holds every capability")
	}
	existing, err := s.store.FindCollaborator(ctx, projectID, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Newf(apperr.KindConflict, op, "%s is already a collaborator", existing.GitHubUsername)
	}

	access := permission.AccessFor(caps)
	if err := s.github.AddCollaborator(ctx, p.RepoOwner, p.RepoName, username, access); err != nil {
		return nil, err
	}

	c := &Collaborator{
		ProjectID:      projectID,
		GitHubUsername: username,
		Permissions:    caps.Strings(),
		Access:         access,
	}
	err = s.store.AddCollaborator(ctx, c, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventCollaboratorAdded,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("%s added with %s access", username, access),
		Metadata:  metadataJSON(map[string]any{"username": username, "permissions": c.Permissions, "access": access}),
	})
	if err != nil {
		// Undo the grant so GitHub access never outlives a missing local record.
		if rerr := s.github.RemoveCollaborator(context.WithoutCancel(ctx), p.RepoOwner, p.RepoName, username); rerr != nil && !github.IsNotFound(rerr) {
			s.logger.Error().Err(rerr).Str("project_id", projectID).Str("username", username).
				Msg("collaborator granted on GitHub but not stored; revoke failed")
		}
		return nil, err
	}

	s.logger.Info().Str("project_id", projectID).Str("username", username).Str("access", string(access)).Msg("collaborator added")
	return c, nil
}

// RemoveCollaborator revokes GitHub access first and deletes the local record
// only after GitHub confirmed. A user GitHub does not know counts as revoked.
func (s *Service) RemoveCollaborator(ctx context.Context, actor Actor, projectID, collaboratorID string) error {
	unlock := s.locks.Lock(projectID)
	defer unlock()

	m, err := s.authorize(ctx, actor, projectID, permission.ActionRemoveCollaborator)
	if err != nil {
		return err
	}
	p := m.Project
	c, err := s.store.GetCollaborator(ctx, projectID, collaboratorID)
	if err != nil {
		return err
	}

	if err := s.github.RemoveCollaborator(ctx, p.RepoOwner, p.RepoName, c.GitHubUsername); err != nil && !github.IsNotFound(err) {
		s.logger.Warn().Err(err).Str("project_id", projectID).Str("username", c.GitHubUsername).Msg("GitHub revoke failed; collaborator kept")
		return err
	}

	if err := s.store.DeleteCollaborator(ctx, projectID, collaboratorID, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventCollaboratorRemove,
		ActorID:   actor.UserID,
		Summary:   c.GitHubUsername + " removed",
		Metadata:  metadataJSON(map[string]any{"username": c.GitHubUsername}),
	}); err != nil {
		return err
	}
	s.logger.Info().Str("project_id", projectID).Str("username", c.GitHubUsername).Msg("collaborator removed")
	return nil
}

// UpdatePermissions replaces a collaborator's capabilities. GitHub is
// touched only when the access tier changes, and before the local write.
func (s *Service) UpdatePermissions(ctx context.Context, actor Actor, projectID, collaboratorID string, requested []string) (*Collaborator, error) {
	const op = "project.UpdatePermissions"
	caps, err := parsePermissions(op, requested)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	m, err := s.authorize(ctx, actor, projectID, permission.ActionUpdatePermissions)
	if err != nil {
		return nil, err
	}
	p := m.Project
	c, err := s.store.GetCollaborator(ctx, projectID, collaboratorID)
	if err != nil {
		return nil, err
	}

	oldAccess := c.Access
	newAccess := permission.AccessFor(caps)
	if newAccess != oldAccess {
		if err := s.github.AddCollaborator(ctx, p.RepoOwner, p.RepoName, c.GitHubUsername, newAccess); err != nil {
			return nil, err
		}
	}

	c.Permissions = caps.Strings()
	c.Access = newAccess
	if err := s.store.UpdateCollaborator(ctx, c, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventPermissionsUpdated,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("%s permissions updated", c.GitHubUsername),
		Metadata: metadataJSON(map[string]any{
			"username": c.GitHubUsername, "permissions": c.Permissions,
			"access": newAccess, "previousAccess": oldAccess,
		}),
	}); err != nil {
		return nil, err
	}
	return c, nil
}
