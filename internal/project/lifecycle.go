package project

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/permission"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 2000
)

func validateName(op, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.New(apperr.KindValidation, op, "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", apperr.Newf(apperr.KindValidation, op, "name must be at most %d characters", maxNameLen)
	}
	return name, nil
}

func validateDescription(op, desc string) error {
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return apperr.Newf(apperr.KindValidation, op, "description must be at most %d characters", maxDescriptionLen)
	}
	return nil
}

// repoLink is the canonical browser URL of a repository.
func repoLink(owner, name string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, name)
}

// CreateProject creates a project owned by actor and attaches a repository,
// either freshly created or linked by URL. Only account managers may create
// projects. A taken repository name surfaces as a conflict and nothing is
// stored.
func (s *Service) CreateProject(ctx context.Context, actor Actor, in CreateProjectInput) (*Project, error) {
	const op = "project.Create"
	if actor.AccountRole != AccountRoleManager {
		return nil, apperr.New(apperr.KindAuthorization, op, "only managers can create projects")
	}
	name, err := validateName(op, in.Name)
	if err != nil {
		return nil, err
	}
	if err := validateDescription(op, in.Description); err != nil {
		return nil, err
	}

	p := &Project{
		Name:         name,
		Description:  in.Description,
		ManagerID:    actor.UserID,
		ManagerLogin: actor.Login,
	}
	choice := in.RepoChoice
	created := false

	switch choice.Mode {
	case RepoModeCreateNew:
		if !github.ValidRepoName(choice.Name) {
			return nil, apperr.Newf(apperr.KindValidation, op, "invalid repository name %q", choice.Name)
		}
		repo, err := s.github.CreateRepository(ctx, s.owner, choice.Name, choice.Visibility)
		if err != nil {
			return nil, err
		}
		created = true
		p.RepoOwner, p.RepoName = repo.Owner, repo.Name
		p.GitHubRepoLink = repo.HTMLURL
		if p.GitHubRepoLink == "" {
			p.GitHubRepoLink = repoLink(repo.Owner, repo.Name)
		}

	case RepoModeLinkExisting:
		owner, name, err := github.ParseRepoURL(choice.URL)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, op, err, "repository URL must look like https://github.com/<owner>/<repo>")
		}
		p.RepoOwner, p.RepoName = owner, name
		p.GitHubRepoLink = repoLink(owner, name)

	default:
		return nil, apperr.Newf(apperr.KindValidation, op, "repoChoice.mode must be %q or %q", RepoModeCreateNew, RepoModeLinkExisting)
	}

	ev := &ProjectEvent{
		EventType: EventProjectCreated,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("Project %q created", p.Name),
		Metadata:  metadataJSON(map[string]any{"repo": p.GitHubRepoLink, "mode": choice.Mode}),
	}
	if err := s.store.CreateProject(ctx, p, ev); err != nil {
		if created {
			// The repository exists only because of this request.
			if derr := s.github.DeleteRepository(context.WithoutCancel(ctx), p.RepoOwner, p.RepoName); derr != nil && !github.IsNotFound(derr) {
				s.logger.Error().Err(derr).Str("repo", p.GitHubRepoLink).Msg("failed to remove repository after project insert failed")
			}
		}
		return nil, err
	}

	s.logger.Info().Str("project_id", p.ID).Str("repo", p.GitHubRepoLink).Str("mode", choice.Mode).Msg("project created")
	s.metrics.RecordLifecycle(EventProjectCreated)
	s.notify(ctx, Notification{Event: EventProjectCreated, Project: p, Actor: actor.Login,
		Message: fmt.Sprintf("Project %q created with repository %s", p.Name, p.GitHubRepoLink)})
	return p, nil
}

// GetProject returns a project the actor is a member of.
func (s *Service) GetProject(ctx context.Context, actor Actor, projectID string) (*Project, error) {
	m, err := s.authorize(ctx, actor, projectID, permission.ActionViewProject)
	if err != nil {
		return nil, err
	}
	return m.Project, nil
}

// ListProjects lists the projects the actor manages or collaborates on.
func (s *Service) ListProjects(ctx context.Context, actor Actor) ([]*Project, error) {
	projects, err := s.store.ListProjectsForMember(ctx, actor.UserID, actor.Login)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []*Project{}
	}
	return projects, nil
}

// UpdateProject changes name and description. Manager only.
func (s *Service) UpdateProject(ctx context.Context, actor Actor, projectID string, in UpdateProjectInput) (*Project, error) {
	const op = "project.Update"
	if in.Name == nil && in.Description == nil {
		return nil, apperr.New(apperr.KindValidation, op, "nothing to update")
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	m, err := s.authorize(ctx, actor, projectID, permission.ActionUpdateProject)
	if err != nil {
		return nil, err
	}
	p := m.Project
	if in.Name != nil {
		name, err := validateName(op, *in.Name)
		if err != nil {
			return nil, err
		}
		p.Name = name
	}
	if in.Description != nil {
		if err := validateDescription(op, *in.Description); err != nil {
			return nil, err
		}
		p.Description = *in.Description
	}

	if err := s.store.UpdateProject(ctx, p, &ProjectEvent{
		ProjectID: p.ID,
		EventType: EventProjectUpdated,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("Project %q updated", p.Name),
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProject removes the project locally and, only when alsoDeleteRepo is
// set, deletes its repository afterwards. Local deletion is final: a failed
// repository deletion is reported in the result, never rolled back.
func (s *Service) DeleteProject(ctx context.Context, actor Actor, projectID string, alsoDeleteRepo bool) (*DeleteResult, error) {
	unlock := s.locks.Lock(projectID)
	defer unlock()

	m, err := s.authorize(ctx, actor, projectID, permission.ActionDeleteProject)
	if err != nil {
		return nil, err
	}
	p := m.Project
	log := s.logger.With().Str("project_id", p.ID).Str("repo", p.GitHubRepoLink).Logger()

	// Phase 1: local.
	if p.Status == StatusActive {
		if err := s.store.SetStatus(ctx, p.ID, StatusPendingDeletion, &ProjectEvent{
			ProjectID: p.ID,
			EventType: EventPendingDeletion,
			ActorID:   actor.UserID,
			Summary:   fmt.Sprintf("Deletion of project %q started", p.Name),
			Metadata:  metadataJSON(map[string]any{"deleteRepo": alsoDeleteRepo}),
		}); err != nil {
			return nil, err
		}
	}
	if err := s.store.DeleteProject(ctx, p.ID, &ProjectEvent{
		ProjectID: p.ID,
		EventType: EventProjectDeleted,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("Project %q deleted", p.Name),
		Metadata:  metadataJSON(map[string]any{"repo": p.GitHubRepoLink, "deleteRepo": alsoDeleteRepo}),
	}); err != nil {
		log.Error().Err(err).Msg("local project deletion failed; project left pending deletion")
		return nil, err
	}
	p.Status = StatusDeleted
	s.metrics.RecordLifecycle(EventProjectDeleted)
	log.Info().Bool("delete_repo", alsoDeleteRepo).Msg("project deleted locally")

	res := &DeleteResult{LocalDeleted: true, RepoRequested: alsoDeleteRepo, RepoURL: p.GitHubRepoLink}
	if !alsoDeleteRepo || p.RepoName == "" {
		s.notify(ctx, Notification{Event: EventProjectDeleted, Project: p, Actor: actor.Login,
			Message: fmt.Sprintf("Project %q deleted; repository %s left untouched", p.Name, p.GitHubRepoLink)})
		return res, nil
	}

	// Phase 2: best-effort repository deletion.
	err = s.github.DeleteRepository(ctx, p.RepoOwner, p.RepoName)
	if err == nil || github.IsNotFound(err) {
		res.RepoDeleted = true
		s.record(ctx, &ProjectEvent{
			ProjectID: p.ID,
			EventType: EventRepoDeleted,
			ActorID:   actor.UserID,
			Summary:   "Repository " + p.GitHubRepoLink + " deleted",
		})
		s.notify(ctx, Notification{Event: EventProjectDeleted, Project: p, Actor: actor.Login,
			Message: fmt.Sprintf("Project %q and repository %s deleted", p.Name, p.GitHubRepoLink)})
		return res, nil
	}

	res.RepoError = apperr.MessageOf(err)
	res.RepoErrorKind = string(apperr.KindOf(err))
	log.Warn().Err(err).Msg("repository deletion failed after local deletion")
	s.metrics.RecordLifecycle(EventRepoDeleteFailed)
	s.record(ctx, &ProjectEvent{
		ProjectID: p.ID,
		EventType: EventRepoDeleteFailed,
		ActorID:   actor.UserID,
		Summary:   "Repository " + p.GitHubRepoLink + " must be deleted manually",
		Metadata:  metadataJSON(map[string]any{"error": res.RepoError, "kind": res.RepoErrorKind}),
	})
	s.notify(ctx, Notification{Event: EventRepoDeleteFailed, Project: p, Actor: actor.Login, Urgent: true,
		Message: fmt.Sprintf("Project %q was deleted but repository %s could not be deleted (%s). Delete it manually.",
			p.Name, p.GitHubRepoLink, res.RepoError)})
	return res, nil
}

// ListEvents returns the project's audit trail, newest first.
func (s *Service) ListEvents(ctx context.Context, actor Actor, projectID string, limit int) ([]*ProjectEvent, error) {
	if _, err := s.authorize(ctx, actor, projectID, permission.ActionViewProject); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, projectID, limit)
}
