package project

import (
	"context"
	"fmt"
	"strings"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/permission"
)

// ListBranches returns a fresh snapshot of the project's branches.
func (s *Service) ListBranches(ctx context.Context, actor Actor, projectID string) ([]github.Branch, error) {
	m, err := s.authorize(ctx, actor, projectID, permission.ActionListBranches)
	if err != nil {
		return nil, err
	}
	return s.github.ListBranches(ctx, m.Project.RepoOwner, m.Project.RepoName)
}

// CreateBranch creates name from the tip of base. The branch list is
// refreshed first so a missing base or taken name is reported without a
// create call.
func (s *Service) CreateBranch(ctx context.Context, actor Actor, projectID, name, base string) (*github.Branch, error) {
	const op = "project.CreateBranch"
	name = strings.TrimSpace(name)
	base = strings.TrimSpace(base)
	if !github.ValidBranchName(name) {
		return nil, apperr.Newf(apperr.KindValidation, op, "invalid branch name %q", name)
	}
	if base == "" {
		return nil, apperr.New(apperr.KindValidation, op, "base branch is required")
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	m, err := s.authorize(ctx, actor, projectID, permission.ActionCreateBranch)
	if err != nil {
		return nil, err
	}
	p := m.Project

	branches, err := s.github.ListBranches(ctx, p.RepoOwner, p.RepoName)
	if err != nil {
		return nil, err
	}
	var baseSHA string
	for _, b := range branches {
		if b.Name == name {
			return nil, apperr.Newf(apperr.KindConflict, op, "branch %s already exists", name)
		}
		if b.Name == base {
			baseSHA = b.SHA
		}
	}
	if baseSHA == "" {
		return nil, apperr.Newf(apperr.KindNotFound, op, "base branch %s not found", base)
	}

	b, err := s.github.CreateBranch(ctx, p.RepoOwner, p.RepoName, name, baseSHA)
	if err != nil {
		return nil, err
	}
	s.record(ctx, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventBranchCreated,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("Branch %s created from %s", name, base),
		Metadata:  metadataJSON(map[string]any{"branch": name, "base": base, "sha": baseSHA}),
	})
	return b, nil
}

// DeleteBranch deletes a branch. The default and protected branches are
// refused by the adapter before any delete is issued.
func (s *Service) DeleteBranch(ctx context.Context, actor Actor, projectID, name string) error {
	const op = "project.DeleteBranch"
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.KindValidation, op, "branch name is required")
	}

	unlock := s.locks.Lock(projectID)
	defer unlock()

	m, err := s.authorize(ctx, actor, projectID, permission.ActionDeleteBranch)
	if err != nil {
		return err
	}
	if err := s.github.DeleteBranch(ctx, m.Project.RepoOwner, m.Project.RepoName, name); err != nil {
		return err
	}
	s.record(ctx, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventBranchDeleted,
		ActorID:   actor.UserID,
		Summary:   "Branch " + name + " deleted",
		Metadata:  metadataJSON(map[string]any{"branch": name}),
	})
	return nil
}

// ListPullRequests lists pull requests in state (open, closed or all).
func (s *Service) ListPullRequests(ctx context.Context, actor Actor, projectID, state string) ([]github.PullRequest, error) {
	m, err := s.authorize(ctx, actor, projectID, permission.ActionListPullRequests)
	if err != nil {
		return nil, err
	}
	return s.github.ListPullRequests(ctx, m.Project.RepoOwner, m.Project.RepoName, state)
}

// CreatePullRequest opens a pull request from compare into base. Reviewers
// must be members of the project. When GitHub opened the pull request but
// refused the reviewers, the pull request is returned together with a
// partial failure error.
func (s *Service) CreatePullRequest(ctx context.Context, actor Actor, projectID string, in PullRequestInput) (*github.PullRequest, error) {
	const op = "project.CreatePullRequest"
	in.Title = strings.TrimSpace(in.Title)
	in.Base = strings.TrimSpace(in.Base)
	in.Compare = strings.TrimSpace(in.Compare)
	if in.Title == "" {
		return nil, apperr.New(apperr.KindValidation, op, "title is required")
	}
	if in.Base == "" || in.Compare == "" {
		return nil, apperr.New(apperr.KindValidation, op, "base and compare branches are required")
	}
	if in.Base == in.Compare {
		return nil, apperr.New(apperr.KindConflict, op, "base and compare must be different branches")
	}

	m, err := s.authorize(ctx, actor, projectID, permission.ActionCreatePullRequest)
	if err != nil {
		return nil, err
	}
	p := m.Project

	reviewers, err := s.projectReviewers(ctx, p, in.Reviewers)
	if err != nil {
		return nil, err
	}

	pr, err := s.github.CreatePullRequest(ctx, p.RepoOwner, p.RepoName, github.NewPullRequest{
		Title:       in.Title,
		Description: in.Description,
		Base:        in.Base,
		Compare:     in.Compare,
		Reviewers:   reviewers,
	})
	if pr == nil {
		return nil, err
	}
	s.record(ctx, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventPRCreated,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("Pull request #%d opened: %s", pr.Number, pr.Title),
		Metadata:  metadataJSON(map[string]any{"number": pr.Number, "base": in.Base, "compare": in.Compare, "reviewers": reviewers}),
	})
	return pr, err
}

// projectReviewers checks every reviewer against the project's members and
// returns them with duplicates removed.
func (s *Service) projectReviewers(ctx context.Context, p *Project, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(requested))
	reviewers := make([]string, 0, len(requested))
	for _, r := range requested {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" || seen[key] {
			continue
		}
		seen[key] = true
		if !sameLogin(p.ManagerLogin, r) {
			c, err := s.store.FindCollaborator(ctx, p.ID, r)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, apperr.Newf(apperr.KindValidation, "project.CreatePullRequest", "reviewer %s is not a member of this project", r)
			}
		}
		reviewers = append(reviewers, r)
	}
	return reviewers, nil
}

// EditPullRequest changes the title or description of an open pull request.
func (s *Service) EditPullRequest(ctx context.Context, actor Actor, projectID string, number int, patch github.PullRequestPatch) (*github.PullRequest, error) {
	const op = "project.EditPullRequest"
	if err := github.ValidatePatch(patch); err != nil {
		return nil, err
	}
	m, err := s.authorize(ctx, actor, projectID, permission.ActionEditPullRequest)
	if err != nil {
		return nil, err
	}
	p := m.Project

	current, err := s.github.GetPullRequest(ctx, p.RepoOwner, p.RepoName, number)
	if err != nil {
		return nil, err
	}
	if current.State != github.PRStateOpen {
		return nil, apperr.Newf(apperr.KindInvalidState, op, "pull request #%d is %s", number, current.State)
	}

	pr, err := s.github.UpdatePullRequest(ctx, p.RepoOwner, p.RepoName, number, patch)
	if err != nil {
		return nil, err
	}
	s.record(ctx, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventPREdited,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("Pull request #%d edited", number),
		Metadata:  metadataJSON(map[string]any{"number": number}),
	})
	return pr, nil
}

// ClosePullRequest closes an open pull request. Closing one that is already
// closed or merged succeeds without touching GitHub.
func (s *Service) ClosePullRequest(ctx context.Context, actor Actor, projectID string, number int) (*github.PullRequest, error) {
	m, err := s.authorize(ctx, actor, projectID, permission.ActionClosePullRequest)
	if err != nil {
		return nil, err
	}
	p := m.Project

	current, err := s.github.GetPullRequest(ctx, p.RepoOwner, p.RepoName, number)
	if err != nil {
		return nil, err
	}
	if current.State != github.PRStateOpen {
		return current, nil
	}

	pr, err := s.github.ClosePullRequest(ctx, p.RepoOwner, p.RepoName, number)
	if err != nil {
		return nil, err
	}
	s.record(ctx, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventPRClosed,
		ActorID:   actor.UserID,
		Summary:   fmt.Sprintf("Pull request #%d closed", number),
		Metadata:  metadataJSON(map[string]any{"number": number}),
	})
	return pr, nil
}
