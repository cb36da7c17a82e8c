package project

import (
	"context"
	"fmt"

	"github.com/p-blackswan/projecthub/internal/github"
)

// webhookActor marks events that did not originate from a service caller.
const webhookActor = "github"

// HandleRepositoryEvent records a repository change on every project linked
// to the repository. A repository deleted behind the service's back is also
// reported to the managers.
func (s *Service) HandleRepositoryEvent(ctx context.Context, ev github.RepositoryEvent) {
	summary := fmt.Sprintf("Repository %s/%s %s on GitHub by %s", ev.Owner, ev.Repo, ev.Action, ev.Sender)
	for _, p := range s.linkedProjects(ctx, ev.Owner, ev.Repo) {
		s.record(ctx, &ProjectEvent{
			ProjectID: p.ID,
			EventType: EventGitHubRepository,
			ActorID:   webhookActor,
			Summary:   summary,
			Metadata:  metadataJSON(map[string]any{"action": ev.Action, "sender": ev.Sender}),
		})
		if ev.Action == "deleted" {
			s.notify(ctx, Notification{Event: EventGitHubRepository, Project: p, Actor: ev.Sender, Urgent: true,
				Message: fmt.Sprintf("Repository %s linked to project %q was deleted directly on GitHub", p.GitHubRepoLink, p.Name)})
		}
	}
}

// HandlePullRequestEvent records pull request state changes.
func (s *Service) HandlePullRequestEvent(ctx context.Context, ev github.PullRequestEvent) {
	for _, p := range s.linkedProjects(ctx, ev.Owner, ev.Repo) {
		s.record(ctx, &ProjectEvent{
			ProjectID: p.ID,
			EventType: EventGitHubPullRequest,
			ActorID:   webhookActor,
			Summary:   fmt.Sprintf("Pull request #%d %s by %s", ev.Number, ev.Action, ev.Sender),
			Metadata:  metadataJSON(map[string]any{"number": ev.Number, "action": ev.Action, "state": ev.State}),
		})
	}
}

// HandleMemberEvent records collaborator changes made on GitHub. The local
// collaborator list is not rewritten; the event tells the manager that the
// two disagree.
func (s *Service) HandleMemberEvent(ctx context.Context, ev github.MemberEvent) {
	for _, p := range s.linkedProjects(ctx, ev.Owner, ev.Repo) {
		s.record(ctx, &ProjectEvent{
			ProjectID: p.ID,
			EventType: EventGitHubMember,
			ActorID:   webhookActor,
			Summary:   fmt.Sprintf("%s %s on GitHub by %s", ev.Member, ev.Action, ev.Sender),
			Metadata:  metadataJSON(map[string]any{"member": ev.Member, "action": ev.Action}),
		})
	}
}

func (s *Service) linkedProjects(ctx context.Context, owner, repo string) []*Project {
	projects, err := s.store.ListProjectsByRepo(ctx, owner, repo)
	if err != nil {
		s.logger.Error().Err(err).Str("repo", owner+"/"+repo).Msg("failed to look up projects for webhook")
		return nil
	}
	if len(projects) == 0 {
		s.logger.Debug().Str("repo", owner+"/"+repo).Msg("webhook for unlinked repository")
	}
	return projects
}

// RegisterWebhooks routes webhook events to the service.
func (s *Service) RegisterWebhooks(h *github.WebhookHandler) {
	h.OnRepository(s.HandleRepositoryEvent)
	h.OnPullRequest(s.HandlePullRequestEvent)
	h.OnMember(s.HandleMemberEvent)
}
