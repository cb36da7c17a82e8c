package project

import (
	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/permission"
)

// Status is the lifecycle state of a project.
type Status string

const (
	StatusActive          Status = "active"
	StatusPendingDeletion Status = "pending_deletion"
	StatusDeleted         Status = "deleted"
)

// AccountRoleManager is the account-level role allowed to create projects.
const AccountRoleManager = "manager"

// Project is the local record a GitHub repository is attached to.
type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	ManagerID      string `json:"managerId"`
	ManagerLogin   string `json:"managerLogin"`
	RepoOwner      string `json:"repoOwner"`
	RepoName       string `json:"repoName"`
	GitHubRepoLink string `json:"githubRepoLink,omitempty"`
	Status         Status `json:"status"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// Collaborator is a non-manager member of a project. Access is the GitHub
// tier last synced for the member.
type Collaborator struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"projectId"`
	GitHubUsername string            `json:"githubUsername"`
	Permissions    []string          `json:"permissions"`
	Access         permission.Access `json:"access"`
	CreatedAt      int64             `json:"createdAt"`
	UpdatedAt      int64             `json:"updatedAt"`
}

// Capabilities returns the collaborator's permissions as a set. Stored values
// were validated on the way in; anything unrecognized is dropped.
func (c *Collaborator) Capabilities() permission.Set {
	caps := make([]permission.Capability, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		if cp := permission.Capability(p); cp.Valid() {
			caps = append(caps, cp)
		}
	}
	return permission.NewSet(caps...)
}

// Event types written to the project audit trail.
const (
	EventProjectCreated     = "project.created"
	EventProjectUpdated     = "project.updated"
	EventPendingDeletion    = "project.pending_deletion"
	EventProjectDeleted     = "project.deleted"
	EventRepoDeleted        = "project.repo_deleted"
	EventRepoDeleteFailed   = "project.repo_delete_failed"
	EventCollaboratorAdded  = "collaborator.added"
	EventCollaboratorRemove = "collaborator.removed"
	EventPermissionsUpdated = "collaborator.permissions_updated"
	EventBranchCreated      = "branch.created"
	EventBranchDeleted      = "branch.deleted"
	EventPRCreated          = "pull_request.created"
	EventPREdited           = "pull_request.edited"
	EventPRClosed           = "pull_request.closed"

	// Changes made directly on GitHub, reported by webhook.
	EventGitHubRepository  = "github.repository"
	EventGitHubPullRequest = "github.pull_request"
	EventGitHubMember      = "github.member"
)

// ProjectEvent is one row of the append-only project audit trail.
type ProjectEvent struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	EventType string `json:"eventType"`
	ActorID   string `json:"actorId"`
	Summary   string `json:"summary"`
	Metadata  string `json:"metadata,omitempty"` // JSON
	CreatedAt int64  `json:"createdAt"`
}

// Actor is the authenticated caller as established by the HTTP layer.
type Actor struct {
	UserID      string `json:"userId"`
	Login       string `json:"login"`
	AccountRole string `json:"accountRole"`
}

// Repo choice modes.
const (
	RepoModeCreateNew    = "create-new"
	RepoModeLinkExisting = "link-existing"
)

// RepoChoice selects between creating a repository and linking one.
type RepoChoice struct {
	Mode       string            `json:"mode"`
	Name       string            `json:"name,omitempty"`
	Visibility github.Visibility `json:"visibility,omitempty"`
	URL        string            `json:"url,omitempty"`
}

// CreateProjectInput holds the parameters for creating a new project.
type CreateProjectInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	RepoChoice  RepoChoice `json:"repoChoice"`
}

// UpdateProjectInput holds the parameters for updating a project.
type UpdateProjectInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// DeleteResult reports each phase of a project deletion separately.
type DeleteResult struct {
	LocalDeleted  bool   `json:"localDeleted"`
	RepoDeleted   bool   `json:"repoDeleted"`
	RepoRequested bool   `json:"repoRequested"`
	RepoURL       string `json:"repoUrl,omitempty"`
	RepoError     string `json:"repoError,omitempty"`
	RepoErrorKind string `json:"repoErrorKind,omitempty"`
}

// Partial reports whether repository deletion was requested and failed.
func (r *DeleteResult) Partial() bool {
	return r.LocalDeleted && r.RepoRequested && !r.RepoDeleted
}

// PullRequestInput holds the parameters for opening a pull request.
type PullRequestInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Base        string   `json:"base"`
	Compare     string   `json:"compare"`
	Reviewers   []string `json:"reviewers"`
}
