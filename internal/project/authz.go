package project

import (
	"context"
	"strings"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/permission"
)

// Membership is the actor's standing on one project.
type Membership struct {
	Project      *Project
	Role         permission.Role
	Capabilities permission.Set
	Collaborator *Collaborator
}

// resolve loads the project and the actor's role on it. The manager is
// recognized by user ID and never looked up among collaborators.
func (s *Service) resolve(ctx context.Context, actor Actor, projectID string) (*Membership, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	m := &Membership{Project: p, Role: permission.RoleNone, Capabilities: permission.NewSet()}

	if actor.UserID != "" && actor.UserID == p.ManagerID {
		m.Role = permission.RoleManager
		m.Capabilities = permission.NewSet(permission.AllCapabilities...)
		return m, nil
	}
	if actor.Login == "" {
		return m, nil
	}
	c, err := s.store.FindCollaborator(ctx, projectID, actor.Login)
	if err != nil {
		return nil, err
	}
	if c != nil {
		m.Role = permission.RoleDeveloper
		m.Capabilities = c.Capabilities()
		m.Collaborator = c
	}
	return m, nil
}

// authorize resolves the actor's membership and checks action against it.
// Only active projects accept actions other than viewing and deletion.
func (s *Service) authorize(ctx context.Context, actor Actor, projectID string, action permission.Action) (*Membership, error) {
	op := "project." + string(action)
	m, err := s.resolve(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if m.Role == permission.RoleNone {
		return nil, apperr.New(apperr.KindAuthorization, op, "not a member of this project")
	}
	if !permission.CanPerform(m.Role, m.Capabilities, action) {
		if cp, ok := permission.RequiredCapability(action); ok {
			return nil, apperr.Newf(apperr.KindAuthorization, op, "missing capability %s", cp)
		}
		return nil, apperr.New(apperr.KindAuthorization, op, "only the project manager can do this")
	}
	if m.Project.Status != StatusActive &&
		action != permission.ActionViewProject && action != permission.ActionDeleteProject {
		return nil, apperr.Newf(apperr.KindInvalidState, op, "project is %s", m.Project.Status)
	}
	return m, nil
}

// Permissions reports the actor's role, capabilities and allowed actions on
// a project. Consumers outside the service, such as code analysis, use it to
// gate their own work.
func (s *Service) Permissions(ctx context.Context, actor Actor, projectID string) (*MembershipView, error) {
	m, err := s.authorize(ctx, actor, projectID, permission.ActionViewProject)
	if err != nil {
		return nil, err
	}
	view := &MembershipView{
		ProjectID:    projectID,
		Role:         m.Role,
		Capabilities: m.Capabilities.Strings(),
		Actions:      []permission.Action{},
	}
	for _, a := range allActions {
		if permission.CanPerform(m.Role, m.Capabilities, a) {
			view.Actions = append(view.Actions, a)
		}
	}
	return view, nil
}

// MembershipView is the serializable form of a Membership.
type MembershipView struct {
	ProjectID    string              `json:"projectId"`
	Role         permission.Role     `json:"role"`
	Capabilities []string            `json:"capabilities"`
	Actions      []permission.Action `json:"actions"`
}

var allActions = []permission.Action{
	permission.ActionViewProject,
	permission.ActionUpdateProject,
	permission.ActionDeleteProject,
	permission.ActionListCollaborators,
	permission.ActionAddCollaborator,
	permission.ActionRemoveCollaborator,
	permission.ActionUpdatePermissions,
	permission.ActionListBranches,
	permission.ActionCreateBranch,
	permission.ActionDeleteBranch,
	permission.ActionListPullRequests,
	permission.ActionCreatePullRequest,
	permission.ActionEditPullRequest,
	permission.ActionClosePullRequest,
	permission.ActionRequestCodeAnalysis,
}

func sameLogin(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
