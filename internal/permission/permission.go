// Package permission maps a user's project role and granted capabilities to
// the operations they may perform. It is pure: no I/O, no shared state.
package permission

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is an enumerated permission string granted to a collaborator.
type Capability string

const (
	CapManageCollaborators Capability = "manage-collaborators"
	CapEditBranches        Capability = "edit-branches"
	CapCreatePRs           Capability = "create-PRs"
	CapEditPRs             Capability = "edit-PRs"
	CapClosePRs            Capability = "close-PRs"
	CapCodeAnalysis        Capability = "code-analysis"
)

// AllCapabilities lists every capability in display order.
var AllCapabilities = []Capability{
	CapManageCollaborators,
	CapEditBranches,
	CapCreatePRs,
	CapEditPRs,
	CapClosePRs,
	CapCodeAnalysis,
}

// writeCapabilities need push access on the repository.
var writeCapabilities = map[Capability]bool{
	CapEditBranches: true,
	CapCreatePRs:    true,
	CapEditPRs:      true,
	CapClosePRs:     true,
}

// Valid reports whether c is one of the enumerated capabilities.
func (c Capability) Valid() bool {
	for _, known := range AllCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// Role is a user's relation to a project.
type Role string

const (
	RoleManager   Role = "manager"
	RoleDeveloper Role = "developer"
	RoleNone      Role = "none"
)

// Action names a gated orchestrator operation.
type Action string

const (
	ActionViewProject         Action = "view-project"
	ActionUpdateProject       Action = "update-project"
	ActionDeleteProject       Action = "delete-project"
	ActionListCollaborators   Action = "list-collaborators"
	ActionAddCollaborator     Action = "add-collaborator"
	ActionRemoveCollaborator  Action = "remove-collaborator"
	ActionUpdatePermissions   Action = "update-permissions"
	ActionListBranches        Action = "list-branches"
	ActionCreateBranch        Action = "create-branch"
	ActionDeleteBranch        Action = "delete-branch"
	ActionListPullRequests    Action = "list-pull-requests"
	ActionCreatePullRequest   Action = "create-pull-request"
	ActionEditPullRequest     Action = "edit-pull-request"
	ActionClosePullRequest    Action = "close-pull-request"
	ActionRequestCodeAnalysis Action = "request-code-analysis"
)

type requirement struct {
	capability  Capability
	memberOnly  bool // any project member
	managerOnly bool
}

var requirements = map[Action]requirement{
	ActionViewProject:         {memberOnly: true},
	ActionListCollaborators:   {memberOnly: true},
	ActionListBranches:        {memberOnly: true},
	ActionListPullRequests:    {memberOnly: true},
	ActionUpdateProject:       {managerOnly: true},
	ActionDeleteProject:       {managerOnly: true},
	ActionAddCollaborator:     {capability: CapManageCollaborators},
	ActionRemoveCollaborator:  {capability: CapManageCollaborators},
	ActionUpdatePermissions:   {capability: CapManageCollaborators},
	ActionCreateBranch:        {capability: CapEditBranches},
	ActionDeleteBranch:        {capability: CapEditBranches},
	ActionCreatePullRequest:   {capability: CapCreatePRs},
	ActionEditPullRequest:     {capability: CapEditPRs},
	ActionClosePullRequest:    {capability: CapClosePRs},
	ActionRequestCodeAnalysis: {capability: CapCodeAnalysis},
}

// RequiredCapability returns the capability gating action, if any.
func RequiredCapability(action Action) (Capability, bool) {
	req, ok := requirements[action]
	if !ok || req.capability == "" {
		return "", false
	}
	return req.capability, true
}

// CanPerform decides whether role with the granted capabilities may perform
// action. Managers bypass the capability lookup entirely. Unknown roles and
// unknown actions are denied.
func CanPerform(role Role, granted Set, action Action) bool {
	req, known := requirements[action]
	if role == RoleManager {
		return known
	}
	if role != RoleDeveloper || !known {
		return false
	}
	switch {
	case req.managerOnly:
		return false
	case req.memberOnly:
		return true
	default:
		return granted.Has(req.capability)
	}
}

// Set is an unordered set of capabilities.
type Set map[Capability]struct{}

// NewSet builds a set from caps.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports membership. A nil set has nothing.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities in AllCapabilities order.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s))
	for _, c := range AllCapabilities {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Strings returns the capability strings in canonical order.
func (s Set) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = string(c)
	}
	return out
}

// ParseCapabilities validates raw capability strings. Matching is exact:
// "create-prs" is not "create-PRs". Duplicates collapse.
func ParseCapabilities(raw []string) (Set, error) {
	set := make(Set, len(raw))
	var unknown []string
	for _, r := range raw {
		c := Capability(r)
		if !c.Valid() {
			unknown = append(unknown, r)
			continue
		}
		set[c] = struct{}{}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown capabilities: %s", strings.Join(unknown, ", "))
	}
	return set, nil
}

// Access is a GitHub repository permission level.
type Access string

const (
	AccessPush Access = "push"
	AccessPull Access = "pull"
)

// AccessFor derives the GitHub access tier for a capability set: any
// write-capable capability means push, anything else pull.
func AccessFor(s Set) Access {
	for c := range s {
		if writeCapabilities[c] {
			return AccessPush
		}
	}
	return AccessPull
}
