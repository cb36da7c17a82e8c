package project

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/permission"
)

// fakeGitHub is an in-memory GitHub keyed by "owner/repo". Set errs[op] to
// make the next calls of op fail.
type fakeGitHub struct {
	mu       sync.Mutex
	viewer   string
	repos    map[string]*github.Repo
	branches map[string][]github.Branch
	prs      map[string]map[int]*github.PullRequest
	collabs  map[string]map[string]permission.Access
	calls    map[string]int
	errs     map[string]error
	nextPR   int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		viewer:   "hub-bot",
		repos:    map[string]*github.Repo{},
		branches: map[string][]github.Branch{},
		prs:      map[string]map[int]*github.PullRequest{},
		collabs:  map[string]map[string]permission.Access{},
		calls:    map[string]int{},
		errs:     map[string]error{},
		nextPR:   1,
	}
}

// hit counts a call to op and returns its injected error. Callers hold mu.
func (f *fakeGitHub) hit(op string) error {
	f.calls[op]++
	return f.errs[op]
}

func (f *fakeGitHub) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGitHub) failWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeGitHub) seedRepo(owner, name string, branches ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + name
	f.repos[key] = &github.Repo{Owner: owner, Name: name, HTMLURL: "https://github.com/" + key, DefaultBranch: "main"}
	f.branches[key] = []github.Branch{{Name: "main", SHA: "sha-main", IsDefault: true}}
	for _, b := range branches {
		f.branches[key] = append(f.branches[key], github.Branch{Name: b, SHA: "sha-" + b})
	}
}

func (f *fakeGitHub) seedPR(owner, name string, state string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + name
	n := f.nextPR
	f.nextPR++
	if f.prs[key] == nil {
		f.prs[key] = map[int]*github.PullRequest{}
	}
	f.prs[key][n] = &github.PullRequest{Number: n, Title: "seeded", State: state, Base: "main", Compare: "feature"}
	return n
}

func (f *fakeGitHub) hasCollaborator(owner, name, user string) (permission.Access, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.collabs[owner+"/"+name][strings.ToLower(user)]
	return a, ok
}

func notFound(op string) error {
	return apperr.New(apperr.KindNotFound, op, "Not Found")
}

func (f *fakeGitHub) CreateRepository(_ context.Context, owner, name string, visibility github.Visibility) (*github.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateRepository"); err != nil {
		return nil, err
	}
	if owner == "" {
		owner = f.viewer
	}
	key := owner + "/" + name
	if _, ok := f.repos[key]; ok {
		return nil, apperr.New(apperr.KindConflict, "github.CreateRepository", github.MsgNameExists)
	}
	r := &github.Repo{Owner: owner, Name: name, HTMLURL: "https://github.com/" + key, DefaultBranch: "main",
		Private: visibility != github.VisibilityPublic}
	f.repos[key] = r
	f.branches[key] = []github.Branch{{Name: "main", SHA: "sha-main", IsDefault: true}}
	return r, nil
}

func (f *fakeGitHub) DeleteRepository(_ context.Context, owner, repo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("DeleteRepository"); err != nil {
		return err
	}
	key := owner + "/" + repo
	if _, ok := f.repos[key]; !ok {
		return notFound("github.DeleteRepository")
	}
	delete(f.repos, key)
	return nil
}

func (f *fakeGitHub) ListBranches(_ context.Context, owner, repo string) ([]github.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("ListBranches"); err != nil {
		return nil, err
	}
	key := owner + "/" + repo
	if _, ok := f.repos[key]; !ok {
		return nil, notFound("github.ListBranches")
	}
	return append([]github.Branch(nil), f.branches[key]...), nil
}

func (f *fakeGitHub) CreateBranch(_ context.Context, owner, repo, name, baseSHA string) (*github.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreateBranch"); err != nil {
		return nil, err
	}
	key := owner + "/" + repo
	for _, b := range f.branches[key] {
		if b.Name == name {
			return nil, apperr.Newf(apperr.KindConflict, "github.CreateBranch", "branch %s already exists", name)
		}
	}
	b := github.Branch{Name: name, SHA: baseSHA}
	f.branches[key] = append(f.branches[key], b)
	return &b, nil
}

func (f *fakeGitHub) DeleteBranch(_ context.Context, owner, repo, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("DeleteBranch"); err != nil {
		return err
	}
	key := owner + "/" + repo
	list := f.branches[key]
	for i, b := range list {
		if b.Name != name {
			continue
		}
		if b.IsDefault || b.Protected {
			return apperr.New(apperr.KindForbidden, "github.DeleteBranch", "branch is protected")
		}
		f.branches[key] = append(list[:i], list[i+1:]...)
		return nil
	}
	return notFound("github.DeleteBranch")
}

func (f *fakeGitHub) CreatePullRequest(_ context.Context, owner, repo string, in github.NewPullRequest) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("CreatePullRequest"); err != nil {
		return nil, err
	}
	key := owner + "/" + repo
	n := f.nextPR
	f.nextPR++
	pr := &github.PullRequest{
		Number: n, Title: in.Title, Description: in.Description, State: github.PRStateOpen,
		Author: f.viewer, Base: in.Base, Compare: in.Compare, Reviewers: in.Reviewers,
		URL: fmt.Sprintf("https://github.com/%s/pull/%d", key, n),
	}
	if f.prs[key] == nil {
		f.prs[key] = map[int]*github.PullRequest{}
	}
	f.prs[key][n] = pr
	if err := f.errs["RequestReviewers"]; err != nil && len(in.Reviewers) > 0 {
		cp := *pr
		cp.Reviewers = nil
		return &cp, apperr.Wrap(apperr.KindPartialFailure, "github.CreatePullRequest", err, "pull request created but reviewers could not be requested")
	}
	cp := *pr
	return &cp, nil
}

func (f *fakeGitHub) GetPullRequest(_ context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("GetPullRequest"); err != nil {
		return nil, err
	}
	pr, ok := f.prs[owner+"/"+repo][number]
	if !ok {
		return nil, notFound("github.GetPullRequest")
	}
	cp := *pr
	return &cp, nil
}

func (f *fakeGitHub) ListPullRequests(_ context.Context, owner, repo, state string) ([]github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("ListPullRequests"); err != nil {
		return nil, err
	}
	if state == "" {
		state = github.PRStateOpen
	}
	var out []github.PullRequest
	for n := 1; n < f.nextPR; n++ {
		pr, ok := f.prs[owner+"/"+repo][n]
		if !ok {
			continue
		}
		open := pr.State == github.PRStateOpen
		if state == "all" || (state == "open") == open {
			out = append(out, *pr)
		}
	}
	return out, nil
}

func (f *fakeGitHub) UpdatePullRequest(_ context.Context, owner, repo string, number int, patch github.PullRequestPatch) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("UpdatePullRequest"); err != nil {
		return nil, err
	}
	pr, ok := f.prs[owner+"/"+repo][number]
	if !ok {
		return nil, notFound("github.UpdatePullRequest")
	}
	if patch.Title != nil {
		pr.Title = *patch.Title
	}
	if patch.Description != nil {
		pr.Description = *patch.Description
	}
	cp := *pr
	return &cp, nil
}

func (f *fakeGitHub) ClosePullRequest(_ context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("ClosePullRequest"); err != nil {
		return nil, err
	}
	pr, ok := f.prs[owner+"/"+repo][number]
	if !ok {
		return nil, notFound("github.ClosePullRequest")
	}
	pr.State = github.PRStateClosed
	cp := *pr
	return &cp, nil
}

func (f *fakeGitHub) AddCollaborator(_ context.Context, owner, repo, username string, access permission.Access) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("AddCollaborator"); err != nil {
		return err
	}
	key := owner + "/" + repo
	if f.collabs[key] == nil {
		f.collabs[key] = map[string]permission.Access{}
	}
	f.collabs[key][strings.ToLower(username)] = access
	return nil
}

func (f *fakeGitHub) RemoveCollaborator(_ context.Context, owner, repo, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("RemoveCollaborator"); err != nil {
		return err
	}
	key := owner + "/" + repo
	if _, ok := f.collabs[key][strings.ToLower(username)]; !ok {
		return notFound("github.RemoveCollaborator")
	}
	delete(f.collabs[key], strings.ToLower(username))
	return nil
}
