// Package github wraps the GitHub REST API behind the operations the project
// orchestrator needs and normalizes GitHub failures into internal error kinds.
package github

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/permission"
	"github.com/p-blackswan/projecthub/internal/retry"
)

// Recorder receives per-operation call metrics.
type Recorder interface {
	ObserveGitHubCall(op, outcome string, d time.Duration)
	RecordGitHubRetry(op string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveGitHubCall(string, string, time.Duration) {}
func (nopRecorder) RecordGitHubRetry(string) {}

// Adapter issues authenticated GitHub calls. It holds no per-request state;
// the only shared state is the authenticated login, resolved once.
type Adapter struct {
	clients ClientSource
	retry   retry.Config
	metrics Recorder
	logger  zerolog.Logger

	viewerMu   sync.Mutex
	viewer     string
	viewerDone bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRetry overrides the retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(a *Adapter) { a.retry = cfg }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Adapter) {
		if r != nil {
			a.metrics = r
		}
	}
}

// NewAdapter creates an Adapter over clients.
func NewAdapter(clients ClientSource, logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		clients: clients,
		retry:   retry.DefaultConfig(),
		metrics: nopRecorder{},
		logger:  logger.With().Str("component", "github").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// call runs fn with retries, error mapping and metrics.
func (a *Adapter) call(ctx context.Context, op, owner string, fn func(ctx context.Context, c *gh.Client) error) error {
	start := time.Now()

	client, err := a.clients.ForOwner(ctx, owner)
	if err != nil {
		err = apperr.Wrap(apperr.KindUpstream, "github."+op, err, "GitHub credentials unavailable")
		a.metrics.ObserveGitHubCall(op, string(apperr.KindOf(err)), time.Since(start))
		return err
	}

	cfg := a.retry
	cfg.OnRetry = func(attempt int, err error) {
		a.metrics.RecordGitHubRetry(op)
		a.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("retrying GitHub call")
	}
	err = mapError("github."+op, retry.Do(ctx, cfg, func(ctx context.Context) error {
		return mapError("github."+op, fn(ctx, client))
	}))

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		a.logger.Debug().Err(err).Str("op", op).Str("owner", owner).Msg("GitHub call failed")
	}
	a.metrics.ObserveGitHubCall(op, outcome, time.Since(start))
	return err
}

// viewerLogin returns the login the credentials authenticate as. App
// installations have no user identity and yield "". The lookup runs outside
// viewerMu so concurrent callers never queue behind a slow or retried call.
func (a *Adapter) viewerLogin(ctx context.Context) string {
	a.viewerMu.Lock()
	if a.viewerDone {
		login := a.viewer
		a.viewerMu.Unlock()
		return login
	}
	a.viewerMu.Unlock()

	var login string
	err := a.call(ctx, "GetAuthenticatedUser", "", func(ctx context.Context, c *gh.Client) error {
		u, _, err := c.Users.Get(ctx, "")
		if err != nil {
			return err
		}
		login = u.GetLogin()
		return nil
	})
	if err != nil {
		a.logger.Debug().Err(err).Msg("could not resolve authenticated login")
		if apperr.KindOf(err) == apperr.KindUpstream {
			return ""
		}
	}

	a.viewerMu.Lock()
	defer a.viewerMu.Unlock()
	if !a.viewerDone {
		a.viewer = login
		a.viewerDone = true
	}
	return a.viewer
}

// defaultOwner is the account repositories go to when the caller names none.
// App installations cannot create user repositories, so they fall back to
// their default org; token credentials use the authenticated user.
func (a *Adapter) defaultOwner() string {
	if d, ok := a.clients.(interface{ DefaultOwner() string }); ok {
		return d.DefaultOwner()
	}
	return ""
}

// CreateRepository creates owner/name. An empty owner resolves to the
// credentials' default account: the authenticated user for a token, the
// default org for an App. An owner equal to the authenticated login creates a
// user repository; anything else an org repository. A taken name yields a
// conflict carrying MsgNameExists.
//
// Creation is not idempotent. When an attempt failed upstream and a later
// attempt reports the name taken, the first attempt most likely succeeded
// behind the error; a repository created since this call started is then
// returned instead of the conflict.
func (a *Adapter) CreateRepository(ctx context.Context, owner, name string, visibility Visibility) (*Repo, error) {
	const op = "CreateRepository"
	if !ValidRepoName(name) {
		return nil, apperr.Newf(apperr.KindValidation, "github."+op, "invalid repository name %q", name)
	}
	if visibility == "" {
		visibility = VisibilityPrivate
	}
	if visibility != VisibilityPrivate && visibility != VisibilityPublic {
		return nil, apperr.Newf(apperr.KindValidation, "github."+op, "invalid visibility %q", visibility)
	}

	if owner == "" {
		owner = a.defaultOwner()
	}
	org := owner
	if owner != "" && strings.EqualFold(owner, a.viewerLogin(ctx)) {
		org = ""
	}

	started := time.Now()
	attempts := 0
	var created *gh.Repository
	err := a.call(ctx, op, owner, func(ctx context.Context, c *gh.Client) error {
		attempts++
		r, _, err := c.Repositories.Create(ctx, org, &gh.Repository{
			Name:       gh.String(name),
			Private:    gh.Bool(visibility == VisibilityPrivate),
			AutoInit:   gh.Bool(true),
			Visibility: gh.String(string(visibility)),
		})
		created = r
		return err
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindConflict {
			return nil, err
		}
		if attempts > 1 {
			if r := a.recentRepository(ctx, owner, name, started); r != nil {
				a.logger.Warn().Str("repo", r.FullName()).Int("attempts", attempts).
					Msg("repository created by an attempt that reported failure")
				return r, nil
			}
		}
		return nil, apperr.Wrap(apperr.KindConflict, "github."+op, err, MsgNameExists)
	}
	return toRepo(created), nil
}

// recentRepository returns owner/name if it was created at or after since,
// allowing for clock skew against GitHub.
func (a *Adapter) recentRepository(ctx context.Context, owner, name string, since time.Time) *Repo {
	if owner == "" {
		owner = a.viewerLogin(ctx)
	}
	if owner == "" {
		return nil
	}
	var r *gh.Repository
	err := a.call(ctx, "GetRepository", owner, func(ctx context.Context, c *gh.Client) error {
		var err error
		r, _, err = c.Repositories.Get(ctx, owner, name)
		return err
	})
	if err != nil || r.CreatedAt == nil || r.GetCreatedAt().Time.Before(since.Add(-createdSkew)) {
		return nil
	}
	return toRepo(r)
}

// createdSkew bounds how far GitHub's clock may trail ours when matching a
// repository to the request that created it.
const createdSkew = time.Minute

// DeleteRepository deletes owner/repo. A missing repository yields NotFound.
func (a *Adapter) DeleteRepository(ctx context.Context, owner, repo string) error {
	return a.call(ctx, "DeleteRepository", owner, func(ctx context.Context, c *gh.Client) error {
		_, err := c.Repositories.Delete(ctx, owner, repo)
		return err
	})
}

// GetRepository fetches owner/repo.
func (a *Adapter) GetRepository(ctx context.Context, owner, repo string) (*Repo, error) {
	var r *gh.Repository
	err := a.call(ctx, "GetRepository", owner, func(ctx context.Context, c *gh.Client) error {
		var err error
		r, _, err = c.Repositories.Get(ctx, owner, repo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toRepo(r), nil
}

// ListBranches returns every branch of owner/repo with default and
// protection flags set.
func (a *Adapter) ListBranches(ctx context.Context, owner, repo string) ([]Branch, error) {
	info, err := a.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	var branches []Branch
	opts := &gh.BranchListOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		var page []*gh.Branch
		var resp *gh.Response
		err := a.call(ctx, "ListBranches", owner, func(ctx context.Context, c *gh.Client) error {
			var err error
			page, resp, err = c.Repositories.ListBranches(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, b := range page {
			branches = append(branches, Branch{
				Name:      b.GetName(),
				SHA:       b.GetCommit().GetSHA(),
				IsDefault: b.GetName() == info.DefaultBranch,
				Protected: b.GetProtected(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return branches, nil
}

// CreateBranch creates refs/heads/name at baseSHA.
func (a *Adapter) CreateBranch(ctx context.Context, owner, repo, name, baseSHA string) (*Branch, error) {
	const op = "CreateBranch"
	if !ValidBranchName(name) {
		return nil, apperr.Newf(apperr.KindValidation, "github."+op, "invalid branch name %q", name)
	}
	if baseSHA == "" {
		return nil, apperr.New(apperr.KindValidation, "github."+op, "base commit is required")
	}

	var ref *gh.Reference
	err := a.call(ctx, op, owner, func(ctx context.Context, c *gh.Client) error {
		var err error
		ref, _, err = c.Git.CreateRef(ctx, owner, repo, &gh.Reference{
			Ref:    gh.String("refs/heads/" + name),
			Object: &gh.GitObject{SHA: gh.String(baseSHA)},
		})
		return err
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return nil, apperr.Wrap(apperr.KindConflict, "github."+op, err, "branch "+name+" already exists")
		}
		return nil, err
	}
	return &Branch{Name: name, SHA: ref.GetObject().GetSHA()}, nil
}

// DeleteBranch deletes a branch. The default branch and protected branches
// are refused with Forbidden before any delete is issued.
func (a *Adapter) DeleteBranch(ctx context.Context, owner, repo, name string) error {
	const op = "DeleteBranch"
	info, err := a.GetRepository(ctx, owner, repo)
	if err != nil {
		return err
	}
	if name == info.DefaultBranch {
		return apperr.Newf(apperr.KindForbidden, "github."+op, "branch %s is the default branch", name)
	}

	var branch *gh.Branch
	err = a.call(ctx, "GetBranch", owner, func(ctx context.Context, c *gh.Client) error {
		var err error
		branch, _, err = c.Repositories.GetBranch(ctx, owner, repo, name, 1)
		return err
	})
	if err != nil {
		return err
	}
	if branch.GetProtected() {
		return apperr.Newf(apperr.KindForbidden, "github."+op, "branch %s is protected", name)
	}

	return a.call(ctx, op, owner, func(ctx context.Context, c *gh.Client) error {
		_, err := c.Git.DeleteRef(ctx, owner, repo, "heads/"+name)
		return err
	})
}

// CreatePullRequest opens a pull request and requests reviewers. When the
// pull request is created but the reviewer request fails, the pull request is
// returned together with a PartialFailure error.
//
// Like repository creation, opening a pull request is not idempotent: a
// conflict reported after an upstream failure is resolved by looking up the
// open pull request for the same base and head.
func (a *Adapter) CreatePullRequest(ctx context.Context, owner, repo string, in NewPullRequest) (*PullRequest, error) {
	const op = "CreatePullRequest"
	if in.Base == in.Compare {
		return nil, apperr.New(apperr.KindInvalidState, "github."+op, "base and compare branches must differ")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.New(apperr.KindValidation, "github."+op, "title is required")
	}

	attempts := 0
	var pr *gh.PullRequest
	err := a.call(ctx, op, owner, func(ctx context.Context, c *gh.Client) error {
		attempts++
		var err error
		pr, _, err = c.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
			Title: gh.String(in.Title),
			Body:  gh.String(in.Description),
			Base:  gh.String(in.Base),
			Head:  gh.String(in.Compare),
		})
		return err
	})
	if err != nil && attempts > 1 && apperr.KindOf(err) == apperr.KindConflict {
		if open := a.openPullRequest(ctx, owner, repo, in.Base, in.Compare); open != nil {
			a.logger.Warn().Str("repo", owner+"/"+repo).Int("number", open.GetNumber()).
				Msg("pull request opened by an attempt that reported failure")
			pr, err = open, nil
		}
	}
	if err != nil {
		return nil, err
	}
	if len(in.Reviewers) == 0 {
		return toPullRequest(pr), nil
	}

	err = a.call(ctx, "RequestReviewers", owner, func(ctx context.Context, c *gh.Client) error {
		updated, _, err := c.PullRequests.RequestReviewers(ctx, owner, repo, pr.GetNumber(), gh.ReviewersRequest{Reviewers: in.Reviewers})
		if err == nil && updated != nil {
			pr = updated
		}
		return err
	})
	if err != nil {
		return toPullRequest(pr), apperr.Wrap(apperr.KindPartialFailure, "github.RequestReviewers", err,
			"pull request created but reviewers could not be requested: "+apperr.MessageOf(err))
	}
	return toPullRequest(pr), nil
}

// openPullRequest finds the open pull request from head into base, if any.
func (a *Adapter) openPullRequest(ctx context.Context, owner, repo, base, head string) *gh.PullRequest {
	if !strings.Contains(head, ":") {
		head = owner + ":" + head
	}
	var prs []*gh.PullRequest
	err := a.call(ctx, "ListPullRequests", owner, func(ctx context.Context, c *gh.Client) error {
		var err error
		prs, _, err = c.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
			State: PRStateOpen,
			Head:  head,
			Base:  base,
		})
		return err
	})
	if err != nil || len(prs) == 0 {
		return nil
	}
	return prs[0]
}

// GetPullRequest fetches a pull request.
func (a *Adapter) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var pr *gh.PullRequest
	err := a.call(ctx, "GetPullRequest", owner, func(ctx context.Context, c *gh.Client) error {
		var err error
		pr, _, err = c.PullRequests.Get(ctx, owner, repo, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toPullRequest(pr), nil
}

// ListPullRequests lists pull requests in state open, closed or all.
func (a *Adapter) ListPullRequests(ctx context.Context, owner, repo, state string) ([]PullRequest, error) {
	switch state {
	case "":
		state = PRStateOpen
	case PRStateOpen, PRStateClosed, "all":
	default:
		return nil, apperr.Newf(apperr.KindValidation, "github.ListPullRequests", "invalid state %q", state)
	}

	var out []PullRequest
	opts := &gh.PullRequestListOptions{State: state, ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		var page []*gh.PullRequest
		var resp *gh.Response
		err := a.call(ctx, "ListPullRequests", owner, func(ctx context.Context, c *gh.Client) error {
			var err error
			page, resp, err = c.PullRequests.List(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, pr := range page {
			out = append(out, *toPullRequest(pr))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// UpdatePullRequest edits title and description. Patches touching any other
// field are rejected without calling GitHub.
func (a *Adapter) UpdatePullRequest(ctx context.Context, owner, repo string, number int, patch PullRequestPatch) (*PullRequest, error) {
	const op = "UpdatePullRequest"
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	edit := &gh.PullRequest{Title: patch.Title, Body: patch.Description}
	var pr *gh.PullRequest
	err := a.call(ctx, op, owner, func(ctx context.Context, c *gh.Client) error {
		var err error
		pr, _, err = c.PullRequests.Edit(ctx, owner, repo, number, edit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toPullRequest(pr), nil
}

// ValidatePatch rejects patches that are empty or try to change anything
// other than title and description.
func ValidatePatch(patch PullRequestPatch) error {
	const op = "github.UpdatePullRequest"
	if patch.Base != nil || patch.Compare != nil || patch.State != nil {
		return apperr.New(apperr.KindValidation, op, "only title and description can be changed")
	}
	if patch.Title == nil && patch.Description == nil {
		return apperr.New(apperr.KindValidation, op, "nothing to update")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return apperr.New(apperr.KindValidation, op, "title cannot be empty")
	}
	return nil
}

// ClosePullRequest closes a pull request without merging it.
func (a *Adapter) ClosePullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var pr *gh.PullRequest
	err := a.call(ctx, "ClosePullRequest", owner, func(ctx context.Context, c *gh.Client) error {
		var err error
		pr, _, err = c.PullRequests.Edit(ctx, owner, repo, number, &gh.PullRequest{State: gh.String(PRStateClosed)})
		return err
	})
	if err != nil {
		return nil, err
	}
	return toPullRequest(pr), nil
}

// AddCollaborator grants username access to owner/repo. GitHub answers 201
// with an invitation or 204 when the user already has access; both succeed.
func (a *Adapter) AddCollaborator(ctx context.Context, owner, repo, username string, access permission.Access) error {
	return a.call(ctx, "AddCollaborator", owner, func(ctx context.Context, c *gh.Client) error {
		_, _, err := c.Repositories.AddCollaborator(ctx, owner, repo, username, &gh.RepositoryAddCollaboratorOptions{
			Permission: string(access),
		})
		return err
	})
}

// RemoveCollaborator revokes username's access to owner/repo.
func (a *Adapter) RemoveCollaborator(ctx context.Context, owner, repo, username string) error {
	return a.call(ctx, "RemoveCollaborator", owner, func(ctx context.Context, c *gh.Client) error {
		_, err := c.Repositories.RemoveCollaborator(ctx, owner, repo, username)
		return err
	})
}

// Ping checks that GitHub is reachable with the configured credentials.
func (a *Adapter) Ping(ctx context.Context, owner string) error {
	return a.call(ctx, "RateLimit", owner, func(ctx context.Context, c *gh.Client) error {
		_, _, err := c.RateLimit.Get(ctx)
		return err
	})
}

func toRepo(r *gh.Repository) *Repo {
	if r == nil {
		return nil
	}
	return &Repo{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
	}
}

func toPullRequest(pr *gh.PullRequest) *PullRequest {
	if pr == nil {
		return nil
	}
	state := pr.GetState()
	if pr.GetMerged() || pr.MergedAt != nil {
		state = PRStateMerged
	}
	reviewers := make([]string, 0, len(pr.RequestedReviewers))
	for _, u := range pr.RequestedReviewers {
		reviewers = append(reviewers, u.GetLogin())
	}
	return &PullRequest{
		Number:      pr.GetNumber(),
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
		State:       state,
		Author:      pr.GetUser().GetLogin(),
		Base:        pr.GetBase().GetRef(),
		Compare:     pr.GetHead().GetRef(),
		Reviewers:   reviewers,
		URL:         pr.GetHTMLURL(),
	}
}

// IsNotFound reports whether err is a GitHub not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
