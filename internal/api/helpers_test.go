package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/health"
	"github.com/p-blackswan/projecthub/internal/metrics"
	"github.com/p-blackswan/projecthub/internal/permission"
	"github.com/p-blackswan/projecthub/internal/project"
	"github.com/p-blackswan/projecthub/internal/store"
)

const testSecret = "test-jwt-secret"

// stubGitHub is a minimal in-memory GitHub. Setting err fails every call.
type stubGitHub struct {
	mu       sync.Mutex
	repos    map[string]bool
	prs      map[int]*github.PullRequest
	calls    map[string]int
	err      error
	reviewer error
}

func newStubGitHub() *stubGitHub {
	return &stubGitHub{repos: map[string]bool{}, prs: map[int]*github.PullRequest{}, calls: map[string]int{}}
}

func (s *stubGitHub) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.err
}

func (s *stubGitHub) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *stubGitHub) CreateRepository(_ context.Context, owner, name string, _ github.Visibility) (*github.Repo, error) {
	if err := s.hit("CreateRepository"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repos[owner+"/"+name] {
		return nil, apperr.New(apperr.KindConflict, "github.CreateRepository", github.MsgNameExists)
	}
	s.repos[owner+"/"+name] = true
	return &github.Repo{Owner: owner, Name: name, HTMLURL: "https://github.com/" + owner + "/" + name, DefaultBranch: "main"}, nil
}

func (s *stubGitHub) DeleteRepository(context.Context, string, string) error {
	return s.hit("DeleteRepository")
}

func (s *stubGitHub) ListBranches(context.Context, string, string) ([]github.Branch, error) {
	if err := s.hit("ListBranches"); err != nil {
		return nil, err
	}
	return []github.Branch{{Name: "main", SHA: "sha-main", IsDefault: true}, {Name: "feature/x", SHA: "sha-x"}}, nil
}

func (s *stubGitHub) CreateBranch(_ context.Context, _, _, name, sha string) (*github.Branch, error) {
	if err := s.hit("CreateBranch"); err != nil {
		return nil, err
	}
	return &github.Branch{Name: name, SHA: sha}, nil
}

func (s *stubGitHub) DeleteBranch(context.Context, string, string, string) error {
	return s.hit("DeleteBranch")
}

func (s *stubGitHub) CreatePullRequest(_ context.Context, _, _ string, in github.NewPullRequest) (*github.PullRequest, error) {
	if err := s.hit("CreatePullRequest"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pr := &github.PullRequest{Number: len(s.prs) + 1, Title: in.Title, State: github.PRStateOpen, Base: in.Base, Compare: in.Compare, Reviewers: in.Reviewers}
	s.prs[pr.Number] = pr
	cp := *pr
	if s.reviewer != nil && len(in.Reviewers) > 0 {
		cp.Reviewers = nil
		return &cp, apperr.Wrap(apperr.KindPartialFailure, "github.CreatePullRequest", s.reviewer, "pull request created but reviewers could not be requested")
	}
	return &cp, nil
}

func (s *stubGitHub) GetPullRequest(_ context.Context, _, _ string, n int) (*github.PullRequest, error) {
	if err := s.hit("GetPullRequest"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[n]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "github.GetPullRequest", "Not Found")
	}
	cp := *pr
	return &cp, nil
}

func (s *stubGitHub) ListPullRequests(context.Context, string, string, string) ([]github.PullRequest, error) {
	if err := s.hit("ListPullRequests"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *stubGitHub) UpdatePullRequest(ctx context.Context, owner, repo string, n int, patch github.PullRequestPatch) (*github.PullRequest, error) {
	if err := s.hit("UpdatePullRequest"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pr := s.prs[n]
	if patch.Title != nil {
		pr.Title = *patch.Title
	}
	cp := *pr
	return &cp, nil
}

func (s *stubGitHub) ClosePullRequest(_ context.Context, _, _ string, n int) (*github.PullRequest, error) {
	if err := s.hit("ClosePullRequest"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prs[n].State = github.PRStateClosed
	cp := *s.prs[n]
	return &cp, nil
}

func (s *stubGitHub) AddCollaborator(context.Context, string, string, string, permission.Access) error {
	return s.hit("AddCollaborator")
}

func (s *stubGitHub) RemoveCollaborator(context.Context, string, string, string) error {
	return s.hit("RemoveCollaborator")
}

type testEnv struct {
	app     *fiber.App
	gh      *stubGitHub
	ds      *store.Store
	svc     *project.Service
	metrics *metrics.Metrics
}

type envOption func(*ServerConfig, *Deps)

func withRateLimit(rps, burst int) envOption {
	return func(cfg *ServerConfig, _ *Deps) { cfg.RateLimit = RateLimitConfig{RPS: rps, Burst: burst} }
}

func withAuthMode(mode string) envOption {
	return func(cfg *ServerConfig, _ *Deps) { cfg.Auth.Mode = mode }
}

func withWebhook(h http.Handler) envOption {
	return func(_ *ServerConfig, d *Deps) { d.Webhook = h }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	ds, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	gh := newStubGitHub()
	m := metrics.New()
	svc := project.NewService(project.NewStore(ds, logger), gh, logger, project.WithOwner("acme"), project.WithRecorder(m))
	checker := health.NewChecker(logger)
	checker.Register("db", ds.Ping)

	cfg := ServerConfig{Auth: AuthConfig{Mode: AuthModeJWT, JWTSecret: testSecret}}
	deps := Deps{Service: svc, Checker: checker, Metrics: m, Audit: ds}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	return &testEnv{app: NewServer(cfg, deps, logger).App(), gh: gh, ds: ds, svc: svc, metrics: m}
}

func signToken(t *testing.T, secret, sub, login, role string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Login: login,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

var (
	aliceToken = func(t *testing.T) string { return signToken(t, testSecret, "u-alice", "alice", "manager", time.Hour) }
	bobToken   = func(t *testing.T) string { return signToken(t, testSecret, "u-bob", "bob", "developer", time.Hour) }
)

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
