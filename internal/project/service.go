// Package project implements the project lifecycle, collaborator management
// and the branch and pull request workflow on top of the local store and the
// GitHub adapter.
package project

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/permission"
)

// GitHub is the subset of the GitHub adapter the service drives.
type GitHub interface {
	CreateRepository(ctx context.Context, owner, name string, visibility github.Visibility) (*github.Repo, error)
	DeleteRepository(ctx context.Context, owner, repo string) error
	ListBranches(ctx context.Context, owner, repo string) ([]github.Branch, error)
	CreateBranch(ctx context.Context, owner, repo, name, baseSHA string) (*github.Branch, error)
	DeleteBranch(ctx context.Context, owner, repo, name string) error
	CreatePullRequest(ctx context.Context, owner, repo string, in github.NewPullRequest) (*github.PullRequest, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	ListPullRequests(ctx context.Context, owner, repo, state string) ([]github.PullRequest, error)
	UpdatePullRequest(ctx context.Context, owner, repo string, number int, patch github.PullRequestPatch) (*github.PullRequest, error)
	ClosePullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	AddCollaborator(ctx context.Context, owner, repo, username string, access permission.Access) error
	RemoveCollaborator(ctx context.Context, owner, repo, username string) error
}

// Notification is a lifecycle event worth telling humans about.
type Notification struct {
	Event   string
	Project *Project
	Actor   string
	Message string
	Urgent  bool
}

// Notifier delivers lifecycle notifications. Delivery failures are logged by
// the caller and never fail the operation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Recorder counts lifecycle events.
type Recorder interface {
	RecordLifecycle(event string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordLifecycle(string) {}

// Service is the project orchestrator. Its methods are safe for concurrent use.
type Service struct {
	store    *Store
	github   GitHub
	owner    string
	notifier Notifier
	metrics  Recorder
	locks    *keyedMutex
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithOwner sets the account new repositories are created under. Empty
// means the authenticated GitHub identity.
func WithOwner(owner string) Option {
	return func(s *Service) { s.owner = owner }
}

// WithNotifier sets the lifecycle notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithRecorder sets the lifecycle metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// NewService creates a project Service.
func NewService(store *Store, gh GitHub, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		github:   gh,
		notifier: nopNotifier{},
		metrics:  nopRecorder{},
		locks:    newKeyedMutex(),
		logger:   logger.With().Str("component", "project").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the project store.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("event", n.Event).Msg("notification failed")
	}
}

func (s *Service) record(ctx context.Context, ev *ProjectEvent) {
	if err := s.store.AddEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", ev.EventType).Str("project_id", ev.ProjectID).Msg("failed to record project event")
	}
}
