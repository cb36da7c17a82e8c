package project

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/permission"
	"github.com/p-blackswan/projecthub/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.Nop()
	ds, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return NewStore(ds, logger)
}

func createTestProject(t *testing.T, s *Store, name string) *Project {
	t.Helper()
	p := &Project{
		Name: name, ManagerID: "u-alice", ManagerLogin: "alice",
		RepoOwner: "acme", RepoName: "alpha", GitHubRepoLink: "https://github.com/acme/alpha",
	}
	require.NoError(t, s.CreateProject(context.Background(), p, &ProjectEvent{EventType: EventProjectCreated, ActorID: "u-alice"}))
	return p
}

func TestCreateAndGetProject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := createTestProject(t, s, "Alpha")
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusActive, p.Status)
	assert.NotZero(t, p.CreatedAt)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)
	assert.Equal(t, "https://github.com/acme/alpha", got.GitHubRepoLink)

	events, err := s.ListEvents(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventProjectCreated, events[0].EventType)
	assert.Equal(t, p.ID, events[0].ProjectID)
}

func TestGetProject_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListProjectsForMember(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alpha := createTestProject(t, s, "Alpha")
	beta := &Project{Name: "Beta", ManagerID: "u-carol", ManagerLogin: "carol", RepoOwner: "acme", RepoName: "beta"}
	require.NoError(t, s.CreateProject(ctx, beta, nil))
	require.NoError(t, s.AddCollaborator(ctx, &Collaborator{ProjectID: beta.ID, GitHubUsername: "Bob", Access: permission.AccessPull}, nil))

	mine, err := s.ListProjectsForMember(ctx, "u-alice", "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, alpha.ID, mine[0].ID)

	bobs, err := s.ListProjectsForMember(ctx, "u-bob", "bob")
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, beta.ID, bobs[0].ID)

	none, err := s.ListProjectsForMember(ctx, "u-nobody", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListProjectsByRepo(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s, "Alpha")

	got, err := s.ListProjectsByRepo(context.Background(), "ACME", "Alpha")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID, got[0].ID)
}

func TestCollaborators_CRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s, "Alpha")

	c := &Collaborator{
		ProjectID: p.ID, GitHubUsername: "bob",
		Permissions: []string{"create-PRs"}, Access: permission.AccessPush,
	}
	require.NoError(t, s.AddCollaborator(ctx, c, &ProjectEvent{ProjectID: p.ID, EventType: EventCollaboratorAdded, ActorID: "u-alice"}))
	assert.NotEmpty(t, c.ID)

	found, err := s.FindCollaborator(ctx, p.ID, "BOB")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, []string{"create-PRs"}, found.Permissions)
	assert.Equal(t, permission.AccessPush, found.Access)

	dup := &Collaborator{ProjectID: p.ID, GitHubUsername: "Bob", Access: permission.AccessPull}
	assert.ErrorIs(t, s.AddCollaborator(ctx, dup, nil), apperr.ErrConflict)

	c.Permissions = []string{"code-analysis"}
	c.Access = permission.AccessPull
	require.NoError(t, s.UpdateCollaborator(ctx, c, nil))
	got, err := s.GetCollaborator(ctx, p.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"code-analysis"}, got.Permissions)
	assert.Equal(t, permission.AccessPull, got.Access)

	require.NoError(t, s.DeleteCollaborator(ctx, p.ID, c.ID, nil))
	missing, err := s.FindCollaborator(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, s.DeleteCollaborator(ctx, p.ID, c.ID, nil), apperr.ErrNotFound)
}

func TestDeleteProject_EventsSurvive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s, "Alpha")
	require.NoError(t, s.AddCollaborator(ctx, &Collaborator{ProjectID: p.ID, GitHubUsername: "bob", Access: permission.AccessPull}, nil))

	require.NoError(t, s.DeleteProject(ctx, p.ID, &ProjectEvent{ProjectID: p.ID, EventType: EventProjectDeleted, ActorID: "u-alice"}))

	_, err := s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	collabs, err := s.ListCollaborators(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, collabs)

	events, err := s.ListEvents(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventProjectDeleted, events[0].EventType)
}

func TestSetStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s, "Alpha")

	require.NoError(t, s.SetStatus(ctx, p.ID, StatusPendingDeletion, nil))
	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingDeletion, got.Status)

	assert.ErrorIs(t, s.SetStatus(ctx, "missing", StatusActive, nil), apperr.ErrNotFound)
}
