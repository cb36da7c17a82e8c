package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	apperr "github.com/p-blackswan/projecthub/internal/errors"
	"github.com/p-blackswan/projecthub/internal/github"
	"github.com/p-blackswan/projecthub/internal/project"
)

// ProjectHandlers holds dependencies for project API handlers.
type ProjectHandlers struct {
	svc    *project.Service
	logger zerolog.Logger
}

// NewProjectHandlers creates new project API handlers.
func NewProjectHandlers(svc *project.Service, logger zerolog.Logger) *ProjectHandlers {
	return &ProjectHandlers{
		svc:    svc,
		logger: logger.With().Str("component", "project_handlers").Logger(),
	}
}

// RegisterRoutes registers project API routes on the given fiber group.
func (h *ProjectHandlers) RegisterRoutes(v1 fiber.Router) {
	pg := v1.Group("/projects")
	pg.Post("/", h.CreateProject)
	pg.Get("/", h.ListProjects)
	pg.Get("/:id", h.GetProject)
	pg.Patch("/:id", h.UpdateProject)
	pg.Delete("/:id", h.DeleteProject)
	pg.Get("/:id/events", h.ListEvents)
	pg.Get("/:id/permissions", h.GetPermissions)

	pg.Get("/:id/collaborators", h.ListCollaborators)
	pg.Post("/:id/collaborators", h.AddCollaborator)
	pg.Patch("/:id/collaborators/:collabId", h.UpdatePermissions)
	pg.Delete("/:id/collaborators/:collabId", h.RemoveCollaborator)

	pg.Get("/:id/branches", h.ListBranches)
	pg.Post("/:id/branches", h.CreateBranch)
	// Branch names may contain slashes.
	pg.Delete("/:id/branches/*", h.DeleteBranch)

	pg.Get("/:id/pull-requests", h.ListPullRequests)
	pg.Post("/:id/pull-requests", h.CreatePullRequest)
	pg.Patch("/:id/pull-requests/:number", h.EditPullRequest)
	pg.Post("/:id/pull-requests/:number/close", h.ClosePullRequest)
}

func parseBody(c *fiber.Ctx, op string, v any) error {
	if err := c.BodyParser(v); err != nil {
		return badRequest(op, "invalid request body", err)
	}
	return nil
}

func prNumber(c *fiber.Ctx, op string) (int, error) {
	n, err := strconv.Atoi(c.Params("number"))
	if err != nil || n <= 0 {
		return 0, badRequest(op, "pull request number must be a positive integer", err)
	}
	return n, nil
}

func (h *ProjectHandlers) CreateProject(c *fiber.Ctx) error {
	var req project.CreateProjectInput
	if err := parseBody(c, "api.CreateProject", &req); err != nil {
		return err
	}
	p, err := h.svc.CreateProject(c.UserContext(), actorOf(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *ProjectHandlers) ListProjects(c *fiber.Ctx) error {
	projects, err := h.svc.ListProjects(c.UserContext(), actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"projects": projects, "total": len(projects)})
}

func (h *ProjectHandlers) GetProject(c *fiber.Ctx) error {
	p, err := h.svc.GetProject(c.UserContext(), actorOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (h *ProjectHandlers) UpdateProject(c *fiber.Ctx) error {
	var req project.UpdateProjectInput
	if err := parseBody(c, "api.UpdateProject", &req); err != nil {
		return err
	}
	p, err := h.svc.UpdateProject(c.UserContext(), actorOf(c), c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// DeleteProject answers 200 even when the repository could not be deleted;
// the body tells which phase succeeded.
func (h *ProjectHandlers) DeleteProject(c *fiber.Ctx) error {
	deleteRepo := false
	if raw := c.Query("deleteRepo"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest("api.DeleteProject", "deleteRepo must be true or false", err)
		}
		deleteRepo = v
	}
	res, err := h.svc.DeleteProject(c.UserContext(), actorOf(c), c.Params("id"), deleteRepo)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *ProjectHandlers) ListEvents(c *fiber.Ctx) error {
	events, err := h.svc.ListEvents(c.UserContext(), actorOf(c), c.Params("id"), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *ProjectHandlers) GetPermissions(c *fiber.Ctx) error {
	view, err := h.svc.Permissions(c.UserContext(), actorOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

type collaboratorRequest struct {
	GitHubUsername string   `json:"githubUsername"`
	Permissions    []string `json:"permissions"`
}

func (h *ProjectHandlers) ListCollaborators(c *fiber.Ctx) error {
	collabs, err := h.svc.ListCollaborators(c.UserContext(), actorOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"collaborators": collabs})
}

func (h *ProjectHandlers) AddCollaborator(c *fiber.Ctx) error {
	var req collaboratorRequest
	if err := parseBody(c, "api.AddCollaborator", &req); err != nil {
		return err
	}
	collab, err := h.svc.AddCollaborator(c.UserContext(), actorOf(c), c.Params("id"), req.GitHubUsername, req.Permissions)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(collab)
}

func (h *ProjectHandlers) UpdatePermissions(c *fiber.Ctx) error {
	var req collaboratorRequest
	if err := parseBody(c, "api.UpdatePermissions", &req); err != nil {
		return err
	}
	collab, err := h.svc.UpdatePermissions(c.UserContext(), actorOf(c), c.Params("id"), c.Params("collabId"), req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(collab)
}

func (h *ProjectHandlers) RemoveCollaborator(c *fiber.Ctx) error {
	if err := h.svc.RemoveCollaborator(c.UserContext(), actorOf(c), c.Params("id"), c.Params("collabId")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": c.Params("collabId"), "removed": true})
}

type branchRequest struct {
	Name string `json:"name"`
	Base string `json:"base"`
}

func (h *ProjectHandlers) ListBranches(c *fiber.Ctx) error {
	branches, err := h.svc.ListBranches(c.UserContext(), actorOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"branches": branches})
}

func (h *ProjectHandlers) CreateBranch(c *fiber.Ctx) error {
	var req branchRequest
	if err := parseBody(c, "api.CreateBranch", &req); err != nil {
		return err
	}
	b, err := h.svc.CreateBranch(c.UserContext(), actorOf(c), c.Params("id"), req.Name, req.Base)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(b)
}

func (h *ProjectHandlers) DeleteBranch(c *fiber.Ctx) error {
	if err := h.svc.DeleteBranch(c.UserContext(), actorOf(c), c.Params("id"), c.Params("*")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// pullRequestResponse carries a warning when GitHub accepted the pull
// request but not everything that came with it.
type pullRequestResponse struct {
	*github.PullRequest
	Warning *Problem `json:"warning,omitempty"`
}

func (h *ProjectHandlers) ListPullRequests(c *fiber.Ctx) error {
	prs, err := h.svc.ListPullRequests(c.UserContext(), actorOf(c), c.Params("id"), c.Query("state"))
	if err != nil {
		return err
	}
	if prs == nil {
		prs = []github.PullRequest{}
	}
	return c.JSON(fiber.Map{"pullRequests": prs})
}

func (h *ProjectHandlers) CreatePullRequest(c *fiber.Ctx) error {
	var req project.PullRequestInput
	if err := parseBody(c, "api.CreatePullRequest", &req); err != nil {
		return err
	}
	pr, err := h.svc.CreatePullRequest(c.UserContext(), actorOf(c), c.Params("id"), req)
	if err != nil && (pr == nil || !errors.Is(err, apperr.ErrPartialFailure)) {
		return err
	}
	resp := pullRequestResponse{PullRequest: pr}
	if err != nil {
		h.logger.Warn().Err(err).Int("number", pr.Number).Msg("pull request created with partial failure")
		_, p := problemFor(err)
		resp.Warning = &p
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *ProjectHandlers) EditPullRequest(c *fiber.Ctx) error {
	n, err := prNumber(c, "api.EditPullRequest")
	if err != nil {
		return err
	}
	var patch github.PullRequestPatch
	if err := parseBody(c, "api.EditPullRequest", &patch); err != nil {
		return err
	}
	pr, err := h.svc.EditPullRequest(c.UserContext(), actorOf(c), c.Params("id"), n, patch)
	if err != nil {
		return err
	}
	return c.JSON(pr)
}

func (h *ProjectHandlers) ClosePullRequest(c *fiber.Ctx) error {
	n, err := prNumber(c, "api.ClosePullRequest")
	if err != nil {
		return err
	}
	pr, err := h.svc.ClosePullRequest(c.UserContext(), actorOf(c), c.Params("id"), n)
	if err != nil {
		return err
	}
	return c.JSON(pr)
}
