package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/middleware"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/internal/service"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/response"
)

type projectService interface {
	CreateProject(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, req dto.CreateProjectRequest) (models.ProjectView, error)
	SubmitProject(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID string) (models.ProjectView, error)
	ApproveProject(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID string) (models.ProjectView, error)
	CompleteProject(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID string) (models.ProjectView, error)
	CancelProject(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID string, req dto.CancelProjectRequest) (dto.CancelProjectResponse, error)
	AssignContractor(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID string, req dto.AssignContractorRequest) (models.ProjectView, error)
	AdvanceMilestone(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID, milestoneID string) (models.ProjectView, error)
	ListProjects(ctx context.Context, query dto.ProjectListQuery) ([]models.ProjectView, error)
	GetProject(ctx context.Context, projectID string) (models.ProjectView, error)
	Ledger(ctx context.Context, projectID string) (models.LedgerSnapshot, error)
	ProjectClaims(ctx context.Context, projectID string) ([]models.WorkClaim, error)
	Decisions(ctx context.Context, projectID string) ([]models.ApprovalDecision, error)
	VerifyChain(ctx context.Context, projectID string) (models.ChainVerification, error)
}

// ProjectHandler exposes project lifecycle and read endpoints.
type ProjectHandler struct {
	service projectService
}

// NewProjectHandler constructs a ProjectHandler.
func NewProjectHandler(svc projectService) *ProjectHandler {
	return &ProjectHandler{service: svc}
}

// List godoc
// @Summary List projects
// @Tags Projects
// @Produce json
// @Param location query string false "Location (exact, case-sensitive match)"
// @Param status query string false "Project status"
// @Param search query string false "Case-insensitive substring of name or location"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /projects [get]
func (h *ProjectHandler) List(c *gin.Context) {
	var query dto.ProjectListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	page, size, err := pageParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	projects, err := h.service.ListProjects(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, pagination := paginate(projects, page, size)
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get project
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{id} [get]
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.service.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, project, nil)
}

// Ledger godoc
// @Summary Project ledger snapshot
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{id}/ledger [get]
func (h *ProjectHandler) Ledger(c *gin.Context) {
	snapshot, err := h.service.Ledger(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Claims godoc
// @Summary Work claims of a project
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{id}/claims [get]
func (h *ProjectHandler) Claims(c *gin.Context) {
	claims, err := h.service.ProjectClaims(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claims, nil)
}

// Decisions godoc
// @Summary Approval decisions of a project, oldest first
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{id}/decisions [get]
func (h *ProjectHandler) Decisions(c *gin.Context) {
	decisions, err := h.service.Decisions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decisions, nil)
}

// VerifyChain godoc
// @Summary Verify the project's decision hash chain
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /projects/{id}/decisions/verify [get]
func (h *ProjectHandler) VerifyChain(c *gin.Context) {
	result, err := h.service.VerifyChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "chain_valid", result.Valid)
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}

// Create godoc
// @Summary Create a draft project
// @Tags Projects
// @Accept json
// @Produce json
// @Param payload body dto.CreateProjectRequest true "Project"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /projects [post]
func (h *ProjectHandler) Create(c *gin.Context) {
	var req dto.CreateProjectRequest
	if err := bindJSON(c, &req, "invalid project payload"); err != nil {
		response.Error(c, err)
		return
	}
	project, err := h.service.CreateProject(c.Request.Context(), claimsFromContext(c), requestMeta(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, project)
}

// Submit godoc
// @Summary Submit a draft project for approval
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /projects/{id}/submit [post]
func (h *ProjectHandler) Submit(c *gin.Context) {
	h.transition(c, h.service.SubmitProject)
}

// Approve godoc
// @Summary Approve a pending project
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /projects/{id}/approve [post]
func (h *ProjectHandler) Approve(c *gin.Context) {
	h.transition(c, h.service.ApproveProject)
}

// Complete godoc
// @Summary Complete an active project
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /projects/{id}/complete [post]
func (h *ProjectHandler) Complete(c *gin.Context) {
	h.transition(c, h.service.CompleteProject)
}

// Cancel godoc
// @Summary Cancel a project, rejecting its open claims
// @Tags Projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param payload body dto.CancelProjectRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /projects/{id}/cancel [post]
func (h *ProjectHandler) Cancel(c *gin.Context) {
	var req dto.CancelProjectRequest
	if err := bindJSON(c, &req, "invalid cancel payload"); err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.service.CancelProject(c.Request.Context(), claimsFromContext(c), requestMeta(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// AssignContractor godoc
// @Summary Assign the contractor allowed to claim against a project
// @Tags Projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param payload body dto.AssignContractorRequest true "Contractor"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /projects/{id}/contractor [post]
func (h *ProjectHandler) AssignContractor(c *gin.Context) {
	var req dto.AssignContractorRequest
	if err := bindJSON(c, &req, "invalid contractor payload"); err != nil {
		response.Error(c, err)
		return
	}
	project, err := h.service.AssignContractor(c.Request.Context(), claimsFromContext(c), requestMeta(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, project, nil)
}

// AdvanceMilestone godoc
// @Summary Start or complete a project milestone
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Param milestoneId path string true "Milestone ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /projects/{id}/milestones/{milestoneId}/advance [post]
func (h *ProjectHandler) AdvanceMilestone(c *gin.Context) {
	project, err := h.service.AdvanceMilestone(c.Request.Context(), claimsFromContext(c), requestMeta(c), c.Param("id"), c.Param("milestoneId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, project, nil)
}

type transitionFunc func(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID string) (models.ProjectView, error)

func (h *ProjectHandler) transition(c *gin.Context, op transitionFunc) {
	project, err := op(c.Request.Context(), claimsFromContext(c), requestMeta(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, project, nil)
}
