package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/funding"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/internal/service"
	"github.com/noah-isme/ruralfund-api/pkg/response"
)

type claimService interface {
	SubmitClaim(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID string, req dto.SubmitClaimRequest) (models.WorkClaim, error)
	GetClaim(ctx context.Context, claimID string) (models.WorkClaim, error)
	AcknowledgeClaim(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, claimID string) (models.WorkClaim, error)
	Decide(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, claimID string, req dto.DecisionRequest) (funding.DecisionResult, error)
}

// ClaimHandler exposes work claim submission and the approval workflow.
type ClaimHandler struct {
	service claimService
}

// NewClaimHandler constructs a ClaimHandler.
func NewClaimHandler(svc claimService) *ClaimHandler {
	return &ClaimHandler{service: svc}
}

// Submit godoc
// @Summary Submit a work claim against a project
// @Tags Claims
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param payload body dto.SubmitClaimRequest true "Claim"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /projects/{id}/claims [post]
func (h *ClaimHandler) Submit(c *gin.Context) {
	var req dto.SubmitClaimRequest
	if err := bindJSON(c, &req, "invalid claim payload"); err != nil {
		response.Error(c, err)
		return
	}
	claim, err := h.service.SubmitClaim(c.Request.Context(), claimsFromContext(c), requestMeta(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, claim)
}

// Get godoc
// @Summary Get a work claim
// @Tags Claims
// @Produce json
// @Param id path string true "Claim ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /claims/{id} [get]
func (h *ClaimHandler) Get(c *gin.Context) {
	claim, err := h.service.GetClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claim, nil)
}

// Acknowledge godoc
// @Summary Move a submitted claim under review
// @Tags Claims
// @Produce json
// @Param id path string true "Claim ID"
// @Success 200 {object} response.Envelope
// @Router /claims/{id}/acknowledge [post]
func (h *ClaimHandler) Acknowledge(c *gin.Context) {
	claim, err := h.service.AcknowledgeClaim(c.Request.Context(), claimsFromContext(c), requestMeta(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, claim, nil)
}

// Decide godoc
// @Summary Record an approval decision on a claim
// @Tags Claims
// @Accept json
// @Produce json
// @Param id path string true "Claim ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /claims/{id}/decision [post]
func (h *ClaimHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	if err := bindJSON(c, &req, "invalid decision payload"); err != nil {
		response.Error(c, err)
		return
	}
	h.decide(c, req)
}

// Approve godoc
// @Summary Approve a claim
// @Tags Claims
// @Produce json
// @Param id path string true "Claim ID"
// @Success 200 {object} response.Envelope
// @Router /claims/{id}/approve [post]
func (h *ClaimHandler) Approve(c *gin.Context) {
	h.decide(c, dto.DecisionRequest{Outcome: string(models.DecisionApproved)})
}

// Reject godoc
// @Summary Reject a claim
// @Tags Claims
// @Accept json
// @Produce json
// @Param id path string true "Claim ID"
// @Param payload body dto.ReasonRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /claims/{id}/reject [post]
func (h *ClaimHandler) Reject(c *gin.Context) {
	h.decideWithReason(c, models.DecisionRejected)
}

// Withdraw godoc
// @Summary Withdraw a claim
// @Tags Claims
// @Accept json
// @Produce json
// @Param id path string true "Claim ID"
// @Param payload body dto.ReasonRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /claims/{id}/withdraw [post]
func (h *ClaimHandler) Withdraw(c *gin.Context) {
	h.decideWithReason(c, models.DecisionWithdrawn)
}

func (h *ClaimHandler) decideWithReason(c *gin.Context, outcome models.DecisionOutcome) {
	var body dto.ReasonRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &body, "invalid reason payload"); err != nil {
			response.Error(c, err)
			return
		}
	}
	h.decide(c, dto.DecisionRequest{Outcome: string(outcome), Reason: body.Reason})
}

func (h *ClaimHandler) decide(c *gin.Context, req dto.DecisionRequest) {
	res, err := h.service.Decide(c.Request.Context(), claimsFromContext(c), requestMeta(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}
