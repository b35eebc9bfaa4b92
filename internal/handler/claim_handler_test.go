package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/funding"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/internal/service"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

type fakeClaimSrv struct {
	err        error
	lastClaims *models.JWTClaims
	lastID     string
	lastSubmit dto.SubmitClaimRequest
	decisions  []dto.DecisionRequest
	acked      bool
}

func (f *fakeClaimSrv) SubmitClaim(_ context.Context, claims *models.JWTClaims, _ service.RequestMeta, projectID string, req dto.SubmitClaimRequest) (models.WorkClaim, error) {
	f.lastClaims, f.lastID, f.lastSubmit = claims, projectID, req
	return models.WorkClaim{ID: "c-1", ProjectID: projectID, Status: models.ClaimStatusSubmitted}, f.err
}

func (f *fakeClaimSrv) GetClaim(_ context.Context, claimID string) (models.WorkClaim, error) {
	f.lastID = claimID
	return models.WorkClaim{ID: claimID}, f.err
}

func (f *fakeClaimSrv) AcknowledgeClaim(_ context.Context, claims *models.JWTClaims, _ service.RequestMeta, claimID string) (models.WorkClaim, error) {
	f.lastClaims, f.lastID, f.acked = claims, claimID, true
	return models.WorkClaim{ID: claimID, Status: models.ClaimStatusCommitted}, f.err
}

func (f *fakeClaimSrv) Decide(_ context.Context, claims *models.JWTClaims, _ service.RequestMeta, claimID string, req dto.DecisionRequest) (funding.DecisionResult, error) {
	f.lastClaims, f.lastID = claims, claimID
	f.decisions = append(f.decisions, req)
	return funding.DecisionResult{}, f.err
}

func claimRoutes(srv *fakeClaimSrv, claims *models.JWTClaims) http.Handler {
	h := NewClaimHandler(srv)
	router := newRouter(claims)
	router.POST("/projects/:id/claims", h.Submit)
	router.GET("/claims/:id", h.Get)
	router.POST("/claims/:id/acknowledge", h.Acknowledge)
	router.POST("/claims/:id/approve", h.Approve)
	router.POST("/claims/:id/reject", h.Reject)
	router.POST("/claims/:id/withdraw", h.Withdraw)
	router.POST("/claims/:id/decision", h.Decide)
	return router
}

func TestClaimHandlerSubmit(t *testing.T) {
	srv := &fakeClaimSrv{}
	router := claimRoutes(srv, contractorUser)

	rec := doRequest(router, http.MethodPost, "/projects/p-1/claims", map[string]interface{}{
		"amount":       map[string]interface{}{"amountMinor": 7500},
		"description":  "Drilling",
		"location":     "Kisoro",
		"coordinatesText": "-1.28, 29.69",
		"evidenceRefs": []string{"photo-1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "p-1", srv.lastID)
	assert.Equal(t, "con-1", srv.lastClaims.UserID)
	require.NotNil(t, srv.lastSubmit.Amount.AmountMinor)
	assert.Equal(t, int64(7500), *srv.lastSubmit.Amount.AmountMinor)

	rec = doRequest(router, http.MethodPost, "/projects/p-1/claims", "[]")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	srv.err = appErrors.Clone(appErrors.ErrInsufficientFunds, "insufficient remaining budget")
	rec = doRequest(router, http.MethodPost, "/projects/p-1/claims", map[string]interface{}{"description": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", decodeEnvelope(t, rec, nil).Error.Code)
}

func TestClaimHandlerDecisionShortcuts(t *testing.T) {
	srv := &fakeClaimSrv{}
	router := claimRoutes(srv, presidentUser)

	require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/claims/c-1/approve", nil).Code)
	require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/claims/c-1/reject", map[string]string{"reason": "no photos"}).Code)
	require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/claims/c-1/withdraw", nil).Code)
	require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, "/claims/c-1/decision", map[string]string{"outcome": "rejected", "reason": "late"}).Code)

	require.Len(t, srv.decisions, 4)
	assert.Equal(t, dto.DecisionRequest{Outcome: "APPROVED"}, srv.decisions[0])
	assert.Equal(t, dto.DecisionRequest{Outcome: "REJECTED", Reason: "no photos"}, srv.decisions[1])
	assert.Equal(t, dto.DecisionRequest{Outcome: "WITHDRAWN"}, srv.decisions[2])
	assert.Equal(t, dto.DecisionRequest{Outcome: "rejected", Reason: "late"}, srv.decisions[3])
	assert.Equal(t, "c-1", srv.lastID)

	rec := doRequest(router, http.MethodPost, "/claims/c-1/decision", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, srv.decisions, 4)
}

func TestClaimHandlerErrorsMapToStatus(t *testing.T) {
	srv := &fakeClaimSrv{}
	router := claimRoutes(srv, contractorUser)

	srv.err = appErrors.Clone(appErrors.ErrForbidden, "contractors cannot approve claims")
	assert.Equal(t, http.StatusForbidden, doRequest(router, http.MethodPost, "/claims/c-1/approve", nil).Code)

	srv.err = appErrors.Clone(appErrors.ErrAlreadyDecided, "claim already decided")
	assert.Equal(t, http.StatusConflict, doRequest(router, http.MethodPost, "/claims/c-1/withdraw", nil).Code)

	srv.err = appErrors.Clone(appErrors.ErrNotFound, "claim not found")
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/claims/c-404", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodPost, "/claims/c-404/acknowledge", nil).Code)
	assert.True(t, srv.acked)
}
