package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/internal/service"
)

type fakeAuthSrv struct {
	lastReq models.LoginRequest
	err     error
}

func (f *fakeAuthSrv) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.LoginResponse{AccessToken: "jwt", ExpiresIn: 3600}, nil
}

type fakeIntegritySrv struct {
	last   *dto.IntegrityReport
	sweeps int
}

func (f *fakeIntegritySrv) Sweep(context.Context) (*dto.IntegrityReport, error) {
	f.sweeps++
	f.last = &dto.IntegrityReport{CheckedAt: time.Now(), Projects: 2, Violations: []dto.IntegrityViolation{}}
	return f.last, nil
}

func (f *fakeIntegritySrv) LastReport() *dto.IntegrityReport { return f.last }

func TestAuthHandlerLogin(t *testing.T) {
	srv := &fakeAuthSrv{}
	router := newRouter(nil)
	h := NewAuthHandler(srv)
	router.POST("/auth/login", h.Login)
	router.GET("/auth/me", h.Me)

	rec := doRequest(router, http.MethodPost, "/auth/login", map[string]string{"email": "ngo@example.org", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ngo@example.org", srv.lastReq.Email)
	assert.NotEmpty(t, srv.lastReq.IP)

	rec = doRequest(router, http.MethodPost, "/auth/login", "nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, doRequest(router, http.MethodGet, "/auth/me", nil).Code)
}

func TestAuthHandlerMe(t *testing.T) {
	router := newRouter(contractorUser)
	router.GET("/auth/me", NewAuthHandler(&fakeAuthSrv{}).Me)

	rec := doRequest(router, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.UserInfo
	decodeEnvelope(t, rec, &info)
	assert.Equal(t, "con-1", info.ID)
	assert.Equal(t, models.RoleContractor, info.Role)
}

func TestMetricsHandlerReadiness(t *testing.T) {
	dbUp := true
	h := NewMetricsHandler(service.NewMetricsService(), map[string]ReadinessCheck{
		"database": func(context.Context) error {
			if dbUp {
				return nil
			}
			return errors.New("connection refused")
		},
		"disabled": nil,
	})
	router := newRouter(nil)
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", h.Prometheus)
	router.GET("/metrics/summary", h.Summary)

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/ready", nil).Code)

	dbUp = false
	rec := doRequest(router, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "connection refused", body.Checks["database"])

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/metrics", nil).Code)

	rec = doRequest(router, http.MethodGet, "/metrics/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot models.SystemMetrics
	decodeEnvelope(t, rec, &snapshot)
}

func TestIntegrityHandlerReport(t *testing.T) {
	srv := &fakeIntegritySrv{}
	router := newRouter(presidentUser)
	router.GET("/integrity", NewIntegrityHandler(srv).Report)

	require.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/integrity", nil).Code)
	require.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/integrity", nil).Code)
	assert.Equal(t, 1, srv.sweeps)

	require.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/integrity?refresh=true", nil).Code)
	assert.Equal(t, 2, srv.sweeps)
}
