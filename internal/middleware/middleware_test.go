package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

type validatorStub map[string]*models.JWTClaims

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type auditSink struct {
	entries []*models.AuditLog
	err     error
}

func (a *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

var tokens = validatorStub{
	"pres-token": {UserID: "pres-1", Role: models.RolePresident},
	"con-token":  {UserID: "con-1", Role: models.RoleContractor},
}

func perform(router *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestJWTAndRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/integrity", JWT(tokens), RequireRoles(models.RoleAdmin, models.RolePresident), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUser(c).UserID)
	})

	rec := perform(router, http.MethodGet, "/integrity", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = perform(router, http.MethodGet, "/integrity", "Token pres-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = perform(router, http.MethodGet, "/integrity", "Bearer forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errorCode(t, rec))

	rec = perform(router, http.MethodGet, "/integrity", "Bearer con-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = perform(router, http.MethodGet, "/integrity", "bearer pres-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pres-1", rec.Body.String())
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := perform(router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", OptionalJWT(tokens), func(c *gin.Context) {
		if claims := CurrentUser(c); claims != nil {
			c.String(http.StatusOK, claims.UserID)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	assert.Equal(t, "anonymous", perform(router, http.MethodGet, "/", "").Body.String())
	assert.Equal(t, "anonymous", perform(router, http.MethodGet, "/", "Bearer forged").Body.String())
	assert.Equal(t, "con-1", perform(router, http.MethodGet, "/", "Bearer con-token").Body.String())
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &auditSink{}
	router := gin.New()
	router.GET("/download", Audit(sink, nil, models.AuditActionStatementDownload, "statement"), func(c *gin.Context) {
		if c.Query("fail") != "" {
			c.Status(http.StatusForbidden)
			return
		}
		c.Status(http.StatusOK)
	})

	perform(router, http.MethodGet, "/download", "")
	perform(router, http.MethodGet, "/download?fail=1", "")
	require.Len(t, sink.entries, 1)
	assert.Equal(t, models.AuditActionStatementDownload, sink.entries[0].Action)
	assert.Nil(t, sink.entries[0].UserID)

	sink.err = errors.New("db down")
	rec := perform(router, http.MethodGet, "/download", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		SetMeta(c, "chain_valid", false)
		SetMeta(c, "", "ignored")
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	perform(router, http.MethodGet, "/", "")
	assert.Equal(t, true, meta["cache_hit"])
	assert.Equal(t, false, meta["chain_valid"])
	assert.NotContains(t, meta, "")
	assert.Contains(t, meta, "processing_time_ms")
}
