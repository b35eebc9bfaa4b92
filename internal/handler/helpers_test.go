package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ruralfund-api/internal/middleware"
	"github.com/noah-isme/ruralfund-api/internal/models"
)

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *envelopeError         `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	ngoUser        = &models.JWTClaims{UserID: "ngo-1", Role: models.RoleNGO}
	presidentUser  = &models.JWTClaims{UserID: "pres-1", Role: models.RolePresident}
	contractorUser = &models.JWTClaims{UserID: "con-1", Role: models.RoleContractor}
)

// newRouter returns a router that injects claims the way JWT would.
func newRouter(claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.WithResponseMeta())
	if claims != nil {
		router.Use(func(c *gin.Context) {
			c.Set(middleware.ContextUserKey, claims)
			c.Next()
		})
	}
	return router
}

func doRequest(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}
