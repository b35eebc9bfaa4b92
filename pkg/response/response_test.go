package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

func TestErrorHidesCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Error(c, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors.String(), "connection refused")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestErrorDomainCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Error(c, appErrors.Clone(appErrors.ErrInsufficientFunds, "remaining 10.00 USD"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var env struct {
		Error appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "INSUFFICIENT_FUNDS", env.Error.Code)
	assert.Equal(t, "remaining 10.00 USD", env.Error.Message)
	assert.Empty(t, c.Errors)
}

func TestJSONOmitsEmptyMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	JSON(c, http.StatusOK, map[string]int{"n": 1}, nil, map[string]interface{}{})
	assert.Equal(t, `{"data":{"n":1}}`, rec.Body.String())
}

func TestAttachment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Attachment(c, "statement.csv", "text/csv", 4, strings.NewReader("a,b\n"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="statement.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "a,b\n", rec.Body.String())
}
