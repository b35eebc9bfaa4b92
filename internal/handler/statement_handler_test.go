package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/internal/service"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/export"
)

type fakeStatementSrv struct {
	dir        string
	lastFormat string
	lastClaims *models.JWTClaims
	genErr     error
	openErr    error
}

func (f *fakeStatementSrv) Generate(_ context.Context, claims *models.JWTClaims, _ service.RequestMeta, projectID, format string) (*dto.StatementResponse, error) {
	f.lastClaims, f.lastFormat = claims, format
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &dto.StatementResponse{ProjectID: projectID, Format: format, Token: "tok", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeStatementSrv) Open(token string) (*service.Statement, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	path := filepath.Join(f.dir, "statement.csv")
	if err := os.WriteFile(path, []byte("Claim,Amount\nc-1,75.00\n"), 0o644); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &service.Statement{File: file, Filename: "statement_p-1.csv", Format: export.FormatCSV}, nil
}

func statementRoutes(srv *fakeStatementSrv, claims *models.JWTClaims) http.Handler {
	h := NewStatementHandler(srv)
	router := newRouter(claims)
	router.POST("/projects/:id/statements", h.Generate)
	router.GET("/statements/download", h.Download)
	return router
}

func TestStatementHandlerGenerate(t *testing.T) {
	srv := &fakeStatementSrv{dir: t.TempDir()}
	router := statementRoutes(srv, ngoUser)

	rec := doRequest(router, http.MethodPost, "/projects/p-1/statements?format=pdf", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp dto.StatementResponse
	decodeEnvelope(t, rec, &resp)
	assert.Equal(t, "p-1", resp.ProjectID)
	assert.Equal(t, "pdf", srv.lastFormat)
	assert.Equal(t, "ngo-1", srv.lastClaims.UserID)

	srv.genErr = appErrors.Clone(appErrors.ErrValidation, "format must be csv, pdf or xlsx")
	rec = doRequest(router, http.MethodPost, "/projects/p-1/statements?format=doc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatementHandlerDownload(t *testing.T) {
	srv := &fakeStatementSrv{dir: t.TempDir()}
	router := statementRoutes(srv, nil)

	rec := doRequest(router, http.MethodGet, "/statements/download?token=tok", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="statement_p-1.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Claim,Amount\nc-1,75.00\n", rec.Body.String())

	srv.openErr = appErrors.Clone(appErrors.ErrForbidden, "download link has expired")
	rec = doRequest(router, http.MethodGet, "/statements/download?token=old", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
