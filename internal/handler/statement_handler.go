package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/internal/service"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/response"
)

type statementService interface {
	Generate(ctx context.Context, claims *models.JWTClaims, meta service.RequestMeta, projectID, format string) (*dto.StatementResponse, error)
	Open(token string) (*service.Statement, error)
}

// StatementHandler exposes ledger statement exports.
type StatementHandler struct {
	service statementService
}

// NewStatementHandler constructs a StatementHandler.
func NewStatementHandler(svc statementService) *StatementHandler {
	return &StatementHandler{service: svc}
}

// Generate godoc
// @Summary Render a ledger statement
// @Tags Statements
// @Produce json
// @Param id path string true "Project ID"
// @Param format query string false "csv, pdf or xlsx" default(csv)
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{id}/statements [post]
func (h *StatementHandler) Generate(c *gin.Context) {
	res, err := h.service.Generate(c.Request.Context(), claimsFromContext(c), requestMeta(c), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Download godoc
// @Summary Download a statement through a signed token
// @Tags Statements
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /statements/download [get]
func (h *StatementHandler) Download(c *gin.Context) {
	stmt, err := h.service.Open(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer stmt.File.Close()

	info, err := stmt.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read statement"))
		return
	}
	response.Attachment(c, stmt.Filename, stmt.Format.ContentType(), info.Size(), stmt.File)
}
