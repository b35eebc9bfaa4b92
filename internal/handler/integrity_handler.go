package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/pkg/response"
)

type integrityService interface {
	Sweep(ctx context.Context) (*dto.IntegrityReport, error)
	LastReport() *dto.IntegrityReport
}

// IntegrityHandler exposes the ledger reconciliation sweep.
type IntegrityHandler struct {
	service integrityService
}

// NewIntegrityHandler constructs an IntegrityHandler.
func NewIntegrityHandler(svc integrityService) *IntegrityHandler {
	return &IntegrityHandler{service: svc}
}

// Report godoc
// @Summary Latest integrity sweep, running one if none exists yet
// @Tags Integrity
// @Produce json
// @Param refresh query bool false "Force a new sweep"
// @Success 200 {object} response.Envelope
// @Router /integrity [get]
func (h *IntegrityHandler) Report(c *gin.Context) {
	report := h.service.LastReport()
	if report == nil || c.Query("refresh") == "true" {
		var err error
		report, err = h.service.Sweep(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
	}
	response.JSON(c, http.StatusOK, report, nil)
}
