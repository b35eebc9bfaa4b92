package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ruralfund-api/internal/middleware"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/internal/service"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.CurrentUser(c)
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func bindJSON(c *gin.Context, dest interface{}, message string) error {
	if err := c.ShouldBindJSON(dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
	}
	return nil
}

// pageParams reads page and page_size, falling back to the first page.
func pageParams(c *gin.Context) (int, int, error) {
	page, size := 1, defaultPageSize
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return 0, 0, appErrors.Clone(appErrors.ErrValidation, "page must be a positive integer")
		}
		page = v
	}
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxPageSize {
			return 0, 0, appErrors.Clone(appErrors.ErrValidation, "page_size must be between 1 and 100")
		}
		size = v
	}
	return page, size, nil
}

func paginate[T any](items []T, page, size int) ([]T, *models.Pagination) {
	p := &models.Pagination{Page: page, PageSize: size, TotalCount: len(items)}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}, p
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], p
}
