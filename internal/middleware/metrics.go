package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ruralfund-api/internal/service"
)

// Metrics observes request latency and status per matched route. Unmatched
// paths share one label.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, status, duration)
	}
}
