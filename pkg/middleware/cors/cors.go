package cors

import (
	"strings"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ruralfund-api/pkg/middleware/requestid"
)

// New builds the CORS middleware. An empty origin list allows any origin
// without credentials.
func New(allowedOrigins []string) gin.HandlerFunc {
	cfg := gincors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", requestid.HeaderKey},
		ExposeHeaders:    []string{requestid.HeaderKey, "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           10 * time.Minute,
	}

	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}

	return gincors.New(cfg)
}
