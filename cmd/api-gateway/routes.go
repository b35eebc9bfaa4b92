package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/ruralfund-api/api/swagger"
	"github.com/noah-isme/ruralfund-api/internal/handler"
	"github.com/noah-isme/ruralfund-api/internal/middleware"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/internal/service"
	"github.com/noah-isme/ruralfund-api/pkg/config"
	"github.com/noah-isme/ruralfund-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/ruralfund-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/ruralfund-api/pkg/middleware/requestid"
)

type routeDeps struct {
	auth    middleware.TokenValidator
	metrics *service.MetricsService
	audit   middleware.AuditWriter

	authH       *handler.AuthHandler
	projectH    *handler.ProjectHandler
	claimH      *handler.ClaimHandler
	dashboardH  *handler.DashboardHandler
	integrityH  *handler.IntegrityHandler
	metricsH    *handler.MetricsHandler
	statementSv *service.StatementService
}

func newRouter(cfg *config.Config, logr *zap.Logger, d routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", d.metricsH.Health)
	r.GET("/ready", d.metricsH.Ready)
	r.GET("/metrics", d.metricsH.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	requireAuth := middleware.JWT(d.auth)
	optionalAuth := middleware.OptionalJWT(d.auth)
	oversight := middleware.RequireRoles(models.RoleAdmin, models.RolePresident)

	auth := api.Group("/auth")
	auth.POST("/login", d.authH.Login)
	auth.GET("/me", requireAuth, d.authH.Me)

	projects := api.Group("/projects")
	projects.GET("", optionalAuth, d.projectH.List)
	projects.GET("/:id", optionalAuth, d.projectH.Get)
	projects.GET("/:id/ledger", optionalAuth, d.projectH.Ledger)
	projects.GET("/:id/claims", optionalAuth, d.projectH.Claims)
	projects.GET("/:id/decisions", optionalAuth, d.projectH.Decisions)
	projects.GET("/:id/decisions/verify", optionalAuth, d.projectH.VerifyChain)

	projects.POST("", requireAuth, middleware.RequireRoles(models.RoleNGO, models.RoleAdmin), d.projectH.Create)
	projects.POST("/:id/submit", requireAuth, d.projectH.Submit)
	projects.POST("/:id/approve", requireAuth, oversight, d.projectH.Approve)
	projects.POST("/:id/complete", requireAuth, d.projectH.Complete)
	projects.POST("/:id/cancel", requireAuth, d.projectH.Cancel)
	projects.POST("/:id/contractor", requireAuth, d.projectH.AssignContractor)
	projects.POST("/:id/milestones/:milestoneId/advance", requireAuth, d.projectH.AdvanceMilestone)
	projects.POST("/:id/claims", requireAuth, d.claimH.Submit)

	claims := api.Group("/claims")
	claims.GET("/:id", optionalAuth, d.claimH.Get)
	claims.POST("/:id/acknowledge", requireAuth, d.claimH.Acknowledge)
	claims.POST("/:id/approve", requireAuth, d.claimH.Approve)
	claims.POST("/:id/reject", requireAuth, d.claimH.Reject)
	claims.POST("/:id/withdraw", requireAuth, d.claimH.Withdraw)
	claims.POST("/:id/decision", requireAuth, d.claimH.Decide)

	api.GET("/dashboard", d.dashboardH.Summary)
	api.GET("/integrity", requireAuth, oversight, d.integrityH.Report)
	api.GET("/metrics/summary", requireAuth, middleware.RequireRoles(models.RoleAdmin), d.metricsH.Summary)

	if d.statementSv != nil {
		statements := handler.NewStatementHandler(d.statementSv)
		projects.POST("/:id/statements", requireAuth, statements.Generate)
		api.GET("/statements/download", middleware.Audit(d.audit, logr, models.AuditActionStatementDownload, "statement"), statements.Download)
	}

	return r
}
