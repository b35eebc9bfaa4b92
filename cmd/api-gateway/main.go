package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/ruralfund-api/internal/db"
	"github.com/noah-isme/ruralfund-api/internal/funding"
	"github.com/noah-isme/ruralfund-api/internal/handler"
	"github.com/noah-isme/ruralfund-api/internal/repository"
	"github.com/noah-isme/ruralfund-api/internal/service"
	"github.com/noah-isme/ruralfund-api/pkg/cache"
	"github.com/noah-isme/ruralfund-api/pkg/config"
	"github.com/noah-isme/ruralfund-api/pkg/database"
	"github.com/noah-isme/ruralfund-api/pkg/jobs"
	"github.com/noah-isme/ruralfund-api/pkg/logger"
	"github.com/noah-isme/ruralfund-api/pkg/storage"
)

// @title RuralFund API
// @version 1.0.0
// @description Funding ledger and approval workflow for rural development projects
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	var cacheCheck handler.ReadinessCheck
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
			cacheCheck = repo.Ping
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.CacheEnabled)

	userRepo := repository.NewUserRepository(conn)
	projectRepo := repository.NewProjectRepository(conn)
	registry := funding.NewRegistry()

	persistence := service.NewPersistenceService(projectRepo, registry, metrics, logr, service.PersistenceConfig{
		Enabled:    cfg.Funding.PersistenceEnabled,
		Workers:    cfg.Funding.PersistWorkers,
		MaxRetries: cfg.Funding.PersistRetries,
	})
	restored, err := persistence.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}
	logr.Info("registry ready", zap.Int("projects", restored))
	// Workers outlive the signal context so shutdown can drain them.
	persistence.Start(context.Background())

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
	})
	fundingSvc := service.NewFundingService(service.FundingServiceParams{
		Registry:        registry,
		Persistence:     persistence,
		Cache:           cacheSvc,
		Audit:           userRepo,
		Metrics:         metrics,
		Validator:       validate,
		Logger:          logr,
		DefaultCurrency: cfg.Funding.DefaultCurrency,
	})
	dashboardSvc := service.NewDashboardService(registry, cacheSvc, cfg.Dashboard.CacheTTL, logr)
	integritySvc := service.NewIntegrityService(registry, metrics, logr)

	var statementSvc *service.StatementService
	if cfg.Statements.Enabled {
		store, err := storage.NewLocalStorage(cfg.Statements.StorageDir)
		if err != nil {
			return fmt.Errorf("statement storage: %w", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Statements.SignedURLSecret, cfg.Statements.SignedURLTTL)
		statementSvc = service.NewStatementService(registry, store, signer, userRepo, logr, service.StatementConfig{
			APIPrefix: cfg.APIPrefix,
			Retention: 2 * cfg.Statements.SignedURLTTL,
		})
	}

	scheduler := jobs.NewScheduler(logr)
	if cfg.Integrity.Enabled {
		if err := scheduler.Register("integrity-sweep", cfg.Integrity.Schedule, integritySvc.Run); err != nil {
			return err
		}
	}
	if statementSvc != nil {
		if err := scheduler.Register("statement-cleanup", "@every 1h", statementSvc.Cleanup); err != nil {
			return err
		}
	}
	scheduler.Start()

	checks := map[string]handler.ReadinessCheck{
		"database":    pingDatabase(conn),
		"cache":       cacheCheck,
		"persistence": persistenceBacklog(persistence),
	}

	router := newRouter(cfg, logr, routeDeps{
		auth:        authSvc,
		metrics:     metrics,
		audit:       userRepo,
		authH:       handler.NewAuthHandler(authSvc),
		projectH:    handler.NewProjectHandler(fundingSvc),
		claimH:      handler.NewClaimHandler(fundingSvc),
		dashboardH:  handler.NewDashboardHandler(dashboardSvc),
		integrityH:  handler.NewIntegrityHandler(integritySvc),
		metricsH:    handler.NewMetricsHandler(metrics, checks),
		statementSv: statementSvc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	scheduler.Stop()
	pending := persistence.Pending()
	persistence.Drain(shutdownCtx)
	unsaved := persistence.Pending()
	if unsaved > 0 {
		logr.Error("snapshots not saved before shutdown deadline", zap.Int("unsaved", unsaved))
	}
	logr.Info("server stopped", zap.Int("snapshots_flushed", pending-unsaved))
	return nil
}

func pingDatabase(conn *sqlx.DB) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return conn.PingContext(ctx)
	}
}

// persistenceBacklog fails readiness when snapshots pile up faster than
// Postgres absorbs them.
func persistenceBacklog(p *service.PersistenceService) handler.ReadinessCheck {
	const limit = 1000
	return func(context.Context) error {
		if n := p.Pending(); n > limit {
			return fmt.Errorf("%d snapshots waiting", n)
		}
		return nil
	}
}
