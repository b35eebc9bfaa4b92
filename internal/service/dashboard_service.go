package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	"github.com/noah-isme/ruralfund-api/internal/models"
)

const dashboardAggregateKey = "dash:aggregate"

type aggregateSource interface {
	Aggregate() (models.ProjectAggregate, error)
}

type dashboardCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DashboardService serves registry statistics, caching them between writes.
type DashboardService struct {
	source aggregateSource
	cache  dashboardCache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewDashboardService constructs a DashboardService. A nil cache disables caching.
func NewDashboardService(source aggregateSource, cache dashboardCache, ttl time.Duration, logger *zap.Logger) *DashboardService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{source: source, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// Summary returns the aggregate and whether it came from cache.
func (s *DashboardService) Summary(ctx context.Context) (*dto.DashboardResponse, bool, error) {
	if s.cache != nil {
		var cached dto.DashboardResponse
		if s.cache.Get(ctx, dashboardAggregateKey, &cached) {
			return &cached, true, nil
		}
	}

	aggregate, err := s.source.Aggregate()
	if err != nil {
		return nil, false, err
	}
	resp := &dto.DashboardResponse{
		ProjectAggregate: aggregate,
		GeneratedAt:      s.now().UTC().Format(time.RFC3339),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, dashboardAggregateKey, resp, s.ttl); err != nil {
			s.logger.Debug("dashboard cache not populated", zap.Error(err))
		}
	}
	return resp, false, nil
}
