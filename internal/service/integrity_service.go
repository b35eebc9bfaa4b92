package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ruralfund-api/internal/dto"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

type reconciler interface {
	ProjectIDs() []string
	Reconcile(projectID string) error
}

// IntegrityService periodically checks that every ledger reconciles with its
// claims and that every decision chain verifies.
type IntegrityService struct {
	source  reconciler
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.RWMutex
	last *dto.IntegrityReport
}

// NewIntegrityService constructs an IntegrityService.
func NewIntegrityService(source reconciler, metrics *MetricsService, logger *zap.Logger) *IntegrityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntegrityService{source: source, metrics: metrics, logger: logger, now: time.Now}
}

// Sweep reconciles every project and publishes the violation count.
func (s *IntegrityService) Sweep(ctx context.Context) (*dto.IntegrityReport, error) {
	ids := s.source.ProjectIDs()
	report := &dto.IntegrityReport{
		CheckedAt:  s.now().UTC(),
		Projects:   len(ids),
		Violations: []dto.IntegrityViolation{},
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.source.Reconcile(id); err != nil {
			if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
				continue
			}
			report.Violations = append(report.Violations, dto.IntegrityViolation{ProjectID: id, Message: err.Error()})
			s.logger.Error("integrity violation", zap.String("project_id", id), zap.Error(err))
		}
	}
	s.metrics.SetIntegrityViolations(len(report.Violations))

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

// Run adapts Sweep to the scheduler's task signature.
func (s *IntegrityService) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// LastReport returns the most recent sweep, or nil before the first one.
func (s *IntegrityService) LastReport() *dto.IntegrityReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
