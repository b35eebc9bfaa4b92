package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/jobs"
)

const snapshotJobType = "project.snapshot"

type projectStore interface {
	SaveSnapshot(ctx context.Context, rec models.ProjectRecord) error
	LoadAll(ctx context.Context) ([]models.ProjectRecord, error)
}

type snapshotSource interface {
	Export(projectID string) (models.ProjectRecord, error)
	Restore(records []models.ProjectRecord) error
}

// PersistenceConfig tunes write-behind persistence.
type PersistenceConfig struct {
	Enabled    bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// PersistenceService writes registry state to Postgres behind the request
// path. A job only names a project; the handler exports whatever the
// registry holds at that moment, so retries and duplicates converge on the
// latest state.
type PersistenceService struct {
	store   projectStore
	source  snapshotSource
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool

	locks sync.Map
}

// NewPersistenceService wires the snapshot queue. The queue is idle until Start.
func NewPersistenceService(store projectStore, source snapshotSource, metrics *MetricsService, logger *zap.Logger, cfg PersistenceConfig) *PersistenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PersistenceService{
		store:   store,
		source:  source,
		metrics: metrics,
		logger:  logger,
		enabled: cfg.Enabled && store != nil,
	}
	s.queue = jobs.NewQueue("project-snapshots", s.Handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDone: func(_ jobs.Job, err error) {
			s.metrics.RecordPersistJob(err)
		},
	})
	return s
}

// Enabled reports whether snapshots are written.
func (s *PersistenceService) Enabled() bool {
	return s != nil && s.enabled
}

// Start launches the workers.
func (s *PersistenceService) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.queue.Start(ctx)
}

// Drain waits for queued, running and retrying snapshots, then stops the
// workers.
func (s *PersistenceService) Drain(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.queue.Drain(ctx)
}

// Pending returns the number of snapshots not yet saved, including ones
// being written or waiting to retry.
func (s *PersistenceService) Pending() int {
	if !s.Enabled() {
		return 0
	}
	return s.queue.Outstanding()
}

// Schedule queues a snapshot of the project. It never fails the mutation
// that triggered it. The caller waits only when the snapshot buffer is full,
// which happens once Postgres falls behind by more than the buffer holds.
func (s *PersistenceService) Schedule(projectID string) {
	if !s.Enabled() || projectID == "" {
		return
	}
	job := jobs.Job{ID: projectID, Key: projectID, Type: snapshotJobType, Payload: projectID}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to queue project snapshot", zap.String("project_id", projectID), zap.Error(err))
	}
}

// Handle exports and saves one project. Saves for the same project are
// serialised so an older export can never overwrite a newer one.
func (s *PersistenceService) Handle(ctx context.Context, job jobs.Job) error {
	projectID, ok := job.Payload.(string)
	if !ok || projectID == "" {
		return fmt.Errorf("snapshot job %s has no project id", job.ID)
	}
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.source.Export(projectID)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.store.SaveSnapshot(ctx, rec)
	s.metrics.ObserveDBQuery("save_snapshot", time.Since(start))
	if err != nil {
		return err
	}
	s.logger.Debug("project snapshot saved",
		zap.String("project_id", projectID),
		zap.Int("claims", len(rec.Claims)),
		zap.Int("decisions", len(rec.Decisions)))
	return nil
}

// Restore loads every persisted project into the registry. It must run
// before the HTTP server accepts requests.
func (s *PersistenceService) Restore(ctx context.Context) (int, error) {
	if s == nil || s.store == nil {
		return 0, nil
	}
	start := time.Now()
	records, err := s.store.LoadAll(ctx)
	s.metrics.ObserveDBQuery("load_snapshots", time.Since(start))
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load projects")
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.source.Restore(records); err != nil {
		return 0, err
	}
	s.logger.Info("registry restored", zap.Int("projects", len(records)))
	return len(records), nil
}

func (s *PersistenceService) lockFor(projectID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(projectID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
