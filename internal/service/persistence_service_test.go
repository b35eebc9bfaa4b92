package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/ruralfund-api/internal/funding"
	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/pkg/jobs"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

type fakeProjectStore struct {
	mu       sync.Mutex
	saved    []models.ProjectRecord
	failures int
	records  []models.ProjectRecord
	loadErr  error
	delay    time.Duration
}

func (s *fakeProjectStore) SaveSnapshot(ctx context.Context, rec models.ProjectRecord) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	s.saved = append(s.saved, rec)
	return nil
}

func (s *fakeProjectStore) LoadAll(ctx context.Context) ([]models.ProjectRecord, error) {
	return s.records, s.loadErr
}

func (s *fakeProjectStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *fakeProjectStore) lastSaved() models.ProjectRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[len(s.saved)-1]
}

func seededRegistry(t *testing.T) (*funding.Registry, string) {
	t.Helper()
	r := funding.NewRegistry()
	ngo := funding.NewActor("ngo-1", models.RoleNGO)
	view, err := r.CreateProject(ngo, funding.ProjectInput{
		Name:                   "School roof",
		Description:            "Replace roof sheets",
		Location:               "Gulu",
		Category:               models.CategoryEducation,
		Budget:                 money.MustNew(20000, "USD"),
		ExpectedDurationMonths: 3,
	})
	require.NoError(t, err)
	return r, view.ID
}

func TestPersistenceServiceHandleSavesLatestExport(t *testing.T) {
	registry, projectID := seededRegistry(t)
	store := &fakeProjectStore{}
	svc := NewPersistenceService(store, registry, nil, zap.NewNop(), PersistenceConfig{Enabled: true})

	_, err := registry.SubmitProject(funding.NewActor("ngo-1", models.RoleNGO), projectID)
	require.NoError(t, err)

	require.NoError(t, svc.Handle(context.Background(), jobs.Job{ID: projectID, Payload: projectID}))
	require.Equal(t, 1, store.savedCount())
	assert.Equal(t, models.ProjectStatusPendingApproval, store.lastSaved().Project.Status)

	assert.Error(t, svc.Handle(context.Background(), jobs.Job{ID: "bad", Payload: 42}))
	assert.Error(t, svc.Handle(context.Background(), jobs.Job{ID: "missing", Payload: "missing"}))
}

func TestPersistenceServiceScheduleAndDrain(t *testing.T) {
	registry, projectID := seededRegistry(t)
	store := &fakeProjectStore{}
	metrics := NewMetricsService()
	svc := NewPersistenceService(store, registry, metrics, zap.NewNop(), PersistenceConfig{Enabled: true, Workers: 2})
	svc.Start(context.Background())

	for i := 0; i < 5; i++ {
		svc.Schedule(projectID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Drain(ctx)

	require.GreaterOrEqual(t, store.savedCount(), 1)
	assert.LessOrEqual(t, store.savedCount(), 5)
	expected, err := registry.Export(projectID)
	require.NoError(t, err)
	assert.Equal(t, expected, store.lastSaved())
}

func TestPersistenceServiceDrainKeepsSaveInFlight(t *testing.T) {
	registry, projectID := seededRegistry(t)
	store := &fakeProjectStore{delay: 200 * time.Millisecond}
	svc := NewPersistenceService(store, registry, NewMetricsService(), zap.NewNop(), PersistenceConfig{Enabled: true, Workers: 1})
	svc.Start(context.Background())

	_, err := registry.SubmitProject(funding.NewActor("ngo-1", models.RoleNGO), projectID)
	require.NoError(t, err)
	svc.Schedule(projectID)
	assert.Equal(t, 1, svc.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Drain(ctx)

	require.Equal(t, 1, store.savedCount())
	assert.Equal(t, models.ProjectStatusPendingApproval, store.lastSaved().Project.Status)
	assert.Equal(t, 0, svc.Pending())
}

func TestPersistenceServiceRetriesFailedSaves(t *testing.T) {
	registry, projectID := seededRegistry(t)
	store := &fakeProjectStore{failures: 2}
	svc := NewPersistenceService(store, registry, NewMetricsService(), zap.NewNop(), PersistenceConfig{
		Enabled:    true,
		MaxRetries: 3,
		RetryDelay: 5 * time.Millisecond,
	})
	svc.Start(context.Background())
	defer svc.Drain(context.Background())

	svc.Schedule(projectID)
	require.Eventually(t, func() bool { return store.savedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPersistenceServiceDisabled(t *testing.T) {
	registry, projectID := seededRegistry(t)
	store := &fakeProjectStore{}
	svc := NewPersistenceService(store, registry, nil, nil, PersistenceConfig{Enabled: false})
	svc.Start(context.Background())

	svc.Schedule(projectID)
	assert.False(t, svc.Enabled())
	assert.Equal(t, 0, svc.Pending())
	assert.Equal(t, 0, store.savedCount())
	svc.Drain(context.Background())
}

func TestPersistenceServiceRestore(t *testing.T) {
	source, projectID := seededRegistry(t)
	rec, err := source.Export(projectID)
	require.NoError(t, err)

	target := funding.NewRegistry()
	svc := NewPersistenceService(&fakeProjectStore{records: []models.ProjectRecord{rec}}, target, nil, nil, PersistenceConfig{Enabled: true})
	n, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	view, err := target.FindByID(projectID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), view.Ledger.Remaining.Amount())

	failing := NewPersistenceService(&fakeProjectStore{loadErr: errors.New("db down")}, funding.NewRegistry(), nil, nil, PersistenceConfig{Enabled: true})
	_, err = failing.Restore(context.Background())
	assert.Error(t, err)
}
