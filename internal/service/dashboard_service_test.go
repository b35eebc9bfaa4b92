package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ruralfund-api/internal/models"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

type aggregateStub struct {
	calls int
	agg   models.ProjectAggregate
	err   error
}

func (a *aggregateStub) Aggregate() (models.ProjectAggregate, error) {
	a.calls++
	return a.agg, a.err
}

type memoryCache struct {
	data map[string][]byte
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, ok := m.data[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func sampleAggregate() models.ProjectAggregate {
	return models.ProjectAggregate{
		TotalProjects: 2,
		ByStatus:      map[models.ProjectStatus]int{models.ProjectStatusActive: 1, models.ProjectStatusDraft: 1},
		Totals: []models.CurrencyTotals{{
			Currency:  "USD",
			Budget:    money.MustNew(60000, "USD"),
			Spent:     money.MustNew(7500, "USD"),
			Committed: money.MustNew(0, "USD"),
		}},
	}
}

func TestDashboardServiceCachesAggregate(t *testing.T) {
	source := &aggregateStub{agg: sampleAggregate()}
	cache := &memoryCache{data: map[string][]byte{}}
	svc := NewDashboardService(source, cache, time.Minute, nil)

	first, hit, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, first.TotalProjects)
	assert.Contains(t, cache.data, dashboardAggregateKey)

	second, hit, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, first.Totals[0].Spent, second.Totals[0].Spent)
	assert.Equal(t, 1, second.ByStatus[models.ProjectStatusActive])
}

func TestDashboardServiceWithoutCache(t *testing.T) {
	source := &aggregateStub{agg: sampleAggregate()}
	svc := NewDashboardService(source, nil, 0, nil)

	_, hit, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	_, _, _ = svc.Summary(context.Background())
	assert.Equal(t, 2, source.calls)

	source.err = errors.New("overflow")
	_, _, err = svc.Summary(context.Background())
	assert.Error(t, err)
}
