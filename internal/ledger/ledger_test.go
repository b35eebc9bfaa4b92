package ledger

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

func usd(v int64) money.Money {
	return money.MustNew(v, "USD")
}

func TestNewRequiresPositiveBudget(t *testing.T) {
	_, err := New(usd(0))
	require.ErrorIs(t, err, appErrors.ErrInvalidArgument)
}

func TestReserveCommitScenario(t *testing.T) {
	l, err := New(usd(50000))
	require.NoError(t, err)

	first, err := l.Reserve(usd(30000))
	require.NoError(t, err)
	assert.Equal(t, int64(20000), l.Snapshot().Remaining.Amount())

	_, err = l.Reserve(usd(25000))
	require.ErrorIs(t, err, appErrors.ErrInsufficientFunds)
	assert.Equal(t, int64(20000), l.Snapshot().Remaining.Amount())

	_, err = l.Reserve(usd(20000))
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.Snapshot().Remaining.Amount())

	require.NoError(t, l.Commit(first.ID))
	snap := l.Snapshot()
	assert.Equal(t, int64(30000), snap.Spent.Amount())
	assert.Equal(t, int64(20000), snap.Committed.Amount())
	assert.Equal(t, 1, snap.OpenReservations)
}

func TestCommitTwiceFailsWithoutSideEffects(t *testing.T) {
	l, err := New(usd(10000))
	require.NoError(t, err)

	res, err := l.Reserve(usd(4000))
	require.NoError(t, err)
	require.NoError(t, l.Commit(res.ID))
	before := l.Snapshot()

	err = l.Commit(res.ID)
	require.ErrorIs(t, err, appErrors.ErrUnknownReservation)
	assert.Equal(t, before, l.Snapshot())

	err = l.Release(res.ID)
	require.ErrorIs(t, err, appErrors.ErrUnknownReservation)
	assert.Equal(t, before, l.Snapshot())
}

func TestReleaseRestoresRemaining(t *testing.T) {
	l, err := New(usd(10000))
	require.NoError(t, err)
	_, err = l.Reserve(usd(1234))
	require.NoError(t, err)
	before := l.Snapshot().Remaining

	res, err := l.Reserve(usd(7500))
	require.NoError(t, err)
	require.NoError(t, l.Release(res.ID))

	assert.True(t, before.Equal(l.Snapshot().Remaining))
	assert.Equal(t, int64(0), l.Snapshot().Spent.Amount())
}

func TestReserveRejectsZeroAndForeignCurrency(t *testing.T) {
	l, err := New(usd(10000))
	require.NoError(t, err)

	_, err = l.Reserve(usd(0))
	require.ErrorIs(t, err, appErrors.ErrInvalidArgument)

	_, err = l.Reserve(money.MustNew(10, "EUR"))
	require.ErrorIs(t, err, appErrors.ErrCurrencyMismatch)
	assert.Equal(t, 0, l.Snapshot().OpenReservations)
}

func TestUnknownHandleFromAnotherLedger(t *testing.T) {
	a, _ := New(usd(100))
	b, _ := New(usd(100))
	res, err := a.Reserve(usd(10))
	require.NoError(t, err)

	require.ErrorIs(t, b.Commit(res.ID), appErrors.ErrUnknownReservation)
}

func TestConcurrentReservesNeverOversubscribe(t *testing.T) {
	l, err := New(usd(50000))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(usd(25000)); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, granted)
	snap := l.Snapshot()
	assert.Equal(t, int64(50000), snap.Committed.Amount())
	assert.Equal(t, int64(0), snap.Remaining.Amount())
}

func TestRandomSequencesKeepInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		l, err := New(usd(100000))
		require.NoError(t, err)
		var open []string
		for step := 0; step < 200; step++ {
			switch op := rng.Intn(3); {
			case op == 0 || len(open) == 0:
				if res, err := l.Reserve(usd(int64(rng.Intn(30000) + 1))); err == nil {
					open = append(open, res.ID)
				} else {
					require.ErrorIs(t, err, appErrors.ErrInsufficientFunds)
				}
			case op == 1:
				idx := rng.Intn(len(open))
				require.NoError(t, l.Commit(open[idx]))
				open = append(open[:idx], open[idx+1:]...)
			default:
				idx := rng.Intn(len(open))
				require.NoError(t, l.Release(open[idx]))
				open = append(open[:idx], open[idx+1:]...)
			}
			snap := l.Snapshot()
			assert.LessOrEqual(t, snap.Spent.Amount()+snap.Committed.Amount(), snap.Budget.Amount())
			assert.Equal(t, snap.Budget.Amount()-snap.Spent.Amount()-snap.Committed.Amount(), snap.Remaining.Amount())
			assert.Equal(t, len(open), snap.OpenReservations)
		}
	}
}

func TestRestore(t *testing.T) {
	l, err := Restore(usd(50000), usd(22500), []models.Reservation{{ID: "r-1", Amount: usd(7500)}})
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, int64(20000), snap.Remaining.Amount())
	require.NoError(t, l.Commit("r-1"))
	assert.Equal(t, int64(30000), l.Snapshot().Spent.Amount())
}

func TestRestoreRejectsOversubscribedState(t *testing.T) {
	_, err := Restore(usd(100), usd(60), []models.Reservation{{ID: "r-1", Amount: usd(50)}})
	require.ErrorIs(t, err, appErrors.ErrInsufficientFunds)

	_, err = Restore(usd(100), usd(0), []models.Reservation{{ID: "r-1", Amount: usd(5)}, {ID: "r-1", Amount: usd(5)}})
	require.ErrorIs(t, err, appErrors.ErrInvalidArgument)
}

func TestWithIDGenerator(t *testing.T) {
	l, err := New(usd(100), WithIDGenerator(func() string { return "fixed" }))
	require.NoError(t, err)

	res, err := l.Reserve(usd(10))
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.ID)

	_, err = l.Reserve(usd(10))
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, int64(10), l.Snapshot().Committed.Amount())
}
