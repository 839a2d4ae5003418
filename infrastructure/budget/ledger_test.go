package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renatodap/studysharper-sub001/domain/ai"
)

func TestLedger_Reserve_AdmitsWithinCeiling(t *testing.T) {
	ledger := NewLedger(1.0)

	res, err := ledger.Reserve(0.5)

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 0.0, ledger.CurrentSpend())

	res.Commit(0.4)
	assert.InDelta(t, 0.4, ledger.CurrentSpend(), 1e-9)
}

func TestLedger_Reserve_DeniesWhenEstimateExceedsCeiling(t *testing.T) {
	ledger := NewLedger(1.0)

	res, err := ledger.Reserve(1.5)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ai.ErrBudgetExceeded)
	assert.Equal(t, 0.0, ledger.CurrentSpend())
}

func TestLedger_Reserve_CountsOutstandingReservations(t *testing.T) {
	ledger := NewLedger(1.0)

	first, err := ledger.Reserve(0.7)
	require.NoError(t, err)

	// Committed spend is still zero, but the outstanding reservation must
	// block a second request that would jointly overshoot.
	_, err = ledger.Reserve(0.7)
	assert.ErrorIs(t, err, ai.ErrBudgetExceeded)

	first.Release()

	second, err := ledger.Reserve(0.7)
	require.NoError(t, err)
	second.Commit(0.7)
	assert.InDelta(t, 0.7, ledger.CurrentSpend(), 1e-9)
}

func TestLedger_Reserve_NegativeEstimate(t *testing.T) {
	ledger := NewLedger(1.0)

	_, err := ledger.Reserve(-0.1)

	assert.ErrorIs(t, err, ai.ErrInvalidArgument)
}

func TestLedger_ZeroCeilingIsUnmetered(t *testing.T) {
	ledger := NewLedger(0)

	res, err := ledger.Reserve(1000000)
	require.NoError(t, err)
	res.Commit(1000000)

	res2, err := ledger.Reserve(1000000)
	require.NoError(t, err)
	res2.Release()
}

func TestLedger_CommitActualMayDifferFromEstimate(t *testing.T) {
	ledger := NewLedger(1.0)

	res, err := ledger.Reserve(0.9)
	require.NoError(t, err)
	res.Commit(0.2)

	// The unused reservation headroom is returned on commit.
	assert.InDelta(t, 0.2, ledger.CurrentSpend(), 1e-9)

	res2, err := ledger.Reserve(0.7)
	require.NoError(t, err)
	res2.Commit(0.7)
	assert.InDelta(t, 0.9, ledger.CurrentSpend(), 1e-9)
}

func TestLedger_SettleIsIdempotent(t *testing.T) {
	ledger := NewLedger(1.0)

	res, err := ledger.Reserve(0.3)
	require.NoError(t, err)

	res.Commit(0.3)
	res.Commit(0.3)
	res.Release()

	assert.InDelta(t, 0.3, ledger.CurrentSpend(), 1e-9)
}

func TestLedger_ConcurrentReservationsNeverOvershoot(t *testing.T) {
	ledger := NewLedger(1.0)

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Reserve(0.3)
			if err != nil {
				return
			}
			admitted <- struct{}{}
			res.Commit(0.3)
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	assert.LessOrEqual(t, count, 3)
	assert.LessOrEqual(t, ledger.CurrentSpend(), 1.0+1e-9)
}

func TestLedger_PeriodRollover(t *testing.T) {
	current := time.Date(2025, 3, 1, 23, 50, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	ledger := NewLedger(1.0, WithClock(clock))

	res, err := ledger.Reserve(0.9)
	require.NoError(t, err)
	res.Commit(0.9)
	assert.InDelta(t, 0.9, ledger.CurrentSpend(), 1e-9)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), ledger.PeriodStart())

	// Cross the UTC day boundary: spend resets, headroom returns.
	current = time.Date(2025, 3, 2, 0, 5, 0, 0, time.UTC)

	assert.Equal(t, 0.0, ledger.CurrentSpend())
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), ledger.PeriodStart())

	res2, err := ledger.Reserve(0.9)
	require.NoError(t, err)
	res2.Release()
}

func TestLedger_ReservationHeldAcrossRolloverIsNoOp(t *testing.T) {
	current := time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	ledger := NewLedger(1.0, WithClock(clock))

	res, err := ledger.Reserve(0.5)
	require.NoError(t, err)

	current = time.Date(2025, 3, 2, 0, 1, 0, 0, time.UTC)

	// The spend belongs to the period that ended; the new period stays clean.
	res.Commit(0.5)
	assert.Equal(t, 0.0, ledger.CurrentSpend())
}

type fakeSpendStore struct {
	mu     sync.Mutex
	spend  map[time.Time]float64
	loaded int
	saved  int
}

func newFakeSpendStore() *fakeSpendStore {
	return &fakeSpendStore{spend: make(map[time.Time]float64)}
}

func (s *fakeSpendStore) LoadPeriod(ctx context.Context, periodStart time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded++
	return s.spend[periodStart], nil
}

func (s *fakeSpendStore) SavePeriod(ctx context.Context, periodStart time.Time, spend float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved++
	s.spend[periodStart] = spend
	return nil
}

func TestLedger_StoreResumesSpendAfterRestart(t *testing.T) {
	clock := func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	store := newFakeSpendStore()

	first := NewLedger(1.0, WithClock(clock), WithStore(store))
	res, err := first.Reserve(0.6)
	require.NoError(t, err)
	res.Commit(0.6)
	assert.Equal(t, 1, store.saved)

	// A fresh ledger over the same store picks up the committed total.
	second := NewLedger(1.0, WithClock(clock), WithStore(store))
	assert.InDelta(t, 0.6, second.CurrentSpend(), 1e-9)

	_, err = second.Reserve(0.5)
	assert.ErrorIs(t, err, ai.ErrBudgetExceeded)
}
