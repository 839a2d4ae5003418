package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/budget"
)

// SpendStore persists period spend so a restart resumes the running total.
// The ledger is the only writer; the store just holds the snapshot.
type SpendStore interface {
	LoadPeriod(ctx context.Context, periodStart time.Time) (float64, error)
	SavePeriod(ctx context.Context, periodStart time.Time, spend float64) error
}

// Ledger is the in-memory budget ledger. One mutex serializes admission
// decisions against the committed-plus-reserved total so concurrent
// requests that jointly exceed the ceiling are never both admitted.
// The period is the UTC calendar day; any accessor that observes the
// clock past the boundary clears the ledger before evaluating.
type Ledger struct {
	mu          sync.Mutex
	ceiling     float64 // 0 means unmetered
	committed   float64
	reserved    float64
	periodStart time.Time
	now         func() time.Time
	store       SpendStore
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithStore attaches a durable snapshot store.
func WithStore(store SpendStore) Option {
	return func(l *Ledger) { l.store = store }
}

// NewLedger creates a ledger with the given daily ceiling. A zero ceiling
// means unmetered: every reservation is admitted.
func NewLedger(ceiling float64, opts ...Option) *Ledger {
	l := &Ledger{
		ceiling: ceiling,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.periodStart = periodFor(l.now())

	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if spend, err := l.store.LoadPeriod(ctx, l.periodStart); err != nil {
			logrus.WithError(err).Warn("Failed to load ledger snapshot, starting from zero")
		} else {
			l.committed = spend
		}
	}
	return l
}

func periodFor(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// rolloverLocked resets the ledger when the clock has crossed the period
// boundary. A rollover clears the entire ledger for the new period;
// reservations held across the boundary become no-ops on commit.
func (l *Ledger) rolloverLocked() {
	period := periodFor(l.now())
	if period.After(l.periodStart) {
		logrus.WithFields(logrus.Fields{
			"old_period": l.periodStart,
			"new_period": period,
			"spend":      l.committed,
		}).Info("Budget period rolled over")
		l.periodStart = period
		l.committed = 0
		l.reserved = 0
	}
}

// Reserve implements budget.Ledger.
func (l *Ledger) Reserve(estimate float64) (budget.Reservation, error) {
	if estimate < 0 {
		return nil, ai.WrapInvalidArgument("estimate must not be negative: %f", estimate)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	if l.ceiling > 0 && l.committed+l.reserved+estimate > l.ceiling {
		return nil, fmt.Errorf("%w: estimated %.6f with %.6f committed and %.6f reserved against ceiling %.6f",
			ai.ErrBudgetExceeded, estimate, l.committed, l.reserved, l.ceiling)
	}

	l.reserved += estimate
	return &reservation{ledger: l, estimate: estimate, period: l.periodStart}, nil
}

// CurrentSpend implements budget.Ledger.
func (l *Ledger) CurrentSpend() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.committed
}

// PeriodStart implements budget.Ledger.
func (l *Ledger) PeriodStart() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.periodStart
}

// Ceiling returns the configured ceiling (0 means unmetered).
func (l *Ledger) Ceiling() float64 {
	return l.ceiling
}

func (l *Ledger) settle(r *reservation, actual float64, commit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	if r.done {
		return
	}
	r.done = true

	// A rollover already cleared this reservation; the spend belongs to
	// the period that ended.
	if !l.periodStart.Equal(r.period) {
		return
	}

	l.reserved -= r.estimate
	if l.reserved < 0 {
		l.reserved = 0
	}
	if commit {
		l.committed += actual
		l.persistLocked()
	}
}

func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.SavePeriod(ctx, l.periodStart, l.committed); err != nil {
		logrus.WithError(err).Warn("Failed to persist ledger snapshot")
	}
}

type reservation struct {
	ledger   *Ledger
	estimate float64
	period   time.Time
	done     bool
}

func (r *reservation) Commit(actual float64) { r.ledger.settle(r, actual, true) }
func (r *reservation) Release()              { r.ledger.settle(r, 0, false) }
