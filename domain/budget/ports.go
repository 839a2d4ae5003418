package budget

import "time"

// Reservation is a held slice of the period's budget. Exactly one of
// Commit or Release must eventually be called; both are idempotent.
type Reservation interface {
	// Commit records the true cost of the completed call,
	// which may differ from the estimate.
	Commit(actual float64)

	// Release returns the reserved amount without spending it.
	Release()
}

// Ledger tracks cumulative spend per routing period and answers admission
// control. Implementations serialize Reserve against the committed plus
// provisionally reserved total so concurrent admissions cannot overshoot
// the ceiling. Period rollover is automatic: any accessor observing the
// current time past the period boundary clears the ledger first.
type Ledger interface {
	// Reserve admits the estimated cost against the remaining budget.
	// Denied admissions return ai.ErrBudgetExceeded.
	Reserve(estimate float64) (Reservation, error)

	// CurrentSpend returns the committed spend for the current period.
	CurrentSpend() float64

	// PeriodStart returns the start of the current routing period.
	PeriodStart() time.Time
}
