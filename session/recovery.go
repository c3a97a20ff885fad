package session

import (
	"time"

	"github.com/stridelab/traincore/api"
)

// Reconciliation is the outcome of reconciling a snapshot against a
// wall-clock instant.
type Reconciliation struct {
	// Remaining is the budget left in the current step, never negative.
	Remaining time.Duration
	// ShouldAdvance reports that the step boundary has been crossed.
	ShouldAdvance bool
}

// Reconcile computes how much of the current step's budget is left at now,
// excluding time accrued while paused. It is a pure, total function over
// well-formed snapshots; callers validate invariants before calling.
func Reconcile(snap *api.Snapshot, stepDuration time.Duration, now time.Time) Reconciliation {
	elapsed := now.Sub(snap.StepStartTime) - time.Duration(snap.PausedDurationMs)*time.Millisecond
	remaining := stepDuration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Reconciliation{Remaining: remaining, ShouldAdvance: remaining == 0}
}
