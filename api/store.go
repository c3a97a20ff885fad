package api

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSnapshotInvalid reports a snapshot that violates the data model
// invariants. Callers treat it as "no snapshot" and start fresh.
var ErrSnapshotInvalid = errors.New("invalid session snapshot")

// Step is a single timed unit within a training program.
type Step struct {
	ID       string
	Name     string
	Duration time.Duration
}

// StepResult records the outcome of a completed step.
type StepResult struct {
	StepID      string             `json:"step_id"`
	CompletedAt time.Time          `json:"completed_at"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// Snapshot is the single persisted unit of session state. Exactly one
// snapshot may exist in durable storage at a time; a new session
// overwrites the prior one.
type Snapshot struct {
	ProgramID        string       `json:"program_id"`
	CurrentStepIndex int          `json:"current_step_index"`
	RemainingMs      int64        `json:"remaining_ms"`
	TotalElapsedMs   int64        `json:"total_elapsed_ms"`
	StepStartTime    time.Time    `json:"step_start_time"`
	PausedDurationMs int64        `json:"paused_duration_ms"`
	StepResults      []StepResult `json:"step_results"`
	// BackgroundedAt is set only while the app is away from the active
	// state.
	BackgroundedAt *time.Time `json:"backgrounded_at,omitempty"`
}

// Validate checks the snapshot invariants against the program's step count.
// All returned errors wrap ErrSnapshotInvalid.
func (s *Snapshot) Validate(stepCount int) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrSnapshotInvalid)
	}
	if s.ProgramID == "" {
		return fmt.Errorf("%w: empty program id", ErrSnapshotInvalid)
	}
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= stepCount {
		return fmt.Errorf("%w: step index %d out of range [0,%d)", ErrSnapshotInvalid, s.CurrentStepIndex, stepCount)
	}
	if s.RemainingMs < 0 {
		return fmt.Errorf("%w: negative remaining %d", ErrSnapshotInvalid, s.RemainingMs)
	}
	if s.TotalElapsedMs < 0 {
		return fmt.Errorf("%w: negative total elapsed %d", ErrSnapshotInvalid, s.TotalElapsedMs)
	}
	if s.PausedDurationMs < 0 {
		return fmt.Errorf("%w: negative paused duration %d", ErrSnapshotInvalid, s.PausedDurationMs)
	}
	if s.StepStartTime.IsZero() {
		return fmt.Errorf("%w: zero step start time", ErrSnapshotInvalid)
	}
	if len(s.StepResults) != s.CurrentStepIndex {
		return fmt.Errorf("%w: %d results for step index %d", ErrSnapshotInvalid, len(s.StepResults), s.CurrentStepIndex)
	}
	if s.BackgroundedAt != nil && s.BackgroundedAt.Before(s.StepStartTime) {
		return fmt.Errorf("%w: backgrounded at %s before step start %s", ErrSnapshotInvalid,
			s.BackgroundedAt.Format(time.RFC3339), s.StepStartTime.Format(time.RFC3339))
	}
	return nil
}

// Clone returns a deep copy, safe to hand to asynchronous persistence.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.BackgroundedAt != nil {
		t := *s.BackgroundedAt
		c.BackgroundedAt = &t
	}
	c.StepResults = make([]StepResult, len(s.StepResults))
	copy(c.StepResults, s.StepResults)
	for i, r := range s.StepResults {
		if r.Metrics != nil {
			m := make(map[string]float64, len(r.Metrics))
			for k, v := range r.Metrics {
				m[k] = v
			}
			c.StepResults[i].Metrics = m
		}
	}
	return &c
}

// SnapshotStore is the durable single-record store boundary. Load returns
// (nil, nil) when no snapshot exists. A Save that completes before a
// subsequent Load, with no interleaved Clear, is visible to that Load and
// round-trips every field exactly. Operations are best-effort; callers
// log failures and keep the in-memory state authoritative.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Clear(ctx context.Context) error
}
