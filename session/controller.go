// Package session implements the training-session background-recovery
// core: a lifecycle observer, a wall-clock reconciliation engine, an
// in-memory reminder scheduler, and the controller composing them with a
// durable snapshot store so a timed, step-based session survives
// indefinite process suspension.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stridelab/traincore/api"
)

// State is the controller's position in the session state machine.
type State int32

const (
	Idle State = iota
	Running
	Paused
	Backgrounded
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Backgrounded:
		return "backgrounded"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// StepAdvanceFunc receives the index of a completed step and its result.
type StepAdvanceFunc func(stepIndex int, result api.StepResult)

// SessionCompleteFunc receives the full result list when the last step
// finishes.
type SessionCompleteFunc func(results []api.StepResult)

// advanceEvent and pending carry callbacks and asynchronous effects out
// of the locked section; no external call runs while the mutex is held.
type advanceEvent struct {
	stepIndex int
	result    api.StepResult
}

type pending struct {
	advances   []advanceEvent
	complete   bool
	results    []api.StepResult
	persist    *api.Snapshot
	clearStore bool
	cancelAll  bool
}

// Controller owns the in-memory session state machine. Lifecycle events,
// ticks and consumer calls are serialized by a single mutex, so snapshot
// mutation is never concurrent with itself; persistence and scheduling
// run as fire-and-forget work on a bounded pool with bounded retries.
// The in-memory timer stays authoritative when those effects fail.
type Controller struct {
	conf  *Config
	store api.SnapshotStore
	sched api.ReminderScheduler
	log   *logger

	pool        *ants.Pool
	unsubscribe func()

	mu               sync.Mutex
	state            State
	programID        string
	steps            []api.Step
	snap             *api.Snapshot
	pauseStarted     time.Time
	priorElapsed     time.Duration
	stateBeforeBg    State
	armed            []string
	cancelledProgram string
	closed           bool
	tickStop         chan struct{}

	onStepAdvance     StepAdvanceFunc
	onSessionComplete SessionCompleteFunc

	stepsRecovered metric.Int64Counter
}

// NewController wires the controller to its collaborators. store, sched
// and lc may each be nil, in which case the corresponding effects are
// skipped; the in-memory state machine works regardless.
func NewController(conf *Config, store api.SnapshotStore, sched api.ReminderScheduler, lc api.Lifecycle) (*Controller, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(conf.AsyncWorkers)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		conf:  conf,
		store: store,
		sched: sched,
		log:   newLogger("session controller", conf.LogOutput),
		pool:  pool,
		state: Idle,
	}
	if conf.Meter != nil {
		if ctr, err := conf.Meter.Int64Counter("traincore.steps.recovered"); err == nil {
			c.stepsRecovered = ctr
		} else {
			c.log.warnf("otel counter init failed: %v", err)
		}
	}
	if lc != nil {
		c.unsubscribe = lc.Subscribe(c.handleLifecycle)
	}
	return c, nil
}

// Close detaches the controller from its lifecycle source and releases
// the worker pool. The session state is left as-is.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTickerLocked()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.pool.Release()
}

// Start begins a fresh session. The durable snapshot of any prior
// session is overwritten.
func (c *Controller) Start(programID string, steps []api.Step) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	switch c.state {
	case Idle, Completed, Cancelled:
	default:
		c.mu.Unlock()
		return ErrSessionActive
	}
	if len(steps) == 0 {
		c.mu.Unlock()
		return ErrNoSteps
	}

	now := c.conf.Now()
	c.programID = programID
	c.steps = make([]api.Step, len(steps))
	copy(c.steps, steps)
	c.priorElapsed = 0
	c.cancelledProgram = ""
	c.stateBeforeBg = Running
	c.snap = &api.Snapshot{
		ProgramID:     programID,
		RemainingMs:   steps[0].Duration.Milliseconds(),
		StepStartTime: now,
		StepResults:   []api.StepResult{},
	}
	c.setStateLocked(Running)
	c.startTickerLocked()
	snap := c.snap.Clone()
	c.mu.Unlock()

	c.log.infof("session %s started with %d steps", programID, len(steps))
	c.persistAsync(snap)
	return nil
}

// Pause freezes the in-memory clock; time accrued until Resume is
// excluded from the step budget.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	if c.state != Running {
		return ErrSessionNotRunning
	}
	now := c.conf.Now()
	rec := Reconcile(c.snap, c.currentStepLocked().Duration, now)
	c.snap.RemainingMs = rec.Remaining.Milliseconds()
	c.snap.TotalElapsedMs = c.totalElapsedLocked(now)
	c.pauseStarted = now
	c.stopTickerLocked()
	c.setStateLocked(Paused)
	return nil
}

// Resume restarts the clock after Pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	if c.state != Paused {
		return ErrSessionNotPaused
	}
	now := c.conf.Now()
	c.snap.PausedDurationMs += now.Sub(c.pauseStarted).Milliseconds()
	c.pauseStarted = time.Time{}
	c.setStateLocked(Running)
	c.startTickerLocked()
	return nil
}

// Cancel tears the session down from any state: in-memory state is
// dropped, the durable snapshot is cleared and all reminders disarmed.
// The load path additionally guards against resurrection should the
// durable clear fail.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	c.cancelledProgram = c.programID
	c.stopTickerLocked()
	c.snap = nil
	c.steps = nil
	c.setStateLocked(Cancelled)
	c.mu.Unlock()

	c.clearAsync()
	if c.sched != nil {
		c.sched.CancelAll()
	}
	return nil
}

// Restore adopts the persisted snapshot of programID after a process
// relaunch, reconciles it against the current time and resumes (or
// completes) the session. It returns false when no usable snapshot
// exists; invalid, stale or cancelled snapshots are logged, discarded
// and treated the same way, leaving the controller Idle.
func (c *Controller) Restore(programID string, steps []api.Step) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrControllerClosed
	}
	switch c.state {
	case Idle, Completed, Cancelled:
	default:
		c.mu.Unlock()
		return false, ErrSessionActive
	}
	if len(steps) == 0 {
		c.mu.Unlock()
		return false, ErrNoSteps
	}
	tombstone := c.cancelledProgram
	c.mu.Unlock()

	if c.store == nil {
		return false, nil
	}
	snap, err := c.store.Load(context.Background())
	if err != nil {
		c.log.warnf("snapshot load failed: %v", err)
		return false, nil
	}
	if snap == nil {
		return false, nil
	}
	if tombstone != "" && snap.ProgramID == tombstone {
		c.log.infof("dropping snapshot of cancelled session %s", snap.ProgramID)
		c.clearAsync()
		return false, nil
	}
	if snap.ProgramID != programID {
		c.log.warnf("snapshot program %s does not match %s", snap.ProgramID, programID)
		return false, nil
	}
	now := c.conf.Now()
	if err := snap.Validate(len(steps)); err != nil {
		snapshotRejectedTotal.Inc()
		c.log.warnf("snapshot rejected, starting fresh: %v", err)
		c.clearAsync()
		return false, nil
	}
	if snap.BackgroundedAt != nil && now.Sub(*snap.BackgroundedAt) > c.conf.StalenessThreshold {
		snapshotRejectedTotal.Inc()
		c.log.warnf("snapshot rejected: %v (backgrounded %s ago)", ErrSnapshotStale, now.Sub(*snap.BackgroundedAt))
		c.clearAsync()
		return false, nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrControllerClosed
	}
	switch c.state {
	case Idle, Completed, Cancelled:
	default:
		c.mu.Unlock()
		return false, ErrSessionActive
	}
	c.programID = programID
	c.steps = make([]api.Step, len(steps))
	copy(c.steps, steps)
	c.snap = snap.Clone()
	c.snap.BackgroundedAt = nil
	c.priorElapsed = 0
	for i := 0; i < c.snap.CurrentStepIndex; i++ {
		c.priorElapsed += c.steps[i].Duration
	}
	c.stateBeforeBg = Running
	p := c.reconcileLocked(now)
	c.mu.Unlock()

	// reminders armed before the relaunch are no longer relevant
	if c.sched != nil {
		c.sched.CancelAll()
	}
	c.emit(p)
	return true, nil
}

// OnStepAdvance registers the step-advance callback. One invocation per
// completed step, including steps recovered during reconciliation.
func (c *Controller) OnStepAdvance(fn StepAdvanceFunc) {
	c.mu.Lock()
	c.onStepAdvance = fn
	c.mu.Unlock()
}

// OnSessionComplete registers the completion callback.
func (c *Controller) OnSessionComplete(fn SessionCompleteFunc) {
	c.mu.Lock()
	c.onSessionComplete = fn
	c.mu.Unlock()
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentStepIndex returns the 0-based index of the current step, or -1
// when no session is in progress.
func (c *Controller) CurrentStepIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return -1
	}
	return c.snap.CurrentStepIndex
}

// Remaining returns the budget left in the current step. While Running
// it is computed live from the wall clock; in other states the last
// recorded value is returned.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return 0
	}
	if c.state == Running {
		return Reconcile(c.snap, c.currentStepLocked().Duration, c.conf.Now()).Remaining
	}
	return time.Duration(c.snap.RemainingMs) * time.Millisecond
}

func (c *Controller) handleLifecycle(state api.LifecycleState) {
	if state == api.StateActive {
		c.foreground()
		return
	}
	c.background()
}

// background persists the snapshot eagerly and arms the step reminders.
// The save is issued before any other asynchronous work so an abrupt
// process kill has the smallest possible window to lose it.
func (c *Controller) background() {
	c.mu.Lock()
	if c.closed || (c.state != Running && c.state != Paused) {
		c.mu.Unlock()
		return
	}
	now := c.conf.Now()
	c.stateBeforeBg = c.state
	if c.state == Paused {
		// fold the accrued pause into the snapshot so the durable copy
		// carries it, then keep accruing from now
		c.snap.PausedDurationMs += now.Sub(c.pauseStarted).Milliseconds()
		c.pauseStarted = now
	} else {
		rec := Reconcile(c.snap, c.currentStepLocked().Duration, now)
		c.snap.RemainingMs = rec.Remaining.Milliseconds()
	}
	bg := now
	c.snap.BackgroundedAt = &bg
	c.snap.TotalElapsedMs = c.totalElapsedLocked(now)
	c.stopTickerLocked()
	c.setStateLocked(Backgrounded)
	snap := c.snap.Clone()
	wasRunning := c.stateBeforeBg == Running
	c.mu.Unlock()

	c.persistAsync(snap)
	if wasRunning {
		c.armReminders(snap)
	}
}

// foreground reconciles the snapshot against the wall clock and resumes,
// advancing past every step boundary crossed while suspended.
func (c *Controller) foreground() {
	c.mu.Lock()
	if c.closed || c.state != Backgrounded {
		c.mu.Unlock()
		return
	}
	armed := c.armed
	c.armed = nil
	now := c.conf.Now()
	var p pending
	switch {
	case c.stateBeforeBg == Paused:
		// the whole background interval counts as paused time
		c.snap.PausedDurationMs += now.Sub(c.pauseStarted).Milliseconds()
		c.pauseStarted = now
		c.snap.BackgroundedAt = nil
		c.setStateLocked(Paused)
	default:
		if err := c.validateResumeLocked(now); err != nil {
			snapshotRejectedTotal.Inc()
			c.log.warnf("snapshot rejected on resume, starting fresh: %v", err)
			c.resetLocked(&p)
			break
		}
		c.snap.BackgroundedAt = nil
		p = c.reconcileLocked(now)
	}
	c.mu.Unlock()

	if c.sched != nil {
		for _, id := range armed {
			c.sched.Cancel(id)
		}
	}
	c.emit(p)
}

func (c *Controller) validateResumeLocked(now time.Time) error {
	if err := c.snap.Validate(len(c.steps)); err != nil {
		return err
	}
	if c.snap.BackgroundedAt != nil && now.Sub(*c.snap.BackgroundedAt) > c.conf.StalenessThreshold {
		return ErrSnapshotStale
	}
	return nil
}

// reconcileLocked applies the recovery engine repeatedly, advancing one
// step per crossed boundary, capped by the remaining step count.
func (c *Controller) reconcileLocked(now time.Time) pending {
	if c.conf.Tracer != nil {
		_, span := c.conf.Tracer.Start(context.Background(), "session.reconcile")
		defer span.End()
	}
	var p pending
	recovered := 0
	for {
		step := c.currentStepLocked()
		rec := Reconcile(c.snap, step.Duration, now)
		if !rec.ShouldAdvance {
			c.snap.RemainingMs = rec.Remaining.Milliseconds()
			c.snap.TotalElapsedMs = c.totalElapsedLocked(now)
			c.setStateLocked(Running)
			c.startTickerLocked()
			p.persist = c.snap.Clone()
			break
		}
		boundary := c.stepBoundaryLocked()
		idx := c.snap.CurrentStepIndex
		res, done := c.completeStepLocked(boundary)
		p.advances = append(p.advances, advanceEvent{stepIndex: idx, result: res})
		recovered++
		if done {
			c.completeLocked(&p)
			break
		}
	}
	if recovered > 0 {
		stepsRecoveredTotal.Add(float64(recovered))
		if c.stepsRecovered != nil {
			c.stepsRecovered.Add(context.Background(), int64(recovered))
		}
		c.log.infof("recovered %d step(s) for session %s", recovered, c.programID)
	}
	return p
}

// stepBoundaryLocked is the instant the current step's budget runs out.
func (c *Controller) stepBoundaryLocked() time.Time {
	return c.snap.StepStartTime.
		Add(c.currentStepLocked().Duration).
		Add(time.Duration(c.snap.PausedDurationMs) * time.Millisecond)
}

// completeStepLocked appends the result for the current step and moves
// the cursor to the next one. done reports that it was the last step.
func (c *Controller) completeStepLocked(boundary time.Time) (api.StepResult, bool) {
	step := c.currentStepLocked()
	res := api.StepResult{
		StepID:      step.ID,
		CompletedAt: boundary,
		Metrics: map[string]float64{
			"duration_ms": float64(step.Duration.Milliseconds()),
			"paused_ms":   float64(c.snap.PausedDurationMs),
		},
	}
	c.snap.StepResults = append(c.snap.StepResults, res)
	c.priorElapsed += step.Duration
	c.snap.TotalElapsedMs = c.priorElapsed.Milliseconds()
	c.snap.CurrentStepIndex++
	c.snap.PausedDurationMs = 0
	done := c.snap.CurrentStepIndex >= len(c.steps)
	if done {
		c.snap.RemainingMs = 0
		return res, true
	}
	c.snap.StepStartTime = boundary
	c.snap.RemainingMs = c.currentStepLocked().Duration.Milliseconds()
	return res, false
}

func (c *Controller) completeLocked(p *pending) {
	c.stopTickerLocked()
	c.setStateLocked(Completed)
	p.complete = true
	p.results = make([]api.StepResult, len(c.snap.StepResults))
	copy(p.results, c.snap.StepResults)
	p.persist = nil
	p.clearStore = true
	p.cancelAll = true
	c.log.infof("session %s completed, %d steps", c.programID, len(p.results))
}

func (c *Controller) resetLocked(p *pending) {
	c.stopTickerLocked()
	c.snap = nil
	c.steps = nil
	c.setStateLocked(Idle)
	p.clearStore = true
	p.cancelAll = true
}

// emit runs the side effects collected while the mutex was held.
func (c *Controller) emit(p pending) {
	if p.persist != nil {
		c.persistAsync(p.persist)
	}
	if p.clearStore {
		c.clearAsync()
	}
	if p.cancelAll && c.sched != nil {
		c.sched.CancelAll()
	}

	c.mu.Lock()
	onAdvance := c.onStepAdvance
	onComplete := c.onSessionComplete
	c.mu.Unlock()

	if onAdvance != nil {
		for _, a := range p.advances {
			c.safeCallback("step advance", func() { onAdvance(a.stepIndex, a.result) })
		}
	}
	if p.complete && onComplete != nil {
		c.safeCallback("session complete", func() { onComplete(p.results) })
	}
}

func (c *Controller) safeCallback(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.errorf("%s callback failed: %v", name, r)
		}
	}()
	fn()
}

// armReminders schedules the step-complete reminder at the instant the
// current step's budget runs out and, when a next step exists, the
// next-up warning a configured lead time earlier.
func (c *Controller) armReminders(snap *api.Snapshot) {
	c.mu.Lock()
	if c.state != Backgrounded || c.sched == nil {
		c.mu.Unlock()
		return
	}
	steps := c.steps
	lead := c.conf.NextUpWarningLead
	c.mu.Unlock()

	idx := snap.CurrentStepIndex
	step := steps[idx]
	fireAt := snap.StepStartTime.
		Add(step.Duration).
		Add(time.Duration(snap.PausedDurationMs) * time.Millisecond)
	ids := []string{c.sched.Schedule(api.ReminderStepComplete, step.Name, fireAt)}
	if idx+1 < len(steps) {
		ids = append(ids, c.sched.Schedule(api.ReminderNextUpWarning, steps[idx+1].Name, fireAt.Add(-lead)))
	}

	c.mu.Lock()
	if c.state == Backgrounded {
		c.armed = ids
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	// raced with a foreground transition, disarm immediately
	for _, id := range ids {
		c.sched.Cancel(id)
	}
}

func (c *Controller) persistAsync(snap *api.Snapshot) {
	if c.store == nil {
		return
	}
	c.submit(func() {
		ctx := context.Background()
		if c.conf.Tracer != nil {
			var span trace.Span
			ctx, span = c.conf.Tracer.Start(ctx, "session.snapshot.save")
			defer span.End()
		}
		op := func() error { return c.store.Save(ctx, snap) }
		err := backoff.Retry(op, backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.conf.PersistRetryInterval), c.conf.PersistRetries))
		if err != nil {
			snapshotSaveFailuresTotal.Inc()
			c.log.warnf("snapshot save failed after retries: %v", err)
			return
		}
		snapshotSavesTotal.Inc()
		if debugMode {
			c.log.debugf("snapshot saved: program=%s step=%d remaining=%dms",
				snap.ProgramID, snap.CurrentStepIndex, snap.RemainingMs)
		}
	})
}

func (c *Controller) clearAsync() {
	if c.store == nil {
		return
	}
	c.submit(func() {
		op := func() error { return c.store.Clear(context.Background()) }
		err := backoff.Retry(op, backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.conf.PersistRetryInterval), c.conf.PersistRetries))
		if err != nil {
			c.log.warnf("snapshot clear failed after retries: %v", err)
		}
	})
}

func (c *Controller) submit(task func()) {
	if err := c.pool.Submit(task); err != nil {
		c.log.warnf("worker pool submit failed, running inline: %v", err)
		task()
	}
}

func (c *Controller) setStateLocked(to State) {
	if c.state == to {
		return
	}
	stateTransitionsTotal.WithLabelValues(c.state.String(), to.String()).Inc()
	c.log.debugf("state %s -> %s", c.state, to)
	c.state = to
}

func (c *Controller) currentStepLocked() api.Step {
	return c.steps[c.snap.CurrentStepIndex]
}

// totalElapsedLocked keeps TotalElapsedMs monotonic: completed-step time
// plus active time consumed in the current step, clamped to its budget.
func (c *Controller) totalElapsedLocked(now time.Time) int64 {
	cur := now.Sub(c.snap.StepStartTime) - time.Duration(c.snap.PausedDurationMs)*time.Millisecond
	if cur < 0 {
		cur = 0
	}
	if d := c.currentStepLocked().Duration; cur > d {
		cur = d
	}
	total := (c.priorElapsed + cur).Milliseconds()
	if total < c.snap.TotalElapsedMs {
		total = c.snap.TotalElapsedMs
	}
	return total
}

func (c *Controller) startTickerLocked() {
	if c.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	c.tickStop = stop
	go c.tickLoop(stop)
}

func (c *Controller) stopTickerLocked() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
}

func (c *Controller) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.conf.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-stop:
			return
		}
	}
}

func (c *Controller) tick() {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	now := c.conf.Now()
	rec := Reconcile(c.snap, c.currentStepLocked().Duration, now)
	c.snap.RemainingMs = rec.Remaining.Milliseconds()
	c.snap.TotalElapsedMs = c.totalElapsedLocked(now)
	if !rec.ShouldAdvance {
		c.mu.Unlock()
		return
	}
	var p pending
	boundary := c.stepBoundaryLocked()
	idx := c.snap.CurrentStepIndex
	res, done := c.completeStepLocked(boundary)
	p.advances = append(p.advances, advanceEvent{stepIndex: idx, result: res})
	if done {
		c.completeLocked(&p)
	}
	c.mu.Unlock()
	c.emit(p)
}
