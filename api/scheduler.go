package api

import "time"

// ReminderKind classifies a deferred local reminder.
type ReminderKind int32

const (
	// ReminderStepComplete fires when the current step's budget runs out.
	ReminderStepComplete ReminderKind = iota
	// ReminderNextUpWarning fires a configured lead time before the next
	// step begins.
	ReminderNextUpWarning
)

func (k ReminderKind) String() string {
	switch k {
	case ReminderStepComplete:
		return "step_complete"
	case ReminderNextUpWarning:
		return "next_up_warning"
	}
	return "unknown"
}

// ScheduledReminder is a deferred one-shot reminder owned by the
// scheduler's registry from Schedule until Cancel or fire.
type ScheduledReminder struct {
	ID      string
	Kind    ReminderKind
	Payload string
	FireAt  time.Time
}

// ReminderScheduler is the deferred-reminder boundary. Ids are unique per
// scheduler instance. Cancel on an unknown id is a no-op, CancelAll is
// idempotent, and scheduling the same logical reminder twice yields two
// independent ids; the caller cancels the prior id to avoid double-arming.
type ReminderScheduler interface {
	Schedule(kind ReminderKind, payload string, fireAt time.Time) string
	Cancel(id string)
	CancelAll()
}

// ReminderSink hands a due reminder to the external notification
// mechanism. Delivery semantics past this point are outside the core.
type ReminderSink interface {
	Deliver(r ScheduledReminder)
}
