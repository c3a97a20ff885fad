// Package api defines the public capability contracts and the shared data
// model for traincore. Implementations live in the session and adapter
// packages; consumers should depend on these interfaces only.
package api

// LifecycleState is the OS-reported process lifecycle state.
type LifecycleState int32

const (
	// StateActive means the process is foregrounded and running timers.
	StateActive LifecycleState = iota
	// StateInactive means the process is transitioning away from active.
	StateInactive
	// StateBackgrounded means the process left the foreground and may be
	// suspended at any point.
	StateBackgrounded
)

func (s LifecycleState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateBackgrounded:
		return "backgrounded"
	}
	return "unknown"
}

// Listener receives lifecycle transitions in arrival order.
type Listener func(LifecycleState)

// Lifecycle is the process lifecycle boundary. Subscribe returns an
// unsubscribe function; calling it twice is a no-op. Every transition is
// delivered to every currently subscribed listener, duplicate consecutive
// states are not re-delivered, and a failing listener never prevents
// delivery to the remaining listeners.
type Lifecycle interface {
	Subscribe(fn Listener) (unsubscribe func())
	CurrentState() LifecycleState
}
