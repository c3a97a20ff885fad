package session

import "errors"

var (
	// ErrSessionActive means Start was called while a session is in
	// progress.
	ErrSessionActive = errors.New("session already in progress")
	// ErrSessionNotRunning means the operation needs a Running session.
	ErrSessionNotRunning = errors.New("session is not running")
	// ErrSessionNotPaused means Resume was called outside Paused.
	ErrSessionNotPaused = errors.New("session is not paused")
	// ErrNoSteps means Start was called with an empty program.
	ErrNoSteps = errors.New("program has no steps")
	// ErrSnapshotStale means the persisted snapshot's backgrounded
	// instant is older than the configured staleness threshold.
	ErrSnapshotStale = errors.New("persisted snapshot is too stale to resume")
	// ErrControllerClosed means the controller was shut down.
	ErrControllerClosed = errors.New("controller is closed")
)
