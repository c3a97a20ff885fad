package session

import "github.com/prometheus/client_golang/prometheus"

var (
	stateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traincore_session_state_transitions_total",
		Help: "Total number of session controller state transitions.",
	}, []string{"from", "to"})

	snapshotSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traincore_snapshot_saves_total",
		Help: "Total number of successful snapshot saves.",
	})

	snapshotSaveFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traincore_snapshot_save_failures_total",
		Help: "Total number of snapshot saves that failed after retries.",
	})

	snapshotRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traincore_snapshot_rejected_total",
		Help: "Total number of snapshots rejected on load as invalid or stale.",
	})

	stepsRecoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traincore_steps_recovered_total",
		Help: "Total number of step boundaries crossed during reconciliation.",
	})

	remindersScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traincore_reminders_scheduled_total",
		Help: "Total number of reminders armed, by kind.",
	}, []string{"kind"})

	remindersCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traincore_reminders_cancelled_total",
		Help: "Total number of reminders disarmed before firing.",
	})
)

func init() {
	prometheus.MustRegister(
		stateTransitionsTotal,
		snapshotSavesTotal,
		snapshotSaveFailuresTotal,
		snapshotRejectedTotal,
		stepsRecoveredTotal,
		remindersScheduledTotal,
		remindersCancelledTotal,
	)
}
