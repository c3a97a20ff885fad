package session

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"

	"github.com/stridelab/traincore/api"
)

// counterValue extracts a counter's value for assertions.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func TestSchedulerMetrics(t *testing.T) {
	scheduledBefore := counterValue(remindersScheduledTotal.WithLabelValues(api.ReminderStepComplete.String()))
	cancelledBefore := counterValue(remindersCancelledTotal)

	sched := NewScheduler(nil)
	defer sched.Close()

	id := sched.Schedule(api.ReminderStepComplete, "step", time.Now().Add(time.Hour))
	sched.Cancel(id)

	assert.Equal(t, scheduledBefore+1,
		counterValue(remindersScheduledTotal.WithLabelValues(api.ReminderStepComplete.String())))
	assert.Equal(t, cancelledBefore+1, counterValue(remindersCancelledTotal))
}

func TestStateTransitionMetrics(t *testing.T) {
	before := counterValue(stateTransitionsTotal.WithLabelValues("idle", "running"))

	c, err := NewController(testControllerConf(newFakeClock(time.Now())), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Start("p-metrics", testSteps()); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, before+1, counterValue(stateTransitionsTotal.WithLabelValues("idle", "running")))
}
