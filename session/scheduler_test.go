package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/stridelab/traincore/api"
)

type captureSink struct {
	mu        sync.Mutex
	delivered []api.ScheduledReminder
}

func (s *captureSink) Deliver(r api.ScheduledReminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, r)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func (s *captureSink) first() api.ScheduledReminder {
	return s.at(0)
}

func (s *captureSink) at(i int) api.ScheduledReminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered[i]
}

type SchedulerTestSuite struct {
	suite.Suite
}

func (s *SchedulerTestSuite) TestUniqueIDs() {
	sched := NewScheduler(nil)
	defer sched.Close()

	fireAt := time.Now().Add(time.Hour)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := sched.Schedule(api.ReminderStepComplete, "step", fireAt)
		s.Require().False(seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	s.Require().Equal(100, sched.ActiveCount())
}

func (s *SchedulerTestSuite) TestCancelUnknownIsNoop() {
	sched := NewScheduler(nil)
	defer sched.Close()

	sched.Cancel("no-such-id")
	id := sched.Schedule(api.ReminderStepComplete, "step", time.Now().Add(time.Hour))
	sched.Cancel("still-no-such-id")
	s.Require().Equal(1, sched.ActiveCount())
	sched.Cancel(id)
	s.Require().Equal(0, sched.ActiveCount())
	// cancelling an already cancelled id is also a no-op
	sched.Cancel(id)
	s.Require().Equal(0, sched.ActiveCount())
}

func (s *SchedulerTestSuite) TestCancelAllIdempotent() {
	sched := NewScheduler(nil)
	defer sched.Close()

	fireAt := time.Now().Add(time.Hour)
	sched.Schedule(api.ReminderStepComplete, "a", fireAt)
	sched.Schedule(api.ReminderNextUpWarning, "b", fireAt)
	s.Require().Equal(2, sched.ActiveCount())

	sched.CancelAll()
	s.Require().Equal(0, sched.ActiveCount())
	sched.CancelAll()
	s.Require().Equal(0, sched.ActiveCount())
}

func (s *SchedulerTestSuite) TestDoubleArmYieldsIndependentIDs() {
	sched := NewScheduler(nil)
	defer sched.Close()

	fireAt := time.Now().Add(time.Hour)
	id1 := sched.Schedule(api.ReminderStepComplete, "step", fireAt)
	id2 := sched.Schedule(api.ReminderStepComplete, "step", fireAt)
	s.Require().NotEqual(id1, id2)
	s.Require().Equal(2, sched.ActiveCount())
	sched.Cancel(id1)
	s.Require().Equal(1, sched.ActiveCount())
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func TestSchedulerDeliversDueReminder(t *testing.T) {
	sink := &captureSink{}
	sched := NewScheduler(sink)
	defer sched.Close()

	sched.Schedule(api.ReminderStepComplete, "cooldown", time.Now().Add(20*time.Millisecond))
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, api.ReminderStepComplete, sink.first().Kind)
	assert.Equal(t, "cooldown", sink.first().Payload)
	assert.Equal(t, 0, sched.ActiveCount())
}

func TestSchedulerDeliversInFireOrder(t *testing.T) {
	sink := &captureSink{}
	sched := NewScheduler(sink)
	defer sched.Close()

	base := time.Now()
	sched.Schedule(api.ReminderStepComplete, "second", base.Add(60*time.Millisecond))
	sched.Schedule(api.ReminderNextUpWarning, "first", base.Add(20*time.Millisecond))
	require.Eventually(t, func() bool { return sink.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "first", sink.at(0).Payload)
	assert.Equal(t, "second", sink.at(1).Payload)
}

func TestSchedulerCancelledReminderNotDelivered(t *testing.T) {
	sink := &captureSink{}
	sched := NewScheduler(sink)
	defer sched.Close()

	id := sched.Schedule(api.ReminderStepComplete, "skip me", time.Now().Add(50*time.Millisecond))
	sched.Cancel(id)
	sched.Schedule(api.ReminderNextUpWarning, "keep me", time.Now().Add(60*time.Millisecond))

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, "keep me", sink.first().Payload)
}

type panickySink struct{ captureSink }

func (s *panickySink) Deliver(r api.ScheduledReminder) {
	if r.Payload == "boom" {
		panic("sink exploded")
	}
	s.captureSink.Deliver(r)
}

func TestSchedulerSurvivesSinkPanic(t *testing.T) {
	sink := &panickySink{}
	sched := NewScheduler(sink)
	defer sched.Close()

	sched.Schedule(api.ReminderStepComplete, "boom", time.Now().Add(10*time.Millisecond))
	sched.Schedule(api.ReminderStepComplete, "fine", time.Now().Add(30*time.Millisecond))
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "fine", sink.first().Payload)
}
