package session

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/stridelab/traincore/api"
)

// reminderItem orders reminders by fire time inside the priority queue.
type reminderItem struct {
	id     string
	fireAt time.Time
}

func (r *reminderItem) Compare(other queue.Item) int {
	o := other.(*reminderItem)
	switch {
	case r.fireAt.Before(o.fireAt):
		return -1
	case r.fireAt.After(o.fireAt):
		return 1
	}
	return 0
}

// Scheduler is the in-memory reminder scheduler. The registry owns each
// reminder from Schedule until Cancel, CancelAll or fire; delivery of due
// reminders is delegated to the sink and is outside the core once handed
// over. The registry map is authoritative: a cancelled id left in the
// queue is skipped by the delivery loop.
type Scheduler struct {
	reminders cmap.ConcurrentMap[string, api.ScheduledReminder]
	pq        *queue.PriorityQueue
	sink      api.ReminderSink
	now       func() time.Time
	nextID    uint64

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ api.ReminderScheduler = (*Scheduler)(nil)

// NewScheduler starts the delivery loop. A nil sink logs due reminders
// instead of delivering them.
func NewScheduler(sink api.ReminderSink) *Scheduler {
	s := &Scheduler{
		reminders: cmap.New[api.ScheduledReminder](),
		pq:        queue.NewPriorityQueue(16, true),
		sink:      sink,
		now:       time.Now,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule arms a one-shot reminder and returns its id, unique per
// scheduler instance.
func (s *Scheduler) Schedule(kind api.ReminderKind, payload string, fireAt time.Time) string {
	id := "reminder-" + strconv.FormatUint(atomic.AddUint64(&s.nextID, 1), 10)
	s.reminders.Set(id, api.ScheduledReminder{ID: id, Kind: kind, Payload: payload, FireAt: fireAt})
	if err := s.pq.Put(&reminderItem{id: id, fireAt: fireAt}); err != nil {
		internalLogger.warnf("scheduler enqueue %s failed: %v", id, err)
	}
	remindersScheduledTotal.WithLabelValues(kind.String()).Inc()
	s.wake()
	return id
}

// Cancel disarms the reminder with the given id. Unknown ids are a no-op.
func (s *Scheduler) Cancel(id string) {
	if s.reminders.Has(id) {
		s.reminders.Remove(id)
		remindersCancelledTotal.Inc()
	}
}

// CancelAll disarms every active reminder. Idempotent.
func (s *Scheduler) CancelAll() {
	n := s.reminders.Count()
	s.reminders.Clear()
	if n > 0 {
		remindersCancelledTotal.Add(float64(n))
	}
}

// ActiveCount reports how many reminders are currently armed.
func (s *Scheduler) ActiveCount() int {
	return s.reminders.Count()
}

// Close stops the delivery loop. Armed reminders are dropped, not fired.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.pq.Dispose()
	})
}

func (s *Scheduler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		next := s.pq.Peek()
		if next == nil {
			select {
			case <-s.kick:
				continue
			case <-s.done:
				return
			}
		}
		item := next.(*reminderItem)
		if wait := item.fireAt.Sub(s.now()); wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.kick:
				// an earlier reminder may have arrived, re-peek
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				continue
			case <-s.done:
				return
			}
		}
		s.fireDue()
	}
}

func (s *Scheduler) fireDue() {
	for {
		next := s.pq.Peek()
		if next == nil {
			return
		}
		if next.(*reminderItem).fireAt.After(s.now()) {
			return
		}
		items, err := s.pq.Get(1)
		if err != nil || len(items) == 0 {
			return
		}
		id := items[0].(*reminderItem).id
		r, ok := s.reminders.Get(id)
		if !ok {
			// cancelled while queued
			continue
		}
		s.reminders.Remove(id)
		if s.sink == nil {
			internalLogger.infof("reminder %s (%s) due, no sink attached", r.ID, r.Kind)
			continue
		}
		s.deliver(r)
	}
}

func (s *Scheduler) deliver(r api.ScheduledReminder) {
	defer func() {
		if p := recover(); p != nil {
			internalLogger.errorf("reminder sink failed on %s: %v", r.ID, p)
		}
	}()
	s.sink.Deliver(r)
}
