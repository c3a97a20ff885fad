package adapter

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/stridelab/traincore/api"
)

// ChannelSink hands due reminders to a buffered channel. When the
// channel is full the reminder is dropped; the in-memory timer remains
// authoritative regardless of reminder delivery.
type ChannelSink struct {
	ch chan api.ScheduledReminder
}

var _ api.ReminderSink = (*ChannelSink)(nil)

// NewChannelSink returns a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelSink{ch: make(chan api.ScheduledReminder, buffer)}
}

// Reminders exposes the delivery channel.
func (s *ChannelSink) Reminders() <-chan api.ScheduledReminder {
	return s.ch
}

func (s *ChannelSink) Deliver(r api.ScheduledReminder) {
	select {
	case s.ch <- r:
	default:
	}
}

// LogSink writes due reminders to a writer, os.Stdout when nil. Useful
// as a stand-in for a real notification backend.
type LogSink struct {
	out io.Writer
}

var _ api.ReminderSink = (*LogSink)(nil)

// NewLogSink returns a sink writing to out.
func NewLogSink(out io.Writer) *LogSink {
	if out == nil {
		out = os.Stdout
	}
	return &LogSink{out: out}
}

func (s *LogSink) Deliver(r api.ScheduledReminder) {
	fmt.Fprintf(s.out, "reminder %s (%s) due at %s: %s\n",
		r.ID, r.Kind, r.FireAt.Format(time.RFC3339), r.Payload)
}
