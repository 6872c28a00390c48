package metrics

import (
	"sync/atomic"
	"time"
)

type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.value, n)
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// SessionCounters aggregates per-session counters. All fields are safe for
// concurrent use.
type SessionCounters struct {
	Reconnects       Counter
	EventsIn         Counter
	EventsDropped    Counter
	MessagesSent     Counter
	SendRollbacks    Counter
	AlertsShown      Counter
	AlertsSuppressed Counter
}

// Snapshot returns the current counter values keyed by name, for logging
// on session shutdown.
func (s *SessionCounters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"reconnects":        s.Reconnects.Load(),
		"events_in":         s.EventsIn.Load(),
		"events_dropped":    s.EventsDropped.Load(),
		"messages_sent":     s.MessagesSent.Load(),
		"send_rollbacks":    s.SendRollbacks.Load(),
		"alerts_shown":      s.AlertsShown.Load(),
		"alerts_suppressed": s.AlertsSuppressed.Load(),
	}
}
