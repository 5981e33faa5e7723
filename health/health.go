// Package health tracks a worker process with minimal overhead: outcome
// counters and activity recency are atomic ops on the execution path, while
// the actual health checks run from a background goroutine.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// Pinger is the slice of the broker connector health checks need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counters is a point-in-time snapshot of task outcomes.
type Counters struct {
	Succeeded  uint64 `json:"succeeded"`
	Retried    uint64 `json:"retried"`
	Requeued   uint64 `json:"requeued"`
	MaxRetries uint64 `json:"max_retries"`
	TimedOut   uint64 `json:"timed_out"`
	Failed     uint64 `json:"failed"`
}

// Total is the number of committed task outcomes.
func (c Counters) Total() uint64 {
	return c.Succeeded + c.Retried + c.Requeued + c.MaxRetries + c.TimedOut + c.Failed
}

// Monitor tracks one worker process. Record methods are safe on the hot
// path: two atomic ops each.
type Monitor struct {
	lastActivity atomic.Int64

	succeeded  atomic.Uint64
	retried    atomic.Uint64
	requeued   atomic.Uint64
	maxRetries atomic.Uint64
	timedOut   atomic.Uint64
	failed     atomic.Uint64

	goroutineLimit int
}

// NewMonitor creates a monitor. goroutineLimit caps the allowed goroutine
// count (0 = no limit).
func NewMonitor(goroutineLimit int) *Monitor {
	m := &Monitor{
		goroutineLimit: goroutineLimit,
	}
	m.lastActivity.Store(time.Now().Unix())

	return m
}

func (m *Monitor) touch() {
	m.lastActivity.Store(time.Now().Unix())
}

func (m *Monitor) RecordSuccess()    { m.touch(); m.succeeded.Add(1) }
func (m *Monitor) RecordRetry()      { m.touch(); m.retried.Add(1) }
func (m *Monitor) RecordRequeue()    { m.touch(); m.requeued.Add(1) }
func (m *Monitor) RecordMaxRetries() { m.touch(); m.maxRetries.Add(1) }
func (m *Monitor) RecordTimeout()    { m.touch(); m.timedOut.Add(1) }
func (m *Monitor) RecordFailure()    { m.touch(); m.failed.Add(1) }

// RecordActivity marks liveness without committing an outcome (fetch
// rounds, starvation waits).
func (m *Monitor) RecordActivity() {
	m.touch()
}

// LastActivity returns when the worker last made progress.
func (m *Monitor) LastActivity() time.Time {
	return time.Unix(m.lastActivity.Load(), 0)
}

// SecondsSinceActivity returns seconds since the last progress mark.
func (m *Monitor) SecondsSinceActivity() int64 {
	return time.Now().Unix() - m.lastActivity.Load()
}

// Counters returns an outcome snapshot.
func (m *Monitor) Counters() Counters {
	return Counters{
		Succeeded:  m.succeeded.Load(),
		Retried:    m.retried.Load(),
		Requeued:   m.requeued.Load(),
		MaxRetries: m.maxRetries.Load(),
		TimedOut:   m.timedOut.Load(),
		Failed:     m.failed.Load(),
	}
}

// Status renders a compact one-line summary (systemd STATUS, logs).
func (m *Monitor) Status() string {
	c := m.Counters()

	return fmt.Sprintf(
		"processed=%d succeeded=%d retried=%d timed_out=%d failed=%d idle=%ds",
		c.Total(), c.Succeeded, c.Retried, c.TimedOut, c.Failed+c.MaxRetries,
		m.SecondsSinceActivity(),
	)
}

// IsHealthy runs the off-path checks: goroutine ceiling and broker
// reachability. Call from a background goroutine, not per task.
func (m *Monitor) IsHealthy(ctx context.Context, broker Pinger) bool {
	if m.goroutineLimit > 0 && runtime.NumGoroutine() > m.goroutineLimit {
		return false
	}
	if broker != nil {
		if err := broker.Ping(ctx); err != nil {
			return false
		}
	}

	return true
}

// GoroutineCount returns the current goroutine count. Off-path only.
func (m *Monitor) GoroutineCount() int {
	return runtime.NumGoroutine()
}
