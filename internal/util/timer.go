package util

import "time"

// Timer measures elapsed durations against an injectable clock.
type Timer struct {
	start time.Time
	now   func() time.Time
}

// StartTimer creates a new timer starting at the current wall time.
func StartTimer() Timer {
	return StartTimerAt(time.Now)
}

// StartTimerAt starts a timer on the given clock. A nil clock uses time.Now.
func StartTimerAt(now func() time.Time) Timer {
	if now == nil {
		now = time.Now
	}
	return Timer{start: now(), now: now}
}

// Started returns the instant the timer began.
func (t Timer) Started() time.Time {
	return t.start
}

// ElapsedMs returns the elapsed milliseconds since start.
func (t Timer) ElapsedMs() int64 {
	if t.start.IsZero() || t.now == nil {
		return 0
	}
	elapsed := t.now().Sub(t.start).Milliseconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
