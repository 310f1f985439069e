package protocol

import "time"

// Timer is a one-shot countdown advanced explicitly by Clock, so backends
// stay deterministic under test.
type Timer struct {
	timeout time.Duration
	elapsed time.Duration
	running bool
}

// NewTimer creates a stopped timer.
func NewTimer(timeout time.Duration) *Timer {
	return &Timer{timeout: timeout}
}

// SetTimeout changes the duration used by the next Start.
func (t *Timer) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// Start restarts the countdown from zero.
func (t *Timer) Start() {
	t.elapsed = 0
	t.running = true
}

// Stop halts the timer; a stopped timer never expires.
func (t *Timer) Stop() {
	t.running = false
}

// IsRunning reports whether the timer is counting.
func (t *Timer) IsRunning() bool {
	return t.running
}

// Clock advances the timer.
func (t *Timer) Clock(d time.Duration) {
	if t.running {
		t.elapsed += d
	}
}

// HasExpired reports whether a running timer has reached its timeout.
func (t *Timer) HasExpired() bool {
	return t.running && t.timeout > 0 && t.elapsed >= t.timeout
}

// Remaining returns the time left, zero once expired or stopped.
func (t *Timer) Remaining() time.Duration {
	if !t.running || t.elapsed >= t.timeout {
		return 0
	}
	return t.timeout - t.elapsed
}
