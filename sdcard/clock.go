package sdcard

import "time"

// A Clock reports the time elapsed since an arbitrary but fixed point. The
// driver only ever subtracts two readings, so the epoch does not matter, but
// the clock must never go backwards.
type Clock interface {
	Now() time.Duration
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Duration

// Now calls f.
func (f ClockFunc) Now() time.Duration {
	return f()
}

// MonotonicClock reads the monotonic clock of the host.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock creates a clock whose epoch is the moment of creation.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now returns the time since the clock was created.
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// FixedClock always reports the same time. With a fixed clock no time ever
// elapses, so a stalled transfer is never detected and never reset.
type FixedClock time.Duration

// Now returns the fixed time.
func (c FixedClock) Now() time.Duration {
	return time.Duration(c)
}
