// Package clock abstracts the monotonic time source the beat scheduler
// runs against, so timing behavior is testable without real sleeps.
package clock

import (
	"sync"
	"time"
)

// Clock is a free-running monotonic microsecond counter plus a
// cancellable one-shot timer. The zero point is arbitrary; only
// differences are meaningful. Never backed by the wall clock.
type Clock interface {
	// Now returns microseconds elapsed on the monotonic counter.
	Now() int64
	// Timer returns a timer that fires once after d microseconds.
	// Non-positive d fires immediately.
	Timer(d int64) Timer
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	C() <-chan time.Time
	// Stop releases the timer. Safe to call after the timer fired.
	Stop()
}

type systemClock struct {
	start time.Time
}

// System returns a Clock backed by the runtime's monotonic clock.
func System() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Now() int64 {
	return time.Since(c.start).Microseconds()
}

func (c *systemClock) Timer(d int64) Timer {
	return &systemTimer{t: time.NewTimer(time.Duration(d) * time.Microsecond)}
}

type systemTimer struct {
	t *time.Timer
}

func (t *systemTimer) C() <-chan time.Time { return t.t.C }
func (t *systemTimer) Stop()               { t.t.Stop() }

// Sim is a deterministic Clock for tests. Every Now call advances the
// counter by pollStep, modeling the granularity of a busy-poll loop,
// and Timer advances the counter by the full wait without sleeping, so
// scheduler code runs at simulated speed. Safe for concurrent use.
type Sim struct {
	mu       sync.Mutex
	now      int64
	pollStep int64
}

// NewSim returns a simulated clock. pollStep is the number of
// microseconds each Now call advances the counter by; it must be
// positive for code that busy-polls the clock to make progress.
func NewSim(pollStep int64) *Sim {
	return &Sim{pollStep: pollStep}
}

func (s *Sim) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += s.pollStep
	return s.now
}

// Peek returns the current counter without advancing it.
func (s *Sim) Peek() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the counter forward by d microseconds.
func (s *Sim) Advance(d int64) {
	s.mu.Lock()
	s.now += d
	s.mu.Unlock()
}

func (s *Sim) Timer(d int64) Timer {
	if d > 0 {
		s.Advance(d)
	}
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return simTimer{ch: ch}
}

type simTimer struct {
	ch chan time.Time
}

func (t simTimer) C() <-chan time.Time { return t.ch }
func (t simTimer) Stop()               {}
