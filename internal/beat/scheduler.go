// Package beat implements the precision tick scheduler that drives one
// rhythmic track. Each scheduler owns a dedicated goroutine; callers
// talk to it only through channels, so no mutable state is shared with
// the timing loop.
package beat

import (
	"errors"
	"math"
	"sync"

	"shepbeat/internal/clock"
)

const (
	// LeadTimeMicros is how far ahead of a tick its pre-tick fires.
	LeadTimeMicros int64 = 15_000
	// spinThresholdMicros bounds the busy-wait phase: the coarse sleep
	// ends this far before the deadline and the remainder is polled.
	spinThresholdMicros int64 = 1_500

	MinBPM = 1
	MaxBPM = 500

	MinBeatsPerMeasure = 1
	MaxBeatsPerMeasure = 32
)

// Tick is one scheduler event. Pre marks the advance warning emitted
// LeadTimeMicros before the tick proper. Beat cycles 1..beatsPerMeasure
// with 1 as the downbeat. At is the scheduler's clock reading when the
// event fired.
type Tick struct {
	Pre  bool
	Beat int
	At   int64
}

// IntervalMicros returns the beat interval for a tempo, rounded to the
// nearest microsecond.
func IntervalMicros(bpm int) int64 {
	return int64(math.Round(60_000_000 / float64(bpm)))
}

type cmdKind int

const (
	cmdTempo cmdKind = iota
	cmdBeats
)

type command struct {
	kind  cmdKind
	value int
}

// Scheduler computes absolute tick deadlines from a tempo and an
// anchor time and hits them with a coarse-sleep + busy-poll loop.
// All methods are safe for concurrent use.
type Scheduler struct {
	clk      clock.Clock
	events   chan Tick
	lossless bool

	mu      sync.Mutex
	running bool
	bpm     int
	beats   int
	cmds    chan command
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithLosslessEvents makes emission block until the consumer receives
// instead of dropping under backpressure. Only for deterministic
// consumers (tests, offline rendering); a live UI must not use it, as
// a stalled consumer would stall the timing loop.
func WithLosslessEvents() Option {
	return func(s *Scheduler) { s.lossless = true }
}

// New returns a stopped scheduler at 120 BPM, 4 beats per measure.
func New(clk clock.Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		clk:    clk,
		events: make(chan Tick, 16),
		bpm:    120,
		beats:  4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the tick stream. Events are dropped, never blocked
// on, when the consumer falls behind.
func (s *Scheduler) Events() <-chan Tick { return s.events }

// Running reports whether the timing goroutine is live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// BPM returns the stored tempo (live or for the next Start).
func (s *Scheduler) BPM() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bpm
}

// BeatsPerMeasure returns the stored measure length.
func (s *Scheduler) BeatsPerMeasure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beats
}

// Start begins emission from beat index 0 of a fresh epoch. Values
// outside the valid ranges are clamped. Returns an error if the
// scheduler is already running; state is untouched in that case.
func (s *Scheduler) Start(bpm, beatsPerMeasure int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("beat: scheduler already running")
	}
	s.bpm = clampInt(bpm, MinBPM, MaxBPM)
	s.beats = clampInt(beatsPerMeasure, MinBeatsPerMeasure, MaxBeatsPerMeasure)
	s.cmds = make(chan command, 8)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.run(s.bpm, s.beats, s.cmds, s.stop, s.done)
	return nil
}

// Stop cancels any pending wait and tears down the timing goroutine.
// When Stop returns, no further tick will fire and the emitted-beat
// counter is reset; undelivered events from the session are discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop, done := s.stop, s.done
	s.running = false
	s.mu.Unlock()

	close(stop)
	<-done
	// Drain stale events so a subsequent Start never replays them.
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

// SetTempo updates the tempo. While running the schedule is
// re-anchored so the next tick lands within one new interval; stopped,
// it only updates the value used by the next Start.
func (s *Scheduler) SetTempo(bpm int) {
	bpm = clampInt(bpm, MinBPM, MaxBPM)
	s.mu.Lock()
	s.bpm = bpm
	running, cmds, done := s.running, s.cmds, s.done
	s.mu.Unlock()
	if !running {
		return
	}
	select {
	case cmds <- command{kind: cmdTempo, value: bpm}:
	case <-done:
	}
}

// SetBeatsPerMeasure changes the modulus used for the next reported
// beat number. The in-flight countdown is unaffected.
func (s *Scheduler) SetBeatsPerMeasure(n int) {
	n = clampInt(n, MinBeatsPerMeasure, MaxBeatsPerMeasure)
	s.mu.Lock()
	s.beats = n
	running, cmds, done := s.running, s.cmds, s.done
	s.mu.Unlock()
	if !running {
		return
	}
	select {
	case cmds <- command{kind: cmdBeats, value: n}:
	case <-done:
	}
}

// schedState is the timing goroutine's private view of one session.
// It never leaves the goroutine.
type schedState struct {
	interval int64
	anchor   int64
	emitted  int // beats fired since the current anchor (epoch-local)
	count    int // beats fired since Start (survives re-anchoring)
	beats    int
}

func (s *Scheduler) run(bpm, beats int, cmds chan command, stop, done chan struct{}) {
	defer close(done)

	st := schedState{
		interval: IntervalMicros(bpm),
		beats:    beats,
	}
	// Anchor one lead time out so the first pre-tick fires promptly
	// and tick 0 lands LeadTimeMicros after Start.
	st.anchor = s.clk.Now() + LeadTimeMicros

	for {
		target := st.anchor + int64(st.emitted)*st.interval
		switch s.waitUntil(target-LeadTimeMicros, cmds, stop, &st) {
		case waitStopped:
			return
		case waitReanchored:
			continue
		}
		s.emit(Tick{Pre: true, Beat: st.count%st.beats + 1, At: s.clk.Now()}, stop)

		switch s.waitUntil(target, cmds, stop, &st) {
		case waitStopped:
			return
		case waitReanchored:
			continue
		}
		s.emit(Tick{Beat: st.count%st.beats + 1, At: s.clk.Now()}, stop)
		st.count++
		st.emitted++
	}
}

type waitResult int

const (
	waitReached waitResult = iota
	waitStopped
	waitReanchored
)

// waitUntil blocks the timing goroutine until the clock reaches
// target. Far from the deadline it sleeps on a cancellable timer;
// inside spinThresholdMicros it busy-polls the clock, re-checking the
// stop channel each iteration. Commands arriving mid-wait are applied
// in place; a tempo command abandons the wait so the caller recomputes
// deadlines for the new epoch.
func (s *Scheduler) waitUntil(target int64, cmds chan command, stop chan struct{}, st *schedState) waitResult {
	for {
		remaining := target - s.clk.Now()
		if remaining > spinThresholdMicros {
			t := s.clk.Timer(remaining - spinThresholdMicros)
			select {
			case <-stop:
				t.Stop()
				return waitStopped
			case c := <-cmds:
				t.Stop()
				if s.apply(c, st) {
					return waitReanchored
				}
				continue
			case <-t.C():
			}
		}
		for s.clk.Now() < target {
			select {
			case <-stop:
				return waitStopped
			case c := <-cmds:
				if s.apply(c, st) {
					return waitReanchored
				}
			default:
			}
		}
		return waitReached
	}
}

// apply mutates session state for one command and reports whether the
// schedule was re-anchored. A tempo change starts a new epoch anchored
// one new interval from now, absorbing up to one beat of delay instead
// of chasing a deadline that may already have passed.
func (s *Scheduler) apply(c command, st *schedState) bool {
	switch c.kind {
	case cmdTempo:
		st.interval = IntervalMicros(c.value)
		st.anchor = s.clk.Now() + st.interval
		st.emitted = 0
		return true
	case cmdBeats:
		st.beats = c.value
	}
	return false
}

func (s *Scheduler) emit(t Tick, stop chan struct{}) {
	if s.lossless {
		select {
		case s.events <- t:
		case <-stop:
		}
		return
	}
	select {
	case s.events <- t:
	default:
		// Consumer fell behind; dropping beats the alternative of
		// stalling the timing loop.
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
