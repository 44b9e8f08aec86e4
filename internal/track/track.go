// Package track coordinates a small fixed set of named rhythmic
// tracks, fanning each scheduler tick out to the enabled feedback
// channels with per-channel delay compensation.
package track

import (
	"fmt"
	"sync"

	"shepbeat/internal/beat"
	"shepbeat/internal/clock"
	"shepbeat/internal/settings"
)

// Channel identifies one feedback modality.
type Channel int

const (
	ChannelSound Channel = iota
	ChannelHaptic
	ChannelVibration
	ChannelFlash
	numChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelSound:
		return "sound"
	case ChannelHaptic:
		return "haptic"
	case ChannelVibration:
		return "vibration"
	case ChannelFlash:
		return "flash"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Channels lists every feedback channel in dispatch order.
func Channels() []Channel {
	return []Channel{ChannelSound, ChannelHaptic, ChannelVibration, ChannelFlash}
}

const (
	// Per-channel delay compensation bounds, microseconds.
	MinOffsetMicros int64 = -20_000
	MaxOffsetMicros int64 = 50_000

	// Tap history bounds. Taps further apart than the reset window do
	// not belong to the same tempo estimate.
	maxTapHistory  = 8
	tapResetMicros = 2_000_000
)

// Sink receives feedback pulses as side effects of tick dispatch.
// strong marks the downbeat variant. Implementations must return
// quickly; the coordinator calls them from dispatch goroutines, not
// from any scheduler's timing loop.
type Sink interface {
	Click(track string, strong bool)
	Haptic(track string, strong bool)
	Vibrate(track string, strong bool)
	Flash(track string, strong bool)
}

// Event is a tick or pre-tick attributed to a named track, forwarded
// to the coordinator's caller.
type Event struct {
	Track string
	Pre   bool
	Beat  int
}

// Track pairs one scheduler with its feedback configuration. All
// fields behind mu; the scheduler has its own locking.
type Track struct {
	name  string
	sched *beat.Scheduler

	mu       sync.Mutex
	enabled  [numChannels]bool
	offsets  [numChannels]int64 // µs
	muted    bool
	taps     []int64
	lastBeat int
	gen      int // bumped on stop; in-flight dispatch is discarded
}

// Name returns the track's identifier.
func (t *Track) Name() string { return t.name }

// Coordinator owns the tracks and their dispatch goroutines.
type Coordinator struct {
	clk   clock.Clock
	sink  Sink
	store *settings.Store

	tracks map[string]*Track
	order  []string

	events   chan Event
	quit     chan struct{}
	wg       sync.WaitGroup
	lossless bool
}

// Config carries the coordinator's collaborators. Sink may be nil for
// a silent coordinator (events only). LosslessEvents makes both the
// schedulers and the fan-in stream block instead of dropping under
// backpressure; only deterministic consumers should set it.
type Config struct {
	Clock          clock.Clock
	Sink           Sink
	Store          *settings.Store
	Tracks         []string
	LosslessEvents bool
}

// NewCoordinator builds one scheduler per named track, seeded from the
// settings store, and starts a pump goroutine per track. Close
// releases them.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("track: coordinator needs a clock")
	}
	if len(cfg.Tracks) == 0 {
		return nil, fmt.Errorf("track: coordinator needs at least one track")
	}
	store := cfg.Store
	if store == nil {
		store = settings.NewStore()
	}
	c := &Coordinator{
		clk:      cfg.Clock,
		sink:     cfg.Sink,
		store:    store,
		tracks:   make(map[string]*Track, len(cfg.Tracks)),
		order:    append([]string(nil), cfg.Tracks...),
		events:   make(chan Event, 64),
		quit:     make(chan struct{}),
		lossless: cfg.LosslessEvents,
	}
	var schedOpts []beat.Option
	if cfg.LosslessEvents {
		schedOpts = append(schedOpts, beat.WithLosslessEvents())
	}
	for _, name := range cfg.Tracks {
		if _, dup := c.tracks[name]; dup {
			return nil, fmt.Errorf("track: duplicate track %q", name)
		}
		tr := &Track{
			name:  name,
			sched: beat.New(cfg.Clock, schedOpts...),
		}
		tr.enabled[ChannelSound] = true
		tr.enabled[ChannelFlash] = true
		for _, ch := range Channels() {
			tr.offsets[ch] = clampOffset(int64(store.Int(settings.TrackOffsetKey(name, ch.String()), 0)) * 1000)
		}
		c.tracks[name] = tr
		c.wg.Add(1)
		go c.pump(tr)
	}
	return c, nil
}

// Tracks returns the track names in creation order.
func (c *Coordinator) Tracks() []string {
	return append([]string(nil), c.order...)
}

// Events returns the fan-in tick stream across all tracks. Events are
// dropped rather than blocked on. No ordering holds between tracks.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Start begins the named track's scheduler with its stored tempo and
// measure length.
func (c *Coordinator) Start(name string) error {
	tr, err := c.track(name)
	if err != nil {
		return err
	}
	bpm := c.store.Int(settings.TrackBPMKey(name), 120)
	beats := c.store.Int(settings.TrackBeatsKey(name), 4)
	return tr.sched.Start(bpm, beats)
}

// Stop halts the named track's scheduler. In-flight channel dispatch
// for the old session is discarded.
func (c *Coordinator) Stop(name string) error {
	tr, err := c.track(name)
	if err != nil {
		return err
	}
	tr.mu.Lock()
	tr.gen++
	tr.lastBeat = 0
	tr.mu.Unlock()
	tr.sched.Stop()
	return nil
}

// Running reports whether the named track's scheduler is live.
func (c *Coordinator) Running(name string) bool {
	tr, err := c.track(name)
	if err != nil {
		return false
	}
	return tr.sched.Running()
}

// SetTempo applies a clamped tempo to the named track and writes it
// back to the settings store.
func (c *Coordinator) SetTempo(name string, bpm int) error {
	tr, err := c.track(name)
	if err != nil {
		return err
	}
	tr.sched.SetTempo(bpm)
	c.store.SetInt(settings.TrackBPMKey(name), tr.sched.BPM())
	return nil
}

// BPM returns the named track's stored tempo.
func (c *Coordinator) BPM(name string) int {
	tr, err := c.track(name)
	if err != nil {
		return 0
	}
	return tr.sched.BPM()
}

// SetBeatsPerMeasure applies a clamped measure length and writes it
// back to the settings store.
func (c *Coordinator) SetBeatsPerMeasure(name string, n int) error {
	tr, err := c.track(name)
	if err != nil {
		return err
	}
	tr.sched.SetBeatsPerMeasure(n)
	c.store.SetInt(settings.TrackBeatsKey(name), tr.sched.BeatsPerMeasure())
	return nil
}

// BeatsPerMeasure returns the named track's stored measure length.
func (c *Coordinator) BeatsPerMeasure(name string) int {
	tr, err := c.track(name)
	if err != nil {
		return 0
	}
	return tr.sched.BeatsPerMeasure()
}

// SetChannelEnabled toggles one feedback channel for a track.
func (c *Coordinator) SetChannelEnabled(name string, ch Channel, on bool) error {
	tr, err := c.track(name)
	if err != nil {
		return err
	}
	if ch < 0 || ch >= numChannels {
		return fmt.Errorf("track: unknown channel %d", ch)
	}
	tr.mu.Lock()
	tr.enabled[ch] = on
	tr.mu.Unlock()
	return nil
}

// ChannelEnabled reports one feedback channel's flag.
func (c *Coordinator) ChannelEnabled(name string, ch Channel) bool {
	tr, err := c.track(name)
	if err != nil || ch < 0 || ch >= numChannels {
		return false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.enabled[ch]
}

// SetChannelOffset sets one channel's delay compensation in
// microseconds, clamped to [MinOffsetMicros, MaxOffsetMicros], and
// persists the millisecond value.
func (c *Coordinator) SetChannelOffset(name string, ch Channel, offsetMicros int64) error {
	tr, err := c.track(name)
	if err != nil {
		return err
	}
	if ch < 0 || ch >= numChannels {
		return fmt.Errorf("track: unknown channel %d", ch)
	}
	off := clampOffset(offsetMicros)
	tr.mu.Lock()
	tr.offsets[ch] = off
	tr.mu.Unlock()
	c.store.SetInt(settings.TrackOffsetKey(name, ch.String()), int(off/1000))
	return nil
}

// ChannelOffset returns one channel's delay compensation in µs.
func (c *Coordinator) ChannelOffset(name string, ch Channel) int64 {
	tr, err := c.track(name)
	if err != nil || ch < 0 || ch >= numChannels {
		return 0
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.offsets[ch]
}

// SetMuted suppresses channel dispatch without stopping the
// scheduler, so the beat counter keeps its phase across mute.
func (c *Coordinator) SetMuted(name string, muted bool) error {
	tr, err := c.track(name)
	if err != nil {
		return err
	}
	tr.mu.Lock()
	tr.muted = muted
	tr.mu.Unlock()
	return nil
}

// Muted reports the named track's mute flag.
func (c *Coordinator) Muted(name string) bool {
	tr, err := c.track(name)
	if err != nil {
		return false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.muted
}

// CurrentBeat returns the beat number of the last tick the named
// track fired, or 0 before the first tick of a session.
func (c *Coordinator) CurrentBeat(name string) int {
	tr, err := c.track(name)
	if err != nil {
		return 0
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.lastBeat
}

// Tap records one tap-tempo sample for the named track. With two or
// more retained samples the mean inter-tap interval becomes the new
// tempo; the returned BPM is 0 when no estimate was applied yet.
func (c *Coordinator) Tap(name string) int {
	tr, err := c.track(name)
	if err != nil {
		return 0
	}
	now := c.clk.Now()

	tr.mu.Lock()
	if n := len(tr.taps); n > 0 && now-tr.taps[n-1] > tapResetMicros {
		tr.taps = tr.taps[:0]
	}
	tr.taps = append(tr.taps, now)
	if len(tr.taps) > maxTapHistory {
		tr.taps = tr.taps[len(tr.taps)-maxTapHistory:]
	}
	taps := append([]int64(nil), tr.taps...)
	tr.mu.Unlock()

	if len(taps) < 2 {
		return 0
	}
	var sum int64
	for i := 1; i < len(taps); i++ {
		sum += taps[i] - taps[i-1]
	}
	mean := float64(sum) / float64(len(taps)-1)
	bpm := int(60_000_000/mean + 0.5)
	if bpm < beat.MinBPM {
		bpm = beat.MinBPM
	}
	if bpm > beat.MaxBPM {
		bpm = beat.MaxBPM
	}
	tr.sched.SetTempo(bpm)
	c.store.SetInt(settings.TrackBPMKey(name), bpm)
	return bpm
}

// TapCount returns how many tap samples are currently retained.
func (c *Coordinator) TapCount(name string) int {
	tr, err := c.track(name)
	if err != nil {
		return 0
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.taps)
}

// Close stops every scheduler and tears down the pump goroutines.
func (c *Coordinator) Close() {
	for _, name := range c.order {
		c.tracks[name].sched.Stop()
	}
	close(c.quit)
	c.wg.Wait()
}

func (c *Coordinator) track(name string) (*Track, error) {
	tr, ok := c.tracks[name]
	if !ok {
		return nil, fmt.Errorf("track: unknown track %q", name)
	}
	return tr, nil
}

// pump forwards one track's scheduler events to the fan-in stream and
// arms feedback dispatch. Dispatch is armed at the pre-tick so that
// negative channel offsets (firing ahead of the tick) stay inside the
// lead window: the deferral is leadTime + offset, clamped at zero.
func (c *Coordinator) pump(tr *Track) {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		case tk := <-tr.sched.Events():
			if tk.Pre {
				c.forward(Event{Track: tr.name, Pre: true, Beat: tk.Beat})
				c.armDispatch(tr, tk.Beat)
				continue
			}
			tr.mu.Lock()
			tr.lastBeat = tk.Beat
			tr.mu.Unlock()
			c.forward(Event{Track: tr.name, Beat: tk.Beat})
		}
	}
}

func (c *Coordinator) forward(ev Event) {
	if c.lossless {
		select {
		case c.events <- ev:
		case <-c.quit:
		}
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

// armDispatch schedules the enabled channels' feedback for the tick
// that follows a pre-tick. The mute and generation checks run again
// at fire time: a racing stop or mute wins over armed feedback.
func (c *Coordinator) armDispatch(tr *Track, beatNum int) {
	if c.sink == nil {
		return
	}
	tr.mu.Lock()
	muted := tr.muted
	gen := tr.gen
	enabled := tr.enabled
	offsets := tr.offsets
	tr.mu.Unlock()
	if muted {
		return
	}
	strong := beatNum == 1
	for _, ch := range Channels() {
		if !enabled[ch] {
			continue
		}
		delay := beat.LeadTimeMicros + offsets[ch]
		if delay < 0 {
			delay = 0
		}
		c.wg.Add(1)
		go c.fire(tr, ch, strong, gen, delay)
	}
}

func (c *Coordinator) fire(tr *Track, ch Channel, strong bool, gen int, delay int64) {
	defer c.wg.Done()
	if delay > 0 {
		t := c.clk.Timer(delay)
		select {
		case <-t.C():
		case <-c.quit:
			t.Stop()
			return
		}
	}
	tr.mu.Lock()
	stale := tr.gen != gen || tr.muted
	tr.mu.Unlock()
	if stale {
		return
	}
	switch ch {
	case ChannelSound:
		c.sink.Click(tr.name, strong)
	case ChannelHaptic:
		c.sink.Haptic(tr.name, strong)
	case ChannelVibration:
		c.sink.Vibrate(tr.name, strong)
	case ChannelFlash:
		c.sink.Flash(tr.name, strong)
	}
}

func clampOffset(v int64) int64 {
	if v < MinOffsetMicros {
		return MinOffsetMicros
	}
	if v > MaxOffsetMicros {
		return MaxOffsetMicros
	}
	return v
}
