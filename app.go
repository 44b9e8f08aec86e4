// Package shepbeat is the core of a touch-driven rhythm and pitch
// practice instrument: beat tracks with multi-channel feedback
// dispatch, a Shepard–Risset voice engine for endless glissandi, and
// a pitch detector, behind one facade.
package shepbeat

import (
	"errors"
	"sync"

	"shepbeat/internal/audio"
	"shepbeat/internal/clock"
	"shepbeat/internal/settings"
	"shepbeat/internal/track"
	"shepbeat/internal/tuner"
	"shepbeat/internal/voice"
)

// PitchFrameSize is the analysis window AnalyzePitch expects.
const PitchFrameSize = 4096

const (
	minTranspose = -24
	maxTranspose = 24
	minCents     = -100
	maxCents     = 100
)

type Option func(*appConfig)

type appConfig struct {
	sampleRate int
	clk        clock.Clock
	renderer   voice.Renderer
	sink       track.Sink
	store      *settings.Store
	tracks     []string
	lossless   bool
}

func defaultAppConfig() appConfig {
	return appConfig{
		sampleRate: 48000,
		tracks:     []string{"inner", "outer"},
	}
}

func WithSampleRate(rate int) Option {
	return func(cfg *appConfig) { cfg.sampleRate = rate }
}

// WithClock substitutes the time source. Tests use a simulated clock.
func WithClock(clk clock.Clock) Option {
	return func(cfg *appConfig) { cfg.clk = clk }
}

// WithRenderer substitutes the voice renderer. When set, the app does
// not open an audio output; the caller owns where samples go.
func WithRenderer(r voice.Renderer) Option {
	return func(cfg *appConfig) { cfg.renderer = r }
}

// WithSink supplies a feedback sink. When the app owns the audio
// output the sink is combined with the built-in click sink; with an
// injected renderer it dispatches alone.
func WithSink(s track.Sink) Option {
	return func(cfg *appConfig) { cfg.sink = s }
}

// WithStore substitutes the settings store, letting the embedding app
// supply persisted preferences.
func WithStore(s *settings.Store) Option {
	return func(cfg *appConfig) { cfg.store = s }
}

// WithTracks names the beat tracks, in order. The default is the
// product's two tracks, "inner" and "outer".
func WithTracks(names ...string) Option {
	return func(cfg *appConfig) { cfg.tracks = names }
}

// WithLosslessEvents makes Watch block producers instead of dropping
// under backpressure. Only deterministic consumers should set it.
func WithLosslessEvents() Option {
	return func(cfg *appConfig) { cfg.lossless = true }
}

// App owns the beat tracks, the voice engine, and the pitch analyzer.
type App struct {
	mu      sync.Mutex
	quality voice.Quality

	sampleRate int
	store      *settings.Store
	tracks     *track.Coordinator
	engine     *voice.Engine
	mixer      *audio.Mixer
	out        *audio.Output
	analyzer   *tuner.Analyzer
}

func New(opts ...Option) (*App, error) {
	cfg := defaultAppConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	if cfg.clk == nil {
		cfg.clk = clock.System()
	}
	if cfg.store == nil {
		cfg.store = settings.NewStore()
	}

	a := &App{
		sampleRate: cfg.sampleRate,
		store:      cfg.store,
	}

	renderer := cfg.renderer
	if renderer == nil {
		a.mixer = audio.NewMixer(cfg.sampleRate)
		renderer = a.mixer
		out, err := audio.NewOutput(cfg.sampleRate, a.mixer)
		if err != nil {
			return nil, err
		}
		a.out = out
		a.out.Play()
	}

	sink := cfg.sink
	if a.mixer != nil {
		clicks := &clickSink{mixer: a.mixer}
		if sink != nil {
			sink = MultiSink{clicks, sink}
		} else {
			sink = clicks
		}
	}

	a.engine = voice.NewEngine(renderer, cfg.clk)
	a.engine.SetReferencePitch(cfg.store.Float(settings.KeyReferencePitch, 440))

	coord, err := track.NewCoordinator(track.Config{
		Clock:          cfg.clk,
		Sink:           sink,
		Store:          cfg.store,
		Tracks:         cfg.tracks,
		LosslessEvents: cfg.lossless,
	})
	if err != nil {
		if a.out != nil {
			_ = a.out.Stop()
		}
		return nil, err
	}
	a.tracks = coord

	analyzer, err := tuner.NewAnalyzer(cfg.sampleRate, PitchFrameSize)
	if err != nil {
		coord.Close()
		if a.out != nil {
			_ = a.out.Stop()
		}
		return nil, err
	}
	a.analyzer = analyzer
	return a, nil
}

// Watch returns the fan-in tick stream across all tracks. Receive in
// a goroutine; under default options events are dropped rather than
// blocked on when the consumer falls behind.
func (a *App) Watch() <-chan track.Event { return a.tracks.Events() }

// Tracks returns the track names in creation order.
func (a *App) Tracks() []string { return a.tracks.Tracks() }

// SampleRate returns the rate the audio path renders at.
func (a *App) SampleRate() int { return a.sampleRate }

// Beat track operations, delegated per named track.

func (a *App) StartTrack(name string) error { return a.tracks.Start(name) }
func (a *App) StopTrack(name string) error  { return a.tracks.Stop(name) }
func (a *App) TrackRunning(name string) bool {
	return a.tracks.Running(name)
}

func (a *App) SetTempo(name string, bpm int) error { return a.tracks.SetTempo(name, bpm) }
func (a *App) Tempo(name string) int               { return a.tracks.BPM(name) }

func (a *App) SetBeatsPerMeasure(name string, n int) error {
	return a.tracks.SetBeatsPerMeasure(name, n)
}
func (a *App) BeatsPerMeasure(name string) int { return a.tracks.BeatsPerMeasure(name) }

func (a *App) SetMuted(name string, muted bool) error { return a.tracks.SetMuted(name, muted) }
func (a *App) Muted(name string) bool                 { return a.tracks.Muted(name) }

func (a *App) SetChannelEnabled(name string, ch track.Channel, on bool) error {
	return a.tracks.SetChannelEnabled(name, ch, on)
}
func (a *App) ChannelEnabled(name string, ch track.Channel) bool {
	return a.tracks.ChannelEnabled(name, ch)
}

func (a *App) SetChannelOffset(name string, ch track.Channel, offsetMicros int64) error {
	return a.tracks.SetChannelOffset(name, ch, offsetMicros)
}
func (a *App) ChannelOffset(name string, ch track.Channel) int64 {
	return a.tracks.ChannelOffset(name, ch)
}

func (a *App) CurrentBeat(name string) int { return a.tracks.CurrentBeat(name) }

// Tap records a tap-tempo sample; the returned BPM is 0 until enough
// samples accumulate for an estimate.
func (a *App) Tap(name string) int { return a.tracks.Tap(name) }

// Touch surface. Each pointer id owns one voice group for the life of
// the gesture.

// TouchDown starts a voice group at the given pitch class (continuous
// semitones) under the current chord quality.
func (a *App) TouchDown(pointerID int, pitchClass, gain float64) error {
	transpose, cents := a.tuning()
	_, err := a.engine.StartGroup(pointerID, pitchClass, gain, a.ChordQuality(), transpose, cents)
	return err
}

// TouchMove glides the pointer's group to a new pitch class. Unknown
// pointers are ignored; a move may race the gesture's lift.
func (a *App) TouchMove(pointerID int, pitchClass float64) {
	transpose, cents := a.tuning()
	a.engine.MoveGroup(pointerID, pitchClass, transpose, cents)
}

// TouchUp releases the pointer's group with the standard fade-out.
func (a *App) TouchUp(pointerID int) {
	a.engine.ReleaseGroup(pointerID)
}

// ActiveVoices returns how many Shepard voices are sounding.
func (a *App) ActiveVoices() int { return a.engine.ActiveVoices() }

// SetChordQuality selects the interval set new touches sound.
func (a *App) SetChordQuality(q voice.Quality) {
	a.mu.Lock()
	a.quality = q
	a.mu.Unlock()
}

func (a *App) ChordQuality() voice.Quality {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quality
}

// Tuning preferences. Changes persist to the store and retune live
// voices in place.

func (a *App) SetReferencePitch(a4Hz float64) {
	if a4Hz <= 0 {
		return
	}
	a.store.SetFloat(settings.KeyReferencePitch, a4Hz)
	a.engine.SetReferencePitch(a4Hz)
	a.retuneLive()
}

func (a *App) ReferencePitch() float64 {
	return a.store.Float(settings.KeyReferencePitch, 440)
}

func (a *App) SetTranspose(semitones int) {
	a.store.SetInt(settings.KeyTranspose, clampInt(semitones, minTranspose, maxTranspose))
	a.retuneLive()
}

func (a *App) Transpose() int {
	return a.store.Int(settings.KeyTranspose, 0)
}

func (a *App) SetTuningCents(cents int) {
	a.store.SetInt(settings.KeyTuningCents, clampInt(cents, minCents, maxCents))
	a.retuneLive()
}

func (a *App) TuningCents() int {
	return a.store.Int(settings.KeyTuningCents, 0)
}

// AnalyzePitch estimates the pitch of one PitchFrameSize mono frame.
// The second result is false when no confident pitch was found.
func (a *App) AnalyzePitch(frame []float64) (tuner.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.analyzer.Analyze(frame)
}

// Close releases voices, tracks, and the audio output.
func (a *App) Close() error {
	a.engine.ReleaseAll()
	a.tracks.Close()
	if a.out != nil {
		return a.out.Stop()
	}
	return nil
}

func (a *App) tuning() (transpose, cents float64) {
	return float64(a.Transpose()), float64(a.TuningCents())
}

func (a *App) retuneLive() {
	transpose, cents := a.tuning()
	a.engine.RetuneAll(transpose, cents)
}

// clickSink routes metronome clicks into the mixer; the non-audio
// channels belong to the embedding platform.
type clickSink struct {
	mixer *audio.Mixer
}

func (s *clickSink) Click(track string, strong bool)   { s.mixer.PlayClick(strong) }
func (s *clickSink) Haptic(track string, strong bool)  {}
func (s *clickSink) Vibrate(track string, strong bool) {}
func (s *clickSink) Flash(track string, strong bool)   {}

// MultiSink fans each pulse out to several sinks, letting audio
// clicks and MIDI sync share a track.
type MultiSink []track.Sink

func (m MultiSink) Click(track string, strong bool) {
	for _, s := range m {
		s.Click(track, strong)
	}
}

func (m MultiSink) Haptic(track string, strong bool) {
	for _, s := range m {
		s.Haptic(track, strong)
	}
}

func (m MultiSink) Vibrate(track string, strong bool) {
	for _, s := range m {
		s.Vibrate(track, strong)
	}
}

func (m MultiSink) Flash(track string, strong bool) {
	for _, s := range m {
		s.Flash(track, strong)
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
