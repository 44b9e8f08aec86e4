// Package voice manages the polyphonic Shepard–Risset voices. A voice
// is an additive stack of octave-spaced oscillators under a fixed
// perceptual gain envelope; retuning moves every layer by the same
// ratio in place, so pitch-class motion is heard as endless
// unidirectional glide with no octave seam.
package voice

import (
	"fmt"
	"math"
	"sync"
	"time"

	"shepbeat/internal/clock"
)

// Waveform selects an oscillator shape at creation time.
type Waveform int

const (
	WaveSine Waveform = iota
	WaveTriangle
	WaveSquare
	WaveSaw
)

// Renderer is the audio-rendering subsystem boundary. Implementations
// mix and output; this package only issues parameter commands.
type Renderer interface {
	NewOscillator(w Waveform, freqHz float64) (Oscillator, error)
}

// Oscillator is one exclusively-owned oscillator handle.
type Oscillator interface {
	// Play begins looping playback at the given volume. The
	// oscillator sounds until Stop.
	Play(volume float64) error
	// SetFrequency retunes in place, phase-continuous.
	SetFrequency(hz float64)
	// SetVolume ramps to the target quickly enough to track live
	// gestures but without a click.
	SetVolume(v float64)
	// FadeVolume ramps to the target over the given duration.
	FadeVolume(v float64, d time.Duration)
	// Stop silences the oscillator.
	Stop()
	// Dispose releases the handle. Returns an error when the handle
	// was already released; safe to treat as best-effort.
	Dispose() error
}

const (
	// NumOctaves is how many octave layers one voice spans.
	NumOctaves = 10

	// The perceptual envelope is fixed in absolute log-frequency
	// space: peak at centerHz, quartic falloff scaled by spread.
	centerHz = 400.0
	spread   = 4.2

	// MaxLayerGain bounds each layer so a full stack of layers across
	// several simultaneous voices cannot clip the output.
	MaxLayerGain = 0.6

	// FadeOut is the release ramp applied before layers are disposed.
	FadeOut = 100 * time.Millisecond
)

// Weight returns the Shepard envelope gain for a frequency. It peaks
// at 1.0 on the 400 Hz center and falls off quartically in
// log-frequency, so adjacent octave layers cross over without either
// audible beating or a loudness dip.
func Weight(freqHz float64) float64 {
	if freqHz <= 0 {
		return 0
	}
	x := math.Log2(freqHz/centerHz) / spread
	x2 := x * x
	return math.Exp(-(x2 * x2))
}

// LayerFrequency returns octave layer k's frequency for a total
// semitone offset above the base of layer 0.
func LayerFrequency(base0Hz float64, k int, totalSemitones float64) float64 {
	return base0Hz * math.Exp2(float64(k)) * math.Exp2(totalSemitones/12)
}

// Base0Hz derives the layer-0 base frequency from the reference pitch
// (A4). 440 Hz maps to 13.75 Hz, placing the ten layers symmetrically
// around the envelope center.
func Base0Hz(referencePitch float64) float64 {
	return referencePitch / 32
}

// Voice is one sounding Shepard stack. It exclusively owns its layer
// oscillators until stopped.
type Voice struct {
	pitchClass  float64 // semitones, continuous
	transpose   float64
	tuningCents float64
	gain        float64
	layers      [NumOctaves]Oscillator
	stopped     bool
}

// PitchClass returns the voice's current pitch-class offset in
// semitones.
func (v *Voice) PitchClass() float64 { return v.pitchClass }

func (v *Voice) totalSemitones() float64 {
	return v.pitchClass + v.transpose + v.tuningCents/100
}

// Engine starts, retunes, and stops voices against a renderer. All
// methods are safe for concurrent use.
type Engine struct {
	renderer Renderer
	clk      clock.Clock

	mu       sync.Mutex
	base0    float64
	voices   map[*Voice]struct{}
	groups   map[int]*Group
	onLogErr func(error)
}

// NewEngine returns an engine over the given renderer. The clock
// schedules release fades; pass clock.System outside tests.
func NewEngine(r Renderer, clk clock.Clock) *Engine {
	return &Engine{
		renderer: r,
		clk:      clk,
		base0:    Base0Hz(440),
		voices:   make(map[*Voice]struct{}),
		groups:   make(map[int]*Group),
	}
}

// SetReferencePitch retunes the whole instrument's base. Affects
// voices started afterwards and any later retune of live voices.
func (e *Engine) SetReferencePitch(a4Hz float64) {
	if a4Hz <= 0 {
		return
	}
	e.mu.Lock()
	e.base0 = Base0Hz(a4Hz)
	e.mu.Unlock()
}

// SetErrorLog installs a callback for best-effort cleanup failures
// (late disposes). Nil silences them.
func (e *Engine) SetErrorLog(fn func(error)) {
	e.mu.Lock()
	e.onLogErr = fn
	e.mu.Unlock()
}

// StartVoice allocates one oscillator per octave layer, all started
// together and left looping. Allocation is all-or-nothing: on any
// failure every already-created layer is disposed and no voice
// sounds.
func (e *Engine) StartVoice(pitchClass, gain, transpose, tuningCents float64) (*Voice, error) {
	e.mu.Lock()
	base0 := e.base0
	e.mu.Unlock()

	v := &Voice{
		pitchClass:  pitchClass,
		transpose:   transpose,
		tuningCents: tuningCents,
		gain:        gain,
	}
	total := v.totalSemitones()
	for k := 0; k < NumOctaves; k++ {
		f := LayerFrequency(base0, k, total)
		osc, err := e.renderer.NewOscillator(WaveSine, f)
		if err == nil {
			err = osc.Play(layerGain(gain, f))
		}
		if err != nil {
			for i := 0; i < k; i++ {
				v.layers[i].Stop()
				_ = v.layers[i].Dispose()
			}
			return nil, fmt.Errorf("voice: layer %d: %w", k, err)
		}
		v.layers[k] = osc
	}

	e.mu.Lock()
	e.voices[v] = struct{}{}
	e.mu.Unlock()
	return v, nil
}

// UpdateFrequencies retunes every layer of a live voice in place. No
// oscillator is restarted or reallocated, so there is no audible
// discontinuity; layer gains follow the envelope to their new
// frequencies.
func (e *Engine) UpdateFrequencies(v *Voice, pitchClass, transpose, tuningCents float64) {
	e.mu.Lock()
	base0 := e.base0
	if v.stopped {
		e.mu.Unlock()
		return
	}
	v.pitchClass = pitchClass
	v.transpose = transpose
	v.tuningCents = tuningCents
	total := v.totalSemitones()
	gain := v.gain
	layers := v.layers
	e.mu.Unlock()

	for k, osc := range layers {
		f := LayerFrequency(base0, k, total)
		osc.SetFrequency(f)
		osc.SetVolume(layerGain(gain, f))
	}
}

// Stop fades every layer to silence over FadeOut, then releases the
// oscillator handles. Dispose failures are best-effort: the sound has
// already ended, so they are logged and swallowed.
func (e *Engine) Stop(v *Voice) {
	e.mu.Lock()
	if v.stopped {
		e.mu.Unlock()
		return
	}
	v.stopped = true
	delete(e.voices, v)
	logErr := e.onLogErr
	e.mu.Unlock()

	for _, osc := range v.layers {
		osc.FadeVolume(0, FadeOut)
	}
	go func() {
		t := e.clk.Timer(FadeOut.Microseconds())
		<-t.C()
		for _, osc := range v.layers {
			osc.Stop()
			if err := osc.Dispose(); err != nil && logErr != nil {
				logErr(err)
			}
		}
	}()
}

// ActiveVoices returns how many voices are currently sounding.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// layerGain applies the perceptual envelope and the additive-stack
// safety clamp.
func layerGain(voiceGain, freqHz float64) float64 {
	g := voiceGain * Weight(freqHz)
	if g < 0 {
		return 0
	}
	if g > MaxLayerGain {
		return MaxLayerGain
	}
	return g
}
