package audio

import (
	"errors"
	"math"
	"sync"
	"time"

	"shepbeat/internal/voice"
)

// Volume changes outside an explicit fade still ramp over a few
// milliseconds so parameter updates never click.
const defaultRampMillis = 5

// Mixer is the additive oscillator bank. It implements SampleSource
// for streaming output and voice.Renderer for the voice engine, and
// synthesizes the metronome click bursts. All methods are safe to
// call while Process runs on the audio thread.
type Mixer struct {
	sampleRate int

	mu     sync.Mutex
	oscs   []*oscillator
	clicks []*clickBurst
}

func NewMixer(sampleRate int) *Mixer {
	return &Mixer{sampleRate: sampleRate}
}

func (m *Mixer) SampleRate() int { return m.sampleRate }

// NewOscillator registers a silent oscillator with the bank.
func (m *Mixer) NewOscillator(w voice.Waveform, freqHz float64) (voice.Oscillator, error) {
	o := &oscillator{
		mixer:    m,
		waveform: w,
	}
	o.phaseInc = freqHz / float64(m.sampleRate)
	m.mu.Lock()
	m.oscs = append(m.oscs, o)
	m.mu.Unlock()
	return o, nil
}

// PlayClick queues one metronome click burst. The strong variant is
// higher and louder so the downbeat stands apart without a separate
// sample asset.
func (m *Mixer) PlayClick(strong bool) {
	freq, amp, dur := 1174.66, 0.5, 20*time.Millisecond
	if strong {
		freq, amp, dur = 1760.0, 0.8, 30*time.Millisecond
	}
	n := int(float64(m.sampleRate) * dur.Seconds())
	if n < 1 {
		n = 1
	}
	c := &clickBurst{
		phaseInc:  freq / float64(m.sampleRate),
		env:       amp,
		remaining: n,
		// Exponential decay reaching -60 dB at the end of the burst.
		decay: math.Pow(1e-3, 1/float64(n)),
	}
	m.mu.Lock()
	m.clicks = append(m.clicks, c)
	m.mu.Unlock()
}

// Process renders interleaved stereo frames, pruning finished clicks
// and disposed oscillators as it goes.
func (m *Mixer) Process(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range dst {
		dst[i] = 0
	}
	frames := len(dst) / 2

	live := m.oscs[:0]
	for _, o := range m.oscs {
		if o.disposed {
			continue
		}
		live = append(live, o)
		o.render(dst, frames)
	}
	m.oscs = live

	burning := m.clicks[:0]
	for _, c := range m.clicks {
		c.render(dst, frames)
		if c.remaining > 0 {
			burning = append(burning, c)
		}
	}
	m.clicks = burning
}

// oscillator is one phase-continuous voice layer. Frequency changes
// swap the phase increment without touching the accumulated phase, so
// retunes produce no discontinuity in the waveform.
type oscillator struct {
	mixer    *Mixer
	waveform voice.Waveform

	// Guarded by mixer.mu.
	phase    float64
	phaseInc float64
	gain     float64
	gainStep float64
	rampLeft int
	playing  bool
	disposed bool
}

func (o *oscillator) Play(volume float64) error {
	o.mixer.mu.Lock()
	defer o.mixer.mu.Unlock()
	if o.disposed {
		return errors.New("audio: oscillator disposed")
	}
	o.playing = true
	o.gain = volume
	o.gainStep = 0
	o.rampLeft = 0
	return nil
}

func (o *oscillator) SetFrequency(hz float64) {
	o.mixer.mu.Lock()
	o.phaseInc = hz / float64(o.mixer.sampleRate)
	o.mixer.mu.Unlock()
}

func (o *oscillator) SetVolume(v float64) {
	o.FadeVolume(v, defaultRampMillis*time.Millisecond)
}

func (o *oscillator) FadeVolume(v float64, d time.Duration) {
	n := int(float64(o.mixer.sampleRate) * d.Seconds())
	o.mixer.mu.Lock()
	if n < 1 {
		o.gain = v
		o.rampLeft = 0
	} else {
		o.gainStep = (v - o.gain) / float64(n)
		o.rampLeft = n
	}
	o.mixer.mu.Unlock()
}

func (o *oscillator) Stop() {
	o.mixer.mu.Lock()
	o.playing = false
	o.mixer.mu.Unlock()
}

func (o *oscillator) Dispose() error {
	o.mixer.mu.Lock()
	defer o.mixer.mu.Unlock()
	if o.disposed {
		return errors.New("audio: oscillator already disposed")
	}
	o.disposed = true
	o.playing = false
	return nil
}

func (o *oscillator) render(dst []float32, frames int) {
	if !o.playing {
		return
	}
	for i := 0; i < frames; i++ {
		if o.rampLeft > 0 {
			o.gain += o.gainStep
			o.rampLeft--
		}
		s := float32(o.sample() * o.gain)
		dst[i*2] += s
		dst[i*2+1] += s
		o.phase += o.phaseInc
		if o.phase >= 1 {
			o.phase -= math.Floor(o.phase)
		}
	}
}

func (o *oscillator) sample() float64 {
	switch o.waveform {
	case voice.WaveTriangle:
		if o.phase < 0.5 {
			return 4*o.phase - 1
		}
		return 3 - 4*o.phase
	case voice.WaveSquare:
		if o.phase < 0.5 {
			return 1
		}
		return -1
	case voice.WaveSaw:
		return 2*o.phase - 1
	default:
		return math.Sin(2 * math.Pi * o.phase)
	}
}

// clickBurst is a decaying sine transient, consumed over Process
// calls until its samples run out.
type clickBurst struct {
	phase     float64
	phaseInc  float64
	env       float64
	decay     float64
	remaining int
}

func (c *clickBurst) render(dst []float32, frames int) {
	n := frames
	if n > c.remaining {
		n = c.remaining
	}
	for i := 0; i < n; i++ {
		s := float32(math.Sin(2*math.Pi*c.phase) * c.env)
		dst[i*2] += s
		dst[i*2+1] += s
		c.phase += c.phaseInc
		if c.phase >= 1 {
			c.phase -= 1
		}
		c.env *= c.decay
	}
	c.remaining -= n
}
