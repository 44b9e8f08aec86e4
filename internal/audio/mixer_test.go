package audio

import (
	"math"
	"testing"
	"time"

	"shepbeat/internal/voice"
)

const testRate = 48000

func renderFrames(m *Mixer, frames int) []float32 {
	buf := make([]float32, frames*2)
	m.Process(buf)
	return buf
}

func peak(buf []float32) float64 {
	var p float64
	for _, s := range buf {
		if v := math.Abs(float64(s)); v > p {
			p = v
		}
	}
	return p
}

func TestSilentUntilPlayed(t *testing.T) {
	m := NewMixer(testRate)
	if _, err := m.NewOscillator(voice.WaveSine, 440); err != nil {
		t.Fatalf("new oscillator: %v", err)
	}
	if got := peak(renderFrames(m, 256)); got != 0 {
		t.Errorf("unplayed oscillator produced output, peak %v", got)
	}
}

func TestPlayProducesOutput(t *testing.T) {
	m := NewMixer(testRate)
	o, err := m.NewOscillator(voice.WaveSine, 440)
	if err != nil {
		t.Fatalf("new oscillator: %v", err)
	}
	if err := o.Play(0.5); err != nil {
		t.Fatalf("play: %v", err)
	}
	buf := renderFrames(m, 4096)
	p := peak(buf)
	if p < 0.4 || p > 0.51 {
		t.Errorf("peak = %v, want near 0.5", p)
	}
	// Stereo frames carry the same sample on both channels.
	for i := 0; i+1 < len(buf); i += 2 {
		if buf[i] != buf[i+1] {
			t.Fatalf("frame %d channels differ: %v vs %v", i/2, buf[i], buf[i+1])
		}
	}
}

func TestRetuneIsPhaseContinuous(t *testing.T) {
	m := NewMixer(testRate)
	o, err := m.NewOscillator(voice.WaveSine, 220)
	if err != nil {
		t.Fatalf("new oscillator: %v", err)
	}
	if err := o.Play(0.5); err != nil {
		t.Fatalf("play: %v", err)
	}
	a := renderFrames(m, 1024)
	o.SetFrequency(440)
	b := renderFrames(m, 1024)

	// The largest per-sample step a 440 Hz sine at gain 0.5 can take
	// is about 0.029; any restart of the phase would jump far more.
	all := append(a, b...)
	for i := 2; i+1 < len(all); i += 2 {
		step := math.Abs(float64(all[i] - all[i-2]))
		if step > 0.1 {
			t.Fatalf("discontinuity at frame %d: step %v", i/2, step)
		}
	}
}

func TestFadeReachesTargetWithoutJump(t *testing.T) {
	m := NewMixer(testRate)
	o, err := m.NewOscillator(voice.WaveSine, 440)
	if err != nil {
		t.Fatalf("new oscillator: %v", err)
	}
	if err := o.Play(0.5); err != nil {
		t.Fatalf("play: %v", err)
	}
	renderFrames(m, 512)
	o.FadeVolume(0, 10*time.Millisecond)
	// 10 ms at 48 kHz is 480 frames; render past the ramp.
	renderFrames(m, 600)
	if got := peak(renderFrames(m, 1024)); got > 1e-6 {
		t.Errorf("post-fade peak = %v, want silence", got)
	}
}

func TestDisposeSilencesAndErrorsOnDoubleFree(t *testing.T) {
	m := NewMixer(testRate)
	o, err := m.NewOscillator(voice.WaveSine, 440)
	if err != nil {
		t.Fatalf("new oscillator: %v", err)
	}
	if err := o.Play(0.5); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := o.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if err := o.Dispose(); err == nil {
		t.Error("second dispose succeeded, want error")
	}
	if err := o.Play(0.5); err == nil {
		t.Error("play after dispose succeeded, want error")
	}
	if got := peak(renderFrames(m, 512)); got != 0 {
		t.Errorf("disposed oscillator produced output, peak %v", got)
	}
}

func TestClickIsTransient(t *testing.T) {
	m := NewMixer(testRate)
	m.PlayClick(false)
	during := peak(renderFrames(m, 2048)) // ~43 ms, past the 20 ms burst
	after := peak(renderFrames(m, 2048))
	if during < 0.1 {
		t.Errorf("click peak = %v, want audible", during)
	}
	if after != 0 {
		t.Errorf("click still sounding after burst, peak %v", after)
	}
}

func TestStrongClickLouderThanWeak(t *testing.T) {
	weak := NewMixer(testRate)
	weak.PlayClick(false)
	strong := NewMixer(testRate)
	strong.PlayClick(true)
	pw := peak(renderFrames(weak, 2048))
	ps := peak(renderFrames(strong, 2048))
	if ps <= pw {
		t.Errorf("strong click peak %v not above weak %v", ps, pw)
	}
}

func TestMixerSumsVoices(t *testing.T) {
	m := NewMixer(testRate)
	for _, f := range []float64{220, 440} {
		o, err := m.NewOscillator(voice.WaveSine, f)
		if err != nil {
			t.Fatalf("new oscillator: %v", err)
		}
		if err := o.Play(0.4); err != nil {
			t.Fatalf("play: %v", err)
		}
	}
	if got := peak(renderFrames(m, 8192)); got <= 0.41 {
		t.Errorf("two-voice peak = %v, want additive mix above a single voice", got)
	}
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	m := NewMixer(testRate)
	o, err := m.NewOscillator(voice.WaveSquare, 1000)
	if err != nil {
		t.Fatalf("new oscillator: %v", err)
	}
	if err := o.Play(0.25); err != nil {
		t.Fatalf("play: %v", err)
	}
	r := NewStreamReader(m)
	p := make([]byte, 64*8)
	n, err := r.Read(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(p) {
		t.Fatalf("read %d bytes, want %d", n, len(p))
	}
	// A square wave holds +-0.25 exactly, so the first decoded sample
	// must round-trip bit for bit.
	got := math.Float32frombits(uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24)
	if got != 0.25 && got != -0.25 {
		t.Errorf("first sample = %v, want +-0.25", got)
	}
}
