package shepbeat

import (
	"encoding/binary"
	"math"
	"testing"
)

func peakIn(samples []float32) float64 {
	var p float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > p {
			p = v
		}
	}
	return p
}

func TestRenderVoiceSamples(t *testing.T) {
	samples, err := RenderVoiceSamples(48000, 0.5, 0, 0.5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got, want := len(samples), 48000/2*2; got != want {
		t.Fatalf("rendered %d samples, want %d", got, want)
	}
	if p := peakIn(samples); p < 0.05 {
		t.Errorf("peak = %v, want audible output", p)
	}
}

func TestRenderGlissandoSamples(t *testing.T) {
	samples, err := RenderGlissandoSamples(48000, 0.5, 0, 12, 0.5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got, want := len(samples), 48000/2*2; got != want {
		t.Fatalf("rendered %d samples, want %d", got, want)
	}
	if p := peakIn(samples); p < 0.05 {
		t.Errorf("peak = %v, want audible output", p)
	}
	// A glide must not tear the waveform: per-sample steps stay small
	// across every retune boundary.
	for i := 2; i+1 < len(samples); i += 2 {
		if step := math.Abs(float64(samples[i] - samples[i-2])); step > 0.5 {
			t.Fatalf("discontinuity at frame %d: step %v", i/2, step)
		}
	}
}

func TestRenderMetronomeSamples(t *testing.T) {
	const rate, bpm, beats, measures = 48000, 120, 4, 1
	samples := RenderMetronomeSamples(rate, bpm, beats, measures)
	framesPerBeat := rate / 2 // 120 BPM
	if got, want := len(samples), framesPerBeat*beats*measures*2; got != want {
		t.Fatalf("rendered %d samples, want %d", got, want)
	}
	segment := func(i int) []float32 {
		return samples[i*framesPerBeat*2 : (i+1)*framesPerBeat*2]
	}
	strong := peakIn(segment(0))
	for i := 1; i < beats; i++ {
		weak := peakIn(segment(i))
		if weak <= 0 {
			t.Fatalf("beat %d is silent", i+1)
		}
		if strong <= weak {
			t.Errorf("downbeat peak %v not above beat %d peak %v", strong, i+1, weak)
		}
	}
}

func TestEncodeWAVFloat32LE(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	wav := EncodeWAVFloat32LE(samples, 48000, 2)
	if got, want := len(wav), 44+len(samples)*4; got != want {
		t.Fatalf("wav length = %d, want %d", got, want)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint16(wav[20:]); got != 3 {
		t.Errorf("format tag = %d, want 3 (IEEE float)", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 48000 {
		t.Errorf("sample rate = %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != uint32(len(samples)*4) {
		t.Errorf("data size = %d, want %d", got, len(samples)*4)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(wav[48:])); got != 0.5 {
		t.Errorf("second sample = %v, want 0.5", got)
	}
}
