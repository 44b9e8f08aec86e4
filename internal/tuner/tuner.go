// Package tuner estimates the fundamental pitch of a mono input
// frame. Detection is harmonic product spectrum over an FFT: the
// magnitude spectrum is multiplied with itself downsampled at each
// harmonic, which pushes the product's peak onto the fundamental even
// when an overtone carries more energy.
package tuner

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/ktye/fft"
)

const (
	numHarmonics = 5

	// Spectral peaks below this share of total magnitude are treated
	// as noise, not pitch.
	minConfidence = 0.1

	minFrequencyHz = 30.0
)

// Result is one pitch estimate. Confidence is the detected peak's
// share of spectral magnitude in (0, 1].
type Result struct {
	FrequencyHz float64
	Confidence  float64
}

// Analyzer holds the FFT plan and scratch buffers for a fixed frame
// size. Not safe for concurrent use; give each goroutine its own.
type Analyzer struct {
	sampleRate int
	size       int
	fft        fft.FFT
	window     []float64
	frame      []complex128
	mag        []float64
	hps        []float64
}

// NewAnalyzer returns an analyzer for frames of the given power-of-two
// size.
func NewAnalyzer(sampleRate, size int) (*Analyzer, error) {
	if sampleRate <= 0 {
		return nil, errors.New("tuner: sample rate must be positive")
	}
	f, err := fft.New(size)
	if err != nil {
		return nil, err
	}
	window := make([]float64, size)
	for i := range window {
		window[i] = (1 - math.Cos(2*math.Pi*float64(i)/float64(size))) / 2
	}
	return &Analyzer{
		sampleRate: sampleRate,
		size:       size,
		fft:        f,
		window:     window,
		frame:      make([]complex128, size),
		mag:        make([]float64, size/2),
		hps:        make([]float64, size/2/numHarmonics),
	}, nil
}

// Analyze estimates the pitch of one frame of len == size mono
// samples. It returns false when the frame is silence or no harmonic
// peak clears the confidence floor.
func (a *Analyzer) Analyze(samples []float64) (Result, bool) {
	if len(samples) != a.size {
		return Result{}, false
	}
	for i, s := range samples {
		a.frame[i] = complex(s*a.window[i], 0)
	}
	spec := a.fft.Transform(a.frame)

	var total float64
	for i := range a.mag {
		a.mag[i] = cmplx.Abs(spec[i])
		total += a.mag[i]
	}
	if total == 0 {
		return Result{}, false
	}

	for i := range a.hps {
		p := a.mag[i]
		for h := 2; h <= numHarmonics; h++ {
			p *= a.mag[i*h]
		}
		a.hps[i] = p
	}

	minBin := int(minFrequencyHz * float64(a.size) / float64(a.sampleRate))
	if minBin < 1 {
		minBin = 1
	}
	best, bestVal := 0, 0.0
	for i := minBin; i < len(a.hps); i++ {
		if a.hps[i] > bestVal {
			best, bestVal = i, a.hps[i]
		}
	}
	if best == 0 {
		return Result{}, false
	}

	confidence := a.mag[best] / total
	if confidence < minConfidence {
		return Result{}, false
	}

	// Parabolic interpolation around the winning bin sharpens the
	// estimate well below bin resolution.
	freq := (float64(best) + binOffset(a.mag, best)) * float64(a.sampleRate) / float64(a.size)
	return Result{FrequencyHz: freq, Confidence: confidence}, true
}

func binOffset(mag []float64, i int) float64 {
	if i <= 0 || i+1 >= len(mag) {
		return 0
	}
	l, c, r := mag[i-1], mag[i], mag[i+1]
	den := l - 2*c + r
	if den == 0 {
		return 0
	}
	off := 0.5 * (l - r) / den
	if off < -0.5 || off > 0.5 {
		return 0
	}
	return off
}

// CentsOff returns how far freq sits from the nearest equal-tempered
// pitch under the given A4 reference, in cents, along with that
// pitch's MIDI note number.
func CentsOff(freq, referencePitch float64) (note int, cents float64) {
	if freq <= 0 || referencePitch <= 0 {
		return 0, 0
	}
	semis := 12*math.Log2(freq/referencePitch) + 69
	note = int(math.Round(semis))
	cents = (semis - float64(note)) * 100
	return note, cents
}
