package shepbeat

import (
	"encoding/binary"
	"math"

	"shepbeat/internal/audio"
	"shepbeat/internal/beat"
	"shepbeat/internal/clock"
	"shepbeat/internal/voice"
)

// RenderVoiceSamples renders a held Shepard voice offline, stereo
// interleaved float32.
func RenderVoiceSamples(sampleRate int, seconds, pitchClass, gain float64) ([]float32, error) {
	mixer := audio.NewMixer(sampleRate)
	engine := voice.NewEngine(mixer, clock.System())
	if _, err := engine.StartVoice(pitchClass, gain, 0, 0); err != nil {
		return nil, err
	}
	frames := int(float64(sampleRate) * seconds)
	out := make([]float32, frames*2)
	mixer.Process(out)
	return out, nil
}

// RenderGlissandoSamples renders a Shepard voice gliding linearly
// from one pitch class to another. The glide retunes once per block,
// fine enough that the steps sit below pitch discrimination at any
// usable rate.
func RenderGlissandoSamples(sampleRate int, seconds, fromPitch, toPitch, gain float64) ([]float32, error) {
	mixer := audio.NewMixer(sampleRate)
	engine := voice.NewEngine(mixer, clock.System())
	v, err := engine.StartVoice(fromPitch, gain, 0, 0)
	if err != nil {
		return nil, err
	}
	const blockFrames = 256
	frames := int(float64(sampleRate) * seconds)
	out := make([]float32, frames*2)
	for off := 0; off < frames; off += blockFrames {
		n := blockFrames
		if off+n > frames {
			n = frames - off
		}
		progress := float64(off) / float64(frames)
		engine.UpdateFrequencies(v, fromPitch+(toPitch-fromPitch)*progress, 0, 0)
		mixer.Process(out[off*2 : (off+n)*2])
	}
	return out, nil
}

// RenderMetronomeSamples renders whole measures of click track,
// stereo interleaved float32. The first beat of each measure gets the
// strong click.
func RenderMetronomeSamples(sampleRate, bpm, beatsPerMeasure, measures int) []float32 {
	interval := beat.IntervalMicros(bpm)
	framesPerBeat := int(float64(sampleRate) * float64(interval) / 1e6)
	total := framesPerBeat * beatsPerMeasure * measures
	out := make([]float32, total*2)
	mixer := audio.NewMixer(sampleRate)
	for i := 0; i < beatsPerMeasure*measures; i++ {
		mixer.PlayClick(i%beatsPerMeasure == 0)
		off := i * framesPerBeat
		mixer.Process(out[off*2 : (off+framesPerBeat)*2])
	}
	return out
}

// EncodeWAVFloat32LE wraps raw float32 samples in a WAV container
// (format 3, IEEE float).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
