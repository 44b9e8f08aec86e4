// Command rissetwav renders Shepard–Risset material to a WAV file
// without opening an audio device: a held tone, a glissando, or a
// click track.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"shepbeat"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		kind       = flag.String("kind", "glissando", "what to render: tone|glissando|metronome")
		seconds    = flag.Float64("seconds", 10, "render length for tone and glissando")
		fromPitch  = flag.Float64("from", 0, "start pitch class in semitones")
		toPitch    = flag.Float64("to", 24, "end pitch class in semitones (glissando)")
		gain       = flag.Float64("gain", 0.5, "voice gain")
		tempo      = flag.Int("tempo", 120, "metronome tempo in BPM")
		beats      = flag.Int("beats", 4, "metronome beats per measure")
		measures   = flag.Int("measures", 4, "metronome measures to render")
		outPath    = flag.String("o", "out.wav", "output file")
	)
	flag.Parse()

	var (
		samples []float32
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(*kind)) {
	case "tone":
		samples, err = shepbeat.RenderVoiceSamples(*sampleRate, *seconds, *fromPitch, *gain)
	case "glissando":
		samples, err = shepbeat.RenderGlissandoSamples(*sampleRate, *seconds, *fromPitch, *toPitch, *gain)
	case "metronome":
		samples = shepbeat.RenderMetronomeSamples(*sampleRate, *tempo, *beats, *measures)
	default:
		err = fmt.Errorf("invalid -kind %q (expected tone|glissando|metronome)", *kind)
	}
	if err != nil {
		log.Fatal(err)
	}

	wav := shepbeat.EncodeWAVFloat32LE(samples, *sampleRate, 2)
	if err := os.WriteFile(*outPath, wav, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s (%.1fs at %d Hz)\n", *outPath, float64(len(samples)/2)/float64(*sampleRate), *sampleRate)
}
