package shepbeat

import (
	"math"
	"sync"
	"testing"
	"time"

	"shepbeat/internal/clock"
	"shepbeat/internal/settings"
	"shepbeat/internal/track"
	"shepbeat/internal/voice"
)

type stubOsc struct {
	mu   sync.Mutex
	freq float64
}

func (o *stubOsc) Play(v float64) error { return nil }
func (o *stubOsc) SetFrequency(hz float64) {
	o.mu.Lock()
	o.freq = hz
	o.mu.Unlock()
}
func (o *stubOsc) SetVolume(v float64)                   {}
func (o *stubOsc) FadeVolume(v float64, d time.Duration) {}
func (o *stubOsc) Stop()                                 {}
func (o *stubOsc) Dispose() error                        { return nil }

func (o *stubOsc) frequency() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.freq
}

type stubRenderer struct {
	mu   sync.Mutex
	oscs []*stubOsc
}

func (r *stubRenderer) NewOscillator(w voice.Waveform, freqHz float64) (voice.Oscillator, error) {
	o := &stubOsc{freq: freqHz}
	r.mu.Lock()
	r.oscs = append(r.oscs, o)
	r.mu.Unlock()
	return o, nil
}

func (r *stubRenderer) first() *stubOsc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oscs[0]
}

func newTestApp(t *testing.T, opts ...Option) (*App, *stubRenderer) {
	t.Helper()
	r := &stubRenderer{}
	app, err := New(append([]Option{
		WithClock(clock.NewSim(25)),
		WithRenderer(r),
		WithLosslessEvents(),
	}, opts...)...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app, r
}

func waitVoices(t *testing.T, app *App, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.ActiveVoices() == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("active voices = %d, want %d", app.ActiveVoices(), n)
}

func TestTouchLifecycle(t *testing.T) {
	app, _ := newTestApp(t)
	if err := app.TouchDown(1, 0, 0.5); err != nil {
		t.Fatalf("touch down: %v", err)
	}
	if got := app.ActiveVoices(); got != 1 {
		t.Fatalf("melody touch started %d voices, want 1", got)
	}

	app.SetChordQuality(voice.QualityMajor)
	if err := app.TouchDown(2, 4, 0.5); err != nil {
		t.Fatalf("second touch down: %v", err)
	}
	if got := app.ActiveVoices(); got != 4 {
		t.Fatalf("active voices = %d, want 4 (melody + major triad)", got)
	}

	app.TouchMove(2, 5)
	app.TouchUp(2)
	waitVoices(t, app, 1)
	app.TouchUp(1)
	waitVoices(t, app, 0)
}

func TestTransposeRetunesLiveVoices(t *testing.T) {
	app, r := newTestApp(t)
	if err := app.TouchDown(1, 0, 0.5); err != nil {
		t.Fatalf("touch down: %v", err)
	}
	before := r.first().frequency()
	app.SetTranspose(2)
	after := r.first().frequency()
	want := before * math.Exp2(2.0/12)
	if math.Abs(after-want) > 1e-9 {
		t.Errorf("layer 0 freq after transpose = %v, want %v", after, want)
	}
	if got := app.Transpose(); got != 2 {
		t.Errorf("transpose = %d, want 2", got)
	}
}

func TestTransposeClamped(t *testing.T) {
	app, _ := newTestApp(t)
	app.SetTranspose(99)
	if got := app.Transpose(); got != maxTranspose {
		t.Errorf("transpose = %d, want clamp to %d", got, maxTranspose)
	}
	app.SetTuningCents(-500)
	if got := app.TuningCents(); got != minCents {
		t.Errorf("cents = %d, want clamp to %d", got, minCents)
	}
}

func TestReferencePitchPersists(t *testing.T) {
	store := settings.NewStore()
	app, _ := newTestApp(t, WithStore(store))
	app.SetReferencePitch(442)
	if got := app.ReferencePitch(); got != 442 {
		t.Errorf("reference pitch = %v, want 442", got)
	}
	if got := store.Float(settings.KeyReferencePitch, 0); got != 442 {
		t.Errorf("stored reference pitch = %v, want 442", got)
	}
}

func TestWatchDeliversBeats(t *testing.T) {
	app, _ := newTestApp(t)
	if err := app.StartTrack("inner"); err != nil {
		t.Fatalf("start: %v", err)
	}
	timeout := time.After(5 * time.Second)
	got := 0
	want := []int{1, 2, 3, 4, 1}
	for got < len(want) {
		select {
		case ev := <-app.Watch():
			if ev.Pre {
				continue
			}
			if ev.Track != "inner" {
				t.Fatalf("unexpected track %q", ev.Track)
			}
			if ev.Beat != want[got] {
				t.Fatalf("tick %d beat = %d, want %d", got, ev.Beat, want[got])
			}
			got++
		case <-timeout:
			t.Fatalf("timed out after %d ticks", got)
		}
	}
	if err := app.StopTrack("inner"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if app.TrackRunning("inner") {
		t.Fatal("track still running after stop")
	}
}

func TestFacadeDelegatesTrackSettings(t *testing.T) {
	app, _ := newTestApp(t, WithTracks("inner", "outer"))
	if got := app.Tracks(); len(got) != 2 || got[0] != "inner" {
		t.Fatalf("tracks = %v, want [inner outer]", got)
	}
	if err := app.SetTempo("outer", 140); err != nil {
		t.Fatalf("set tempo: %v", err)
	}
	if got := app.Tempo("outer"); got != 140 {
		t.Errorf("tempo = %d, want 140", got)
	}
	if err := app.SetBeatsPerMeasure("inner", 3); err != nil {
		t.Fatalf("set beats: %v", err)
	}
	if got := app.BeatsPerMeasure("inner"); got != 3 {
		t.Errorf("beats = %d, want 3", got)
	}
	if err := app.SetChannelEnabled("inner", track.ChannelHaptic, true); err != nil {
		t.Fatalf("enable channel: %v", err)
	}
	if !app.ChannelEnabled("inner", track.ChannelHaptic) {
		t.Error("haptic channel not enabled")
	}
	if err := app.SetChannelOffset("inner", track.ChannelSound, 12_000); err != nil {
		t.Fatalf("set offset: %v", err)
	}
	if got := app.ChannelOffset("inner", track.ChannelSound); got != 12_000 {
		t.Errorf("offset = %d, want 12000", got)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	type hit struct {
		ch     track.Channel
		strong bool
	}
	record := func(dst *[]hit) track.Sink {
		return sinkFuncs{
			click:   func(strong bool) { *dst = append(*dst, hit{track.ChannelSound, strong}) },
			flash:   func(strong bool) { *dst = append(*dst, hit{track.ChannelFlash, strong}) },
			haptic:  func(strong bool) { *dst = append(*dst, hit{track.ChannelHaptic, strong}) },
			vibrate: func(strong bool) { *dst = append(*dst, hit{track.ChannelVibration, strong}) },
		}
	}
	var a, b []hit
	ms := MultiSink{record(&a), record(&b)}
	ms.Click("metronome", true)
	ms.Flash("metronome", false)
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("fanout hits = %d/%d, want 2/2", len(a), len(b))
	}
	if !a[0].strong || a[1].strong {
		t.Errorf("hits = %+v, want strong click then weak flash", a)
	}
}

type sinkFuncs struct {
	click, haptic, vibrate, flash func(strong bool)
}

func (s sinkFuncs) Click(track string, strong bool)   { s.click(strong) }
func (s sinkFuncs) Haptic(track string, strong bool)  { s.haptic(strong) }
func (s sinkFuncs) Vibrate(track string, strong bool) { s.vibrate(strong) }
func (s sinkFuncs) Flash(track string, strong bool)   { s.flash(strong) }
