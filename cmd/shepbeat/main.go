// Command shepbeat runs the metronome in the terminal: audio clicks
// through the speaker, beat display in the TUI, and optional MIDI
// sync for external gear.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"shepbeat"
	"shepbeat/internal/midisync"
	"shepbeat/internal/track"
)

const trackName = "metronome"

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		tempo      = flag.Int("tempo", 120, "initial tempo in BPM")
		beats      = flag.Int("beats", 4, "beats per measure")
		midiPort   = flag.String("midi", "", "MIDI output port for sync (\"first\" = first available)")
	)
	flag.Parse()

	opts := []shepbeat.Option{
		shepbeat.WithSampleRate(*sampleRate),
		shepbeat.WithTracks(trackName),
	}
	var midi *midisync.Sink
	if *midiPort != "" {
		name := *midiPort
		if name == "first" {
			name = ""
		}
		sink, err := midisync.Open(name)
		if err != nil {
			log.Fatal(err)
		}
		midi = sink
		opts = append(opts, shepbeat.WithSink(sink))
	}

	app, err := shepbeat.New(opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	if err := app.SetTempo(trackName, *tempo); err != nil {
		log.Fatal(err)
	}
	if err := app.SetBeatsPerMeasure(trackName, *beats); err != nil {
		log.Fatal(err)
	}

	if _, err := tea.NewProgram(newModel(app, midi)).Run(); err != nil {
		log.Fatal(err)
	}
}

type beatMsg track.Event

type model struct {
	app      *shepbeat.App
	midi     *midisync.Sink
	events   <-chan track.Event
	lastBeat int
	quitting bool
}

func newModel(app *shepbeat.App, midi *midisync.Sink) model {
	return model{
		app:    app,
		midi:   midi,
		events: app.Watch(),
	}
}

func listenBeats(events <-chan track.Event) tea.Cmd {
	return func() tea.Msg {
		return beatMsg(<-events)
	}
}

func (m model) Init() tea.Cmd {
	return listenBeats(m.events)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.stopTransport()
			return m, tea.Quit

		case " ":
			if m.app.TrackRunning(trackName) {
				m.stopTransport()
				m.lastBeat = 0
			} else {
				if err := m.app.StartTrack(trackName); err == nil && m.midi != nil {
					m.midi.Start()
				}
			}

		case "up", "+", "=":
			m.app.SetTempo(trackName, m.app.Tempo(trackName)+5)

		case "down", "-", "_":
			m.app.SetTempo(trackName, m.app.Tempo(trackName)-5)

		case "right":
			m.app.SetBeatsPerMeasure(trackName, m.app.BeatsPerMeasure(trackName)+1)

		case "left":
			m.app.SetBeatsPerMeasure(trackName, m.app.BeatsPerMeasure(trackName)-1)

		case "t":
			m.app.Tap(trackName)

		case "m":
			m.app.SetMuted(trackName, !m.app.Muted(trackName))
		}

	case beatMsg:
		if !msg.Pre {
			m.lastBeat = msg.Beat
		}
		return m, listenBeats(m.events)
	}

	return m, nil
}

func (m *model) stopTransport() {
	if m.app.TrackRunning(trackName) {
		m.app.StopTrack(trackName)
		if m.midi != nil {
			m.midi.Stop()
		}
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	accent := lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	down := lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)

	state := "STOP"
	if m.app.TrackRunning(trackName) {
		state = "PLAY"
	}
	if m.app.Muted(trackName) {
		state += " MUTE"
	}
	header := accent.Render(fmt.Sprintf("shepbeat  %s  %3d bpm  %d/4", state, m.app.Tempo(trackName), m.app.BeatsPerMeasure(trackName)))

	var dots strings.Builder
	for i := 1; i <= m.app.BeatsPerMeasure(trackName); i++ {
		mark := "○"
		if i == m.lastBeat {
			mark = "●"
		}
		if i == 1 && i == m.lastBeat {
			dots.WriteString(down.Render(mark))
		} else {
			dots.WriteString(mark)
		}
		dots.WriteString(" ")
	}

	help := dim.Render("space:start/stop  up/down:tempo  left/right:beats  t:tap  m:mute  q:quit")

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n  ")
	out.WriteString(dots.String())
	out.WriteString("\n\n")
	out.WriteString(help)
	out.WriteString("\n")
	return out.String()
}
