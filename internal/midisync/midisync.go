// Package midisync mirrors metronome pulses onto a MIDI output so
// external gear can follow the transport. Downbeats and inner beats
// go out as short notes on channel 10; transport start and stop go
// out as realtime Start/Stop.
package midisync

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

const (
	channel   = 9 // channel 10, the GM percussion channel
	strongKey = 76
	weakKey   = 77
	velocity  = 100
)

// Sink sends beat pulses as MIDI messages. It satisfies the click
// half of the track dispatch interface; the non-sound channels are
// no-ops here.
type Sink struct {
	mu   sync.Mutex
	send func(gomidi.Message) error
	err  error
}

// New returns a sink writing through the given sender, usually from
// gomidi.SendTo.
func New(send func(gomidi.Message) error) *Sink {
	return &Sink{send: send}
}

// Open connects to the named output port. An empty name picks the
// first available port.
func Open(portName string) (*Sink, error) {
	var (
		out drivers.Out
		err error
	)
	if portName == "" {
		outs := gomidi.GetOutPorts()
		if len(outs) == 0 {
			return nil, fmt.Errorf("midisync: no output ports")
		}
		out = outs[0]
	} else {
		out, err = gomidi.FindOutPort(portName)
		if err != nil {
			return nil, fmt.Errorf("midisync: %w", err)
		}
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("midisync: open %s: %w", out.String(), err)
	}
	return New(send), nil
}

// Start announces transport start to followers.
func (s *Sink) Start() {
	s.emit(gomidi.Start())
}

// Stop announces transport stop.
func (s *Sink) Stop() {
	s.emit(gomidi.Stop())
}

// Click sends a note pulse, the strong key on downbeats.
func (s *Sink) Click(track string, strong bool) {
	key := uint8(weakKey)
	if strong {
		key = strongKey
	}
	s.emit(gomidi.NoteOn(channel, key, velocity))
	s.emit(gomidi.NoteOff(channel, key))
}

func (s *Sink) Haptic(track string, strong bool)  {}
func (s *Sink) Vibrate(track string, strong bool) {}
func (s *Sink) Flash(track string, strong bool)   {}

// Err returns the first send failure, if any. Sends keep being
// attempted after a failure; a flaky port may recover.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Sink) emit(msg gomidi.Message) {
	if err := s.send(msg); err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
}
