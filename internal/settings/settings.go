// Package settings is the in-memory preference store the core reads
// its tunables from. It is an explicit, constructed object rather than
// a process-wide singleton so tests get isolated stores and
// deterministic teardown. Persistence is the embedding app's concern.
package settings

import "sync"

// Well-known keys.
const (
	KeyReferencePitch = "tuning.referencePitch" // A4, Hz
	KeyTranspose      = "tuning.transpose"      // semitones
	KeyTuningCents    = "tuning.cents"          // cents
)

// TrackBPMKey returns the tempo key for a named track.
func TrackBPMKey(track string) string { return "track." + track + ".bpm" }

// TrackBeatsKey returns the beats-per-measure key for a named track.
func TrackBeatsKey(track string) string { return "track." + track + ".beatsPerMeasure" }

// TrackOffsetKey returns the millisecond offset key for one feedback
// channel of a named track.
func TrackOffsetKey(track, channel string) string {
	return "track." + track + ".offset." + channel
}

// Store holds integer and float preferences behind a lock. The zero
// value is not usable; construct with NewStore.
type Store struct {
	mu     sync.RWMutex
	ints   map[string]int
	floats map[string]float64
}

// NewStore returns a store seeded with the core's defaults.
func NewStore() *Store {
	s := &Store{
		ints:   make(map[string]int),
		floats: make(map[string]float64),
	}
	s.floats[KeyReferencePitch] = 440
	s.ints[KeyTranspose] = 0
	s.ints[KeyTuningCents] = 0
	return s
}

// Int returns the stored value for key, or def when unset.
func (s *Store) Int(key string, def int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.ints[key]; ok {
		return v
	}
	return def
}

// SetInt stores an integer value.
func (s *Store) SetInt(key string, v int) {
	s.mu.Lock()
	s.ints[key] = v
	s.mu.Unlock()
}

// Float returns the stored value for key, or def when unset.
func (s *Store) Float(key string, def float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.floats[key]; ok {
		return v
	}
	return def
}

// SetFloat stores a float value.
func (s *Store) SetFloat(key string, v float64) {
	s.mu.Lock()
	s.floats[key] = v
	s.mu.Unlock()
}
