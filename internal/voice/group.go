package voice

import "fmt"

// Quality selects the interval set a touch group sounds. Melody mode
// sounds the root alone; the chord modes stack triad intervals, each
// interval its own full Shepard voice.
type Quality int

const (
	QualityMelody Quality = iota
	QualityMajor
	QualityMinor
	QualityDiminished
	QualityAugmented
)

func (q Quality) String() string {
	switch q {
	case QualityMelody:
		return "melody"
	case QualityMajor:
		return "major"
	case QualityMinor:
		return "minor"
	case QualityDiminished:
		return "diminished"
	case QualityAugmented:
		return "augmented"
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// Intervals returns the semitone offsets above the root, root first.
func (q Quality) Intervals() []int {
	switch q {
	case QualityMajor:
		return []int{0, 4, 7}
	case QualityMinor:
		return []int{0, 3, 7}
	case QualityDiminished:
		return []int{0, 3, 6}
	case QualityAugmented:
		return []int{0, 4, 8}
	}
	return []int{0}
}

// Group is the set of voices owned by one touch pointer. All voices
// retune together, keeping the chord's interval structure intact
// through a glide.
type Group struct {
	root    float64
	quality Quality
	voices  []*Voice
}

// Root returns the group's current root pitch class in semitones.
func (g *Group) Root() float64 { return g.root }

// StartGroup begins one voice per interval of the quality, all rooted
// at the given pitch class, and registers the set under the pointer
// id. Allocation is all-or-nothing across the whole group: if any
// voice fails, the ones already sounding are stopped and no group is
// registered. A live group under the same id is released first.
func (e *Engine) StartGroup(pointerID int, root, gain float64, q Quality, transpose, tuningCents float64) (*Group, error) {
	e.mu.Lock()
	prev := e.groups[pointerID]
	delete(e.groups, pointerID)
	e.mu.Unlock()
	if prev != nil {
		e.releaseGroup(prev)
	}

	g := &Group{root: root, quality: q}
	for _, iv := range q.Intervals() {
		v, err := e.StartVoice(root+float64(iv), gain, transpose, tuningCents)
		if err != nil {
			e.releaseGroup(g)
			return nil, fmt.Errorf("voice: group %s interval %d: %w", q, iv, err)
		}
		g.voices = append(g.voices, v)
	}

	e.mu.Lock()
	e.groups[pointerID] = g
	e.mu.Unlock()
	return g, nil
}

// MoveGroup glides every voice of the pointer's group to a new root.
// Unknown pointer ids are ignored; a move can race a lift.
func (e *Engine) MoveGroup(pointerID int, root, transpose, tuningCents float64) {
	e.mu.Lock()
	g := e.groups[pointerID]
	if g != nil {
		g.root = root
	}
	e.mu.Unlock()
	if g == nil {
		return
	}
	ivs := g.quality.Intervals()
	for i, v := range g.voices {
		e.UpdateFrequencies(v, root+float64(ivs[i]), transpose, tuningCents)
	}
}

// ReleaseGroup fades out and drops the pointer's group.
func (e *Engine) ReleaseGroup(pointerID int) {
	e.mu.Lock()
	g := e.groups[pointerID]
	delete(e.groups, pointerID)
	e.mu.Unlock()
	if g != nil {
		e.releaseGroup(g)
	}
}

// ReleaseAll fades out every live group. Used on teardown and when
// the host app loses audio focus.
func (e *Engine) ReleaseAll() {
	e.mu.Lock()
	gs := make([]*Group, 0, len(e.groups))
	for _, g := range e.groups {
		gs = append(gs, g)
	}
	e.groups = make(map[int]*Group)
	e.mu.Unlock()
	for _, g := range gs {
		e.releaseGroup(g)
	}
}

// RetuneAll reapplies transpose and fine tuning to every live group
// at its current root. Called when a tuning preference changes while
// voices are sounding.
func (e *Engine) RetuneAll(transpose, tuningCents float64) {
	type entry struct {
		id   int
		root float64
	}
	e.mu.Lock()
	entries := make([]entry, 0, len(e.groups))
	for id, g := range e.groups {
		entries = append(entries, entry{id, g.root})
	}
	e.mu.Unlock()
	for _, en := range entries {
		e.MoveGroup(en.id, en.root, transpose, tuningCents)
	}
}

// ActiveGroups returns how many pointer groups are live.
func (e *Engine) ActiveGroups() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.groups)
}

func (e *Engine) releaseGroup(g *Group) {
	for _, v := range g.voices {
		e.Stop(v)
	}
}
