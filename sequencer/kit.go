package sequencer

import (
	"fmt"
	"sync/atomic"
)

// NumSteps is the pattern length: sixteen sixteenth notes, one 4/4 bar.
const NumSteps = 16

// Pattern is the hit mask of one instrument, indexed by step.
type Pattern [NumSteps]bool

// ParsePattern converts a 0/1 step list into a Pattern.
func ParsePattern(steps []int) (Pattern, error) {
	var p Pattern
	if len(steps) != NumSteps {
		return p, fmt.Errorf("pattern has %d steps, want %d", len(steps), NumSteps)
	}
	for i, v := range steps {
		switch v {
		case 0:
		case 1:
			p[i] = true
		default:
			return p, fmt.Errorf("step %d: value %d is not 0 or 1", i, v)
		}
	}
	return p, nil
}

// Hit reports whether the pattern fires on step, which wraps modulo NumSteps.
func (p Pattern) Hit(step int) bool {
	step %= NumSteps
	if step < 0 {
		step += NumSteps
	}
	return p[step]
}

// String renders the pattern as x and . characters.
func (p Pattern) String() string {
	b := make([]byte, NumSteps)
	for i, hit := range p {
		if hit {
			b[i] = 'x'
		} else {
			b[i] = '.'
		}
	}
	return string(b)
}

// Voice produces a sound starting at an audio-clock time in seconds.
// Trigger must not block. It runs under the scheduler lock, so it may only
// call Scheduler methods that do not take it (SetTempo, SetEnabled).
type Voice interface {
	Trigger(at float64) error
}

// VoiceFunc adapts a function to the Voice interface.
type VoiceFunc func(at float64) error

func (f VoiceFunc) Trigger(at float64) error {
	return f(at)
}

// Instrument binds a pattern to a voice. The pattern and voice are fixed at
// setup; only the enabled flag changes while playing.
type Instrument struct {
	Name    string
	Pattern Pattern

	voice   Voice
	enabled atomic.Bool
}

func (i *Instrument) Enabled() bool {
	return i.enabled.Load()
}

func (i *Instrument) SetEnabled(on bool) {
	i.enabled.Store(on)
}

// HasVoice reports whether a voice is bound. Instruments whose sample failed
// to load stay in the kit but never sound.
func (i *Instrument) HasVoice() bool {
	return i.voice != nil
}

// trigger calls the voice and turns a panic into an error so one broken
// voice cannot take down the scheduling loop.
func (i *Instrument) trigger(at float64) (err error) {
	if i.voice == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("voice panicked: %v", r)
		}
	}()
	return i.voice.Trigger(at)
}

// Kit is the pattern store: an ordered set of instruments.
type Kit struct {
	instruments []*Instrument
	byName      map[string]*Instrument
}

func NewKit() *Kit {
	return &Kit{byName: make(map[string]*Instrument)}
}

// Add registers an instrument, enabled. It must be called before playback
// starts. A nil voice is allowed.
func (k *Kit) Add(name string, pattern Pattern, voice Voice) (*Instrument, error) {
	if name == "" {
		return nil, fmt.Errorf("instrument name is empty")
	}
	if _, ok := k.byName[name]; ok {
		return nil, fmt.Errorf("duplicate instrument %q", name)
	}
	inst := &Instrument{Name: name, Pattern: pattern, voice: voice}
	inst.enabled.Store(true)
	k.instruments = append(k.instruments, inst)
	k.byName[name] = inst
	return inst, nil
}

// Instruments returns the instruments in dispatch order.
func (k *Kit) Instruments() []*Instrument {
	return k.instruments
}

func (k *Kit) Len() int {
	return len(k.instruments)
}

// Get looks up an instrument by name.
func (k *Kit) Get(name string) (*Instrument, bool) {
	inst, ok := k.byName[name]
	return inst, ok
}

// SetEnabled flips one instrument's flag. Safe to call while playing.
func (k *Kit) SetEnabled(name string, on bool) error {
	inst, ok := k.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInstrument, name)
	}
	inst.SetEnabled(on)
	return nil
}

// Toggle inverts the flag of the instrument at idx and returns the new value.
func (k *Kit) Toggle(idx int) (string, bool, error) {
	if idx < 0 || idx >= len(k.instruments) {
		return "", false, fmt.Errorf("%w: index %d", ErrUnknownInstrument, idx)
	}
	inst := k.instruments[idx]
	for {
		cur := inst.enabled.Load()
		if inst.enabled.CompareAndSwap(cur, !cur) {
			return inst.Name, !cur, nil
		}
	}
}
