package sequencer

import (
	"math"
	"sync/atomic"
)

// SixteenthDuration is the length of one step in seconds at bpm.
func SixteenthDuration(bpm float64) float64 {
	return 60.0 / bpm / 4
}

// ValidTempo reports whether bpm is positive and finite.
func ValidTempo(bpm float64) bool {
	return bpm > 0 && !math.IsInf(bpm, 0) && !math.IsNaN(bpm)
}

// Transport is the playback cursor of one scheduler. Step, NextTime and
// Playing belong to the scheduling loop; tempo may be written from anywhere.
type Transport struct {
	Step     int     // next step to dispatch, 0..NumSteps-1
	NextTime float64 // audio-clock time of Step, seconds
	Playing  bool

	tempo atomic.Uint64 // math.Float64bits
}

// Tempo returns the current tempo in BPM.
func (t *Transport) Tempo() float64 {
	return math.Float64frombits(t.tempo.Load())
}

// SetTempo stores bpm. Already computed step times are left alone.
func (t *Transport) SetTempo(bpm float64) error {
	if !ValidTempo(bpm) {
		return ErrInvalidTempo
	}
	t.tempo.Store(math.Float64bits(bpm))
	return nil
}

// reset puts the cursor on step 0, offset seconds after now.
func (t *Transport) reset(now, offset float64) {
	t.Step = 0
	t.NextTime = now + offset
	t.Playing = true
}

func (t *Transport) clear() {
	t.Step = 0
	t.NextTime = 0
	t.Playing = false
}

// advance moves to the next step. The interval is computed from the tempo
// at this moment, so a tempo change lands on the very next step.
func (t *Transport) advance() {
	t.NextTime += SixteenthDuration(t.Tempo())
	t.Step = (t.Step + 1) % NumSteps
}
