package sequencer

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceUnavailable is returned by Start when the audio context
	// cannot be created.
	ErrResourceUnavailable = errors.New("audio context unavailable")

	// ErrInvalidTempo is returned by SetTempo for non-positive or non-finite
	// values. The previous tempo is kept.
	ErrInvalidTempo = errors.New("invalid tempo")

	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrBusy is returned by Toggle while a previous toggle is still
	// resuming the audio context.
	ErrBusy = errors.New("transport toggle in progress")

	ErrWindowTooShort = errors.New("schedule-ahead window must exceed the polling interval")
)

// VoiceError records a failed trigger. It is logged, never returned from Tick.
type VoiceError struct {
	Instrument string
	Step       int
	Time       float64
	Err        error
}

func (e *VoiceError) Error() string {
	return fmt.Sprintf("voice %s step %d at %.4fs: %v", e.Instrument, e.Step, e.Time, e.Err)
}

func (e *VoiceError) Unwrap() error {
	return e.Err
}
