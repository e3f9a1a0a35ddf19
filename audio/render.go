package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// Render pulls seconds of audio out of an offline engine and writes it to w
// as 16-bit stereo WAV. tick runs before every chunk the encoder asks for,
// standing in for the scheduler's polling timer.
func (e *Engine) Render(w io.WriteSeeker, seconds float64, tick func()) error {
	e.mu.Lock()
	live := e.live
	e.mu.Unlock()
	if live {
		return fmt.Errorf("render needs an engine without speaker output")
	}
	remaining := e.sr.N(time.Duration(seconds * float64(time.Second)))

	src := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if remaining <= 0 {
			return 0, false
		}
		if len(samples) > remaining {
			samples = samples[:remaining]
		}
		if tick != nil {
			tick()
		}
		n, _ := e.mixer.Stream(samples)
		remaining -= n
		return n, true
	})

	format := beep.Format{SampleRate: e.sr, NumChannels: 2, Precision: 2}
	if err := wav.Encode(w, src, format); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return nil
}
