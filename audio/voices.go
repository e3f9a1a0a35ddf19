package audio

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

// NoiseBuffer returns d of uniform white noise in [-1, 1].
func NoiseBuffer(sr beep.SampleRate, d time.Duration, rng *rand.Rand) []float64 {
	buf := make([]float64, sr.N(d))
	for i := range buf {
		buf[i] = rng.Float64()*2 - 1
	}
	return buf
}

// expRamp moves from a to b exponentially over dur seconds, then holds b.
func expRamp(a, b, t, dur float64) float64 {
	if t >= dur {
		return b
	}
	return a * math.Pow(b/a, t/dur)
}

// linRamp moves from a to b linearly over dur seconds, then holds b.
func linRamp(a, b, t, dur float64) float64 {
	if t >= dur {
		return b
	}
	return a + (b-a)*t/dur
}

func square(phase float64) float64 {
	if phase < 0.5 {
		return 1
	}
	return -1
}

// tone is a fixed-length mono streamer; next is called once per frame with
// the time since the start.
type tone struct {
	sr     float64
	pos    int
	length int
	next   func(t float64) float64
}

func newTone(sr beep.SampleRate, d time.Duration, next func(t float64) float64) *tone {
	return &tone{sr: float64(sr), length: sr.N(d), next: next}
}

func (t *tone) Stream(samples [][2]float64) (n int, ok bool) {
	if t.pos >= t.length {
		return 0, false
	}
	for i := range samples {
		if t.pos >= t.length {
			break
		}
		v := t.next(float64(t.pos) / t.sr)
		samples[i] = [2]float64{v, v}
		t.pos++
		n++
	}
	return n, true
}

func (t *tone) Err() error {
	return nil
}

// KickStream is a square wave dropping from 120Hz to 50Hz in 50ms with a
// 150ms exponential decay.
func KickStream(sr beep.SampleRate) beep.Streamer {
	phase := 0.0
	return newTone(sr, 150*time.Millisecond, func(t float64) float64 {
		v := square(phase) * expRamp(0.8, 0.001, t, 0.15)
		_, phase = math.Modf(phase + expRamp(120, 50, t, 0.05)/float64(sr))
		return v
	})
}

// HiHatStream is noise through a 6kHz high-pass with a 50ms decay.
func HiHatStream(sr beep.SampleRate, noise []float64) beep.Streamer {
	hp := newHighPass(float64(sr), 6000, 1)
	i := 0
	return newTone(sr, 50*time.Millisecond, func(t float64) float64 {
		var x float64
		if len(noise) > 0 {
			x = noise[i%len(noise)]
		}
		i++
		return hp.process(x) * expRamp(0.15, 0.001, t, 0.05)
	})
}

// BassStream is a square wave at freq held at 0.3 for 10ms, then fading
// linearly to 0.001 at 150ms.
func BassStream(sr beep.SampleRate, freq float64) beep.Streamer {
	phase := 0.0
	return newTone(sr, 150*time.Millisecond, func(t float64) float64 {
		gain := 0.3
		if t > 0.01 {
			gain = linRamp(0.3, 0.001, t-0.01, 0.14)
		}
		v := square(phase) * gain
		_, phase = math.Modf(phase + freq/float64(sr))
		return v
	})
}

// highPass is an RBJ biquad high-pass filter.
type highPass struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func newHighPass(sr, cutoff, q float64) *highPass {
	w0 := 2 * math.Pi * cutoff / sr
	cos := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha
	return &highPass{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *highPass) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Voice schedules a freshly built streamer on the engine for every trigger.
type Voice struct {
	engine *Engine
	name   string
	build  func() beep.Streamer
}

func (v *Voice) Trigger(at float64) error {
	if err := v.engine.Schedule(at, v.build()); err != nil {
		return fmt.Errorf("%s: %w", v.name, err)
	}
	return nil
}

func (e *Engine) KickVoice() *Voice {
	return &Voice{engine: e, name: "kick", build: func() beep.Streamer { return KickStream(e.sr) }}
}

func (e *Engine) HiHatVoice() *Voice {
	return &Voice{engine: e, name: "hihat", build: func() beep.Streamer { return HiHatStream(e.sr, e.noise) }}
}

// BassVoice plays freq Hz; zero picks E1.
func (e *Engine) BassVoice(freq float64) *Voice {
	if freq <= 0 {
		freq = 41.20
	}
	return &Voice{engine: e, name: "bass", build: func() beep.Streamer { return BassStream(e.sr, freq) }}
}

// SampleVoice plays buf at volume (1 is unity gain).
func (e *Engine) SampleVoice(name string, buf *beep.Buffer, volume float64) *Voice {
	if volume <= 0 {
		volume = 1
	}
	return &Voice{engine: e, name: name, build: func() beep.Streamer {
		return &effects.Gain{Streamer: buf.Streamer(0, buf.Len()), Gain: volume - 1}
	}}
}
