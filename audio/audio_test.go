package audio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

const testRate = beep.SampleRate(1000)

// constant plays value for n frames.
type constant struct {
	value float64
	n     int
}

func (c *constant) Stream(samples [][2]float64) (int, bool) {
	if c.n <= 0 {
		return 0, false
	}
	k := len(samples)
	if k > c.n {
		k = c.n
	}
	for i := 0; i < k; i++ {
		samples[i] = [2]float64{c.value, c.value}
	}
	c.n -= k
	return k, true
}

func (c *constant) Err() error { return nil }

func render(m *Mixer, frames, chunk int) []float64 {
	var out []float64
	buf := make([][2]float64, chunk)
	for len(out) < frames {
		m.Stream(buf)
		for _, s := range buf {
			out = append(out, s[0])
		}
	}
	return out[:frames]
}

func TestMixerStartsOnExactFrame(t *testing.T) {
	m := NewMixer(testRate)
	m.Schedule(100, &constant{value: 1, n: 10})
	m.Schedule(600, &constant{value: 0.5, n: 4}) // lands in the second buffer
	m.Schedule(600, &constant{value: 0.25, n: 2})

	out := render(m, 1024, 512)

	for i, v := range out {
		var want float64
		switch {
		case i >= 100 && i < 110:
			want = 1
		case i >= 600 && i < 602:
			want = 0.75
		case i >= 602 && i < 604:
			want = 0.5
		}
		if v != want {
			t.Fatalf("frame %d = %v, want %v", i, v, want)
		}
	}
	if active, waiting := m.Voices(); active != 0 || waiting != 0 {
		t.Errorf("voices left: active=%d waiting=%d", active, waiting)
	}
}

func TestMixerLateScheduleStartsImmediately(t *testing.T) {
	m := NewMixer(testRate)
	render(m, 256, 256)

	m.Schedule(10, &constant{value: 1, n: 3})
	out := render(m, 8, 8)
	want := []float64{1, 1, 1, 0, 0, 0, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("late voice output %v, want %v", out, want)
		}
	}
}

func TestMixerClock(t *testing.T) {
	m := NewMixer(testRate)
	if m.Time() != 0 {
		t.Fatalf("clock starts at %v", m.Time())
	}
	render(m, 1500, 500)
	if got := m.Time(); got != 1.5 {
		t.Errorf("clock after 1500 frames = %v, want 1.5", got)
	}
	if got := m.Frame(0.2504); got != 250 {
		t.Errorf("Frame(0.2504) = %d, want 250", got)
	}
}

func TestMixerQueueFull(t *testing.T) {
	m := NewMixer(testRate)
	for i := 0; i < inboxSize; i++ {
		if err := m.Schedule(int64(i), &constant{n: 1}); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}
	if err := m.Schedule(0, &constant{n: 1}); err != ErrQueueFull {
		t.Errorf("overfull Schedule = %v, want ErrQueueFull", err)
	}
	render(m, 1, 1)
	if err := m.Schedule(0, &constant{n: 1}); err != nil {
		t.Errorf("Schedule after drain = %v", err)
	}
}

func TestVoicesRenderAtTriggerTime(t *testing.T) {
	voices := map[string]func(*Engine) *Voice{
		"kick":  (*Engine).KickVoice,
		"hihat": (*Engine).HiHatVoice,
		"bass":  func(e *Engine) *Voice { return e.BassVoice(0) },
	}
	for name, voice := range voices {
		t.Run(name, func(t *testing.T) {
			e := New(Options{SampleRate: 8000, Seed: 1})
			v := voice(e)
			if err := v.Trigger(0.1); err != nil {
				t.Fatal(err)
			}
			out := render(e.Mixer(), 8000, 400)

			start := e.Mixer().Frame(0.1)
			for i := int64(0); i < start; i++ {
				if out[i] != 0 {
					t.Fatalf("sound before trigger at frame %d", i)
				}
			}
			peak := 0.0
			for _, s := range out[start : start+400] {
				peak = math.Max(peak, math.Abs(s))
			}
			if peak == 0 || peak > 1 {
				t.Errorf("peak after trigger = %v", peak)
			}
			for i := start + 8000*15/100 + 1; i < int64(len(out)); i++ {
				if out[i] != 0 {
					t.Fatalf("still sounding at frame %d", i)
				}
			}
		})
	}
}

func TestNoiseBufferRange(t *testing.T) {
	e := New(Options{SampleRate: 8000, Seed: 7})
	if len(e.noise) != 4000 {
		t.Fatalf("noise length %d, want half a second", len(e.noise))
	}
	for i, v := range e.noise {
		if v < -1 || v > 1 {
			t.Fatalf("noise[%d] = %v out of range", i, v)
		}
	}
}

func TestEnvelopes(t *testing.T) {
	if got := expRamp(0.8, 0.001, 0, 0.15); got != 0.8 {
		t.Errorf("expRamp start = %v", got)
	}
	if got := expRamp(0.8, 0.001, 0.15, 0.15); got != 0.001 {
		t.Errorf("expRamp end = %v", got)
	}
	if got := linRamp(0.3, 0.1, 0.5, 1); math.Abs(got-0.2) > 1e-12 {
		t.Errorf("linRamp mid = %v", got)
	}
}

func writeWAV(t *testing.T, path string, rate beep.SampleRate, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, &constant{value: 0.5, n: frames}, format); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSample(t *testing.T) {
	dir := t.TempDir()

	same := filepath.Join(dir, "same.wav")
	writeWAV(t, same, 8000, 800)
	buf, err := LoadSample(same, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 800 {
		t.Errorf("loaded %d frames, want 800", buf.Len())
	}

	half := filepath.Join(dir, "half.wav")
	writeWAV(t, half, 4000, 400)
	buf, err = LoadSample(half, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if n := buf.Len(); n < 790 || n > 810 {
		t.Errorf("resampled to %d frames, want about 800", n)
	}

	if _, err := LoadSample(filepath.Join(dir, "missing.wav"), 8000); err == nil {
		t.Error("missing file loaded")
	}
	if _, err := LoadSample(filepath.Join(dir, "notes.txt"), 8000); err == nil {
		t.Error("unsupported extension loaded")
	}
}

func TestSampleVoiceVolume(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.wav")
	writeWAV(t, path, 8000, 100)

	e := New(Options{SampleRate: 8000, Seed: 1})
	buf, err := e.LoadSample(path)
	if err != nil {
		t.Fatal(err)
	}
	v := e.SampleVoice("cowbell", buf, 0.6)
	v.Trigger(0)
	v.Trigger(0.05) // same buffer can play twice

	out := render(e.Mixer(), 800, 200)
	// 16-bit quantisation of 0.5 is not exact
	if got := out[10]; math.Abs(got-0.3) > 1e-3 {
		t.Errorf("sample frame 10 = %v, want about 0.3", got)
	}
	if got := out[450]; math.Abs(got-0.3) > 1e-3 {
		t.Errorf("second hit frame 450 = %v, want about 0.3", got)
	}
	if out[700] != 0 {
		t.Errorf("sample still playing at frame 700")
	}
}

func TestOfflineEngineLifecycle(t *testing.T) {
	e := New(Options{SampleRate: 8000})
	if e.Suspended() {
		t.Error("offline engine starts suspended")
	}
	if err := e.Suspend(); err != nil || !e.Suspended() {
		t.Errorf("Suspend = %v, suspended=%v", err, e.Suspended())
	}
	if err := e.Resume(context.Background()); err != nil || e.Suspended() {
		t.Errorf("Resume = %v, suspended=%v", err, e.Suspended())
	}
	e.Close()
	e.Suspend()
	if err := e.Resume(context.Background()); err == nil {
		t.Error("closed engine resumed")
	}
}

func TestRender(t *testing.T) {
	e := New(Options{SampleRate: 8000, Seed: 3})
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	ticks := 0
	kick := e.KickVoice()
	err = e.Render(f, 0.5, func() {
		if ticks == 0 {
			kick.Trigger(0.25)
		}
		ticks++
	})
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if ticks == 0 {
		t.Fatal("tick never called")
	}

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	s, format, err := wav.Decode(r)
	if err != nil {
		t.Fatal(err)
	}
	if format.SampleRate != 8000 || s.Len() != 4000 {
		t.Errorf("rendered %d frames at %d Hz, want 4000 at 8000", s.Len(), format.SampleRate)
	}
	buf := make([][2]float64, 4000)
	n, _ := s.Stream(buf)
	if n != 4000 {
		t.Fatalf("decoded %d frames", n)
	}
	if buf[1999][0] != 0 || buf[2000][0] == 0 {
		t.Errorf("kick onset not at frame 2000: %v %v", buf[1999][0], buf[2000][0])
	}
}
