package audio

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"go-rhythm/debug"
)

const (
	DefaultSampleRate = 44100
	DefaultBuffer     = 20 * time.Millisecond

	noiseLength = 500 * time.Millisecond
)

// Options configures an Engine.
type Options struct {
	SampleRate int
	Buffer     time.Duration // speaker buffer; ignored offline
	Seed       int64         // noise seed, 0 picks one from the clock
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.Buffer <= 0 {
		o.Buffer = DefaultBuffer
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// Engine renders scheduled voices. Its clock counts rendered frames, so it
// only advances while audio is being pulled.
type Engine struct {
	sr     beep.SampleRate
	buffer time.Duration
	mixer  *Mixer
	noise  []float64

	mu        sync.Mutex
	live      bool // plays through the speaker
	suspended bool
	closed    bool
}

// Open initialises the speaker and returns a suspended engine. Resume it
// before expecting the clock to move.
func Open(opts Options) (*Engine, error) {
	e := New(opts)
	if err := e.OpenOutput(); err != nil {
		return nil, err
	}
	return e, nil
}

// New returns an engine with no output attached. Voices and samples can be
// prepared on it before OpenOutput; Render pulls its audio offline.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	sr := beep.SampleRate(opts.SampleRate)
	return &Engine{
		sr:     sr,
		buffer: opts.Buffer,
		mixer:  NewMixer(sr),
		noise:  NoiseBuffer(sr, noiseLength, rand.New(rand.NewSource(opts.Seed))),
	}
}

// OpenOutput starts the speaker and leaves the engine suspended. Calling it
// again is a no-op.
func (e *Engine) OpenOutput() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine closed")
	}
	if e.live {
		return nil
	}

	if err := speaker.Init(e.sr, e.sr.N(e.buffer)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	speaker.Play(e.mixer)
	if err := speaker.Suspend(); err != nil {
		speaker.Close()
		return fmt.Errorf("suspend speaker: %w", err)
	}
	e.live = true
	e.suspended = true
	debug.Log("audio", "speaker open rate=%d buffer=%v", int(e.sr), e.buffer)
	return nil
}

// SampleRate returns the engine's output rate.
func (e *Engine) SampleRate() beep.SampleRate {
	return e.sr
}

// Mixer exposes the underlying mixer.
func (e *Engine) Mixer() *Mixer {
	return e.mixer
}

// CurrentTime is the audio clock in seconds.
func (e *Engine) CurrentTime() float64 {
	return e.mixer.Time()
}

func (e *Engine) Suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspended
}

// Resume restarts the speaker. The underlying call can take a while on some
// backends, so it runs in its own goroutine and ctx can abandon the wait.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine closed")
	}
	if !e.suspended {
		e.mu.Unlock()
		return nil
	}
	live := e.live
	e.mu.Unlock()

	if live {
		done := make(chan error, 1)
		go func() { done <- speaker.Resume() }()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("resume speaker: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()
	debug.Log("audio", "resumed at %.4fs", e.CurrentTime())
	return nil
}

// Suspend pauses output. The clock stops with it.
func (e *Engine) Suspend() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.suspended || e.closed {
		return nil
	}
	if e.live {
		if err := speaker.Suspend(); err != nil {
			return fmt.Errorf("suspend speaker: %w", err)
		}
	}
	e.suspended = true
	return nil
}

// Close stops the speaker. Pending voices are dropped.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.live {
		speaker.Clear()
		speaker.Close()
	}
	return nil
}

// Schedule plays s starting at clock time at.
func (e *Engine) Schedule(at float64, s beep.Streamer) error {
	return e.mixer.Schedule(e.mixer.Frame(at), s)
}
