package audio

import (
	"errors"
	"sort"
	"sync/atomic"

	"github.com/gopxl/beep"
)

// ErrQueueFull is returned when voices are scheduled faster than the render
// goroutine drains them.
var ErrQueueFull = errors.New("mixer schedule queue full")

const inboxSize = 256

type pending struct {
	start int64 // frame
	s     beep.Streamer
}

// Mixer sums streamers, starting each one at an exact frame. The number of
// frames it has produced is the audio clock.
//
// Schedule may be called from any goroutine and never blocks. Stream must be
// called from a single goroutine (the speaker, or an offline renderer).
type Mixer struct {
	sr    beep.SampleRate
	pos   atomic.Int64
	inbox chan pending

	// owned by the Stream goroutine
	pending []pending
	active  []beep.Streamer
	buf     [][2]float64
}

func NewMixer(sr beep.SampleRate) *Mixer {
	return &Mixer{
		sr:    sr,
		inbox: make(chan pending, inboxSize),
	}
}

// Schedule starts s at frame start. Frames already rendered start on the
// next buffer.
func (m *Mixer) Schedule(start int64, s beep.Streamer) error {
	select {
	case m.inbox <- pending{start: start, s: s}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Position returns the number of frames rendered so far.
func (m *Mixer) Position() int64 {
	return m.pos.Load()
}

// Time returns Position in seconds.
func (m *Mixer) Time() float64 {
	return float64(m.pos.Load()) / float64(m.sr)
}

// Frame converts a clock time to the nearest frame.
func (m *Mixer) Frame(at float64) int64 {
	return int64(at*float64(m.sr) + 0.5)
}

// Voices returns the number of started and waiting streamers. Only valid on
// the Stream goroutine.
func (m *Mixer) Voices() (active, waiting int) {
	return len(m.active), len(m.pending) + len(m.inbox)
}

func (m *Mixer) drain() {
	for {
		select {
		case p := <-m.inbox:
			// keep pending sorted by start; equal starts keep arrival order
			i := sort.Search(len(m.pending), func(i int) bool { return m.pending[i].start > p.start })
			m.pending = append(m.pending, pending{})
			copy(m.pending[i+1:], m.pending[i:])
			m.pending[i] = p
		default:
			return
		}
	}
}

// Stream implements beep.Streamer. It never runs dry.
func (m *Mixer) Stream(samples [][2]float64) (n int, ok bool) {
	m.drain()
	for i := range samples {
		samples[i] = [2]float64{}
	}

	pos := m.pos.Load()
	done := 0
	for done < len(samples) {
		for len(m.pending) > 0 && m.pending[0].start <= pos+int64(done) {
			m.active = append(m.active, m.pending[0].s)
			m.pending[0] = pending{}
			m.pending = m.pending[1:]
		}
		end := len(samples)
		if len(m.pending) > 0 {
			if next := int(m.pending[0].start - pos); next < end {
				end = next
			}
		}
		m.mix(samples[done:end])
		done = end
	}

	m.pos.Add(int64(len(samples)))
	return len(samples), true
}

// mix adds every active streamer into out and drops the drained ones.
func (m *Mixer) mix(out [][2]float64) {
	if len(m.active) == 0 || len(out) == 0 {
		return
	}
	if cap(m.buf) < len(out) {
		m.buf = make([][2]float64, len(out))
	}
	buf := m.buf[:len(out)]

	kept := m.active[:0]
	for _, s := range m.active {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			out[i][0] += buf[i][0]
			out[i][1] += buf[i][1]
		}
		if ok && n == len(buf) {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(m.active); i++ {
		m.active[i] = nil
	}
	m.active = kept
}

func (m *Mixer) Err() error {
	return nil
}
