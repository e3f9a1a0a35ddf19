package midi

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-rhythm/debug"
	"go-rhythm/sequencer"
)

// LED refresh rate
const ledFPS = 30

// Top-row pads
const (
	padPlay      = 0
	padTempoDown = 2
	padTempoUp   = 3
)

const tempoStep = 5

// gridRows is how many instruments fit on the pad grid.
const gridRows = 8

// Transport is what a control surface drives.
type Transport interface {
	Toggle(ctx context.Context) (bool, error)
	ToggleInstrument(idx int) (string, bool, error)
	SetTempo(bpm float64) error
	Tempo() float64
	State() sequencer.State
	Kit() *sequencer.Kit
}

// Surface maps a Launchpad onto the drum machine. Instrument i owns grid row
// 7-i: its pads show the half bar under the playhead and pressing any of
// them, or the scene button, mutes or unmutes it. Top row: play, tempo
// down, tempo up.
type Surface struct {
	transport Transport

	mu   sync.Mutex
	ctrl Controller
	prev map[[2]int]LEDUpdate // for diffing
}

func NewSurface(t Transport) *Surface {
	return &Surface{transport: t, prev: make(map[[2]int]LEDUpdate)}
}

// SetController swaps the attached controller; nil detaches.
func (s *Surface) SetController(c Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	debug.Log("ctrl", "SetController called, resetting diff state")
	s.ctrl = c
	s.prev = make(map[[2]int]LEDUpdate)
}

// Attached returns the ID of the attached controller, or "".
func (s *Surface) Attached() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return ""
	}
	return s.ctrl.ID()
}

// HandlePad acts on one pad press.
func (s *Surface) HandlePad(ctx context.Context, ev PadEvent) {
	switch {
	case ev.Row == 8 && ev.Col == padPlay:
		// resume can take a while; keep the pad loop responsive
		go func() {
			playing, err := s.transport.Toggle(ctx)
			switch {
			case errors.Is(err, sequencer.ErrBusy):
			case err != nil:
				debug.Log("ctrl", "toggle: %v", err)
			default:
				debug.Log("ctrl", "playing=%v", playing)
			}
		}()
	case ev.Row == 8 && (ev.Col == padTempoDown || ev.Col == padTempoUp):
		delta := float64(tempoStep)
		if ev.Col == padTempoDown {
			delta = -delta
		}
		if err := s.transport.SetTempo(s.transport.Tempo() + delta); err != nil {
			debug.Log("ctrl", "tempo: %v", err)
		}
	case ev.Row >= 0 && ev.Row < gridRows:
		idx := gridRows - 1 - ev.Row
		if idx >= s.transport.Kit().Len() {
			return
		}
		if _, _, err := s.transport.ToggleInstrument(idx); err != nil {
			debug.Log("ctrl", "toggle instrument %d: %v", idx, err)
		}
	}
}

// Render computes every lit pad for the current state.
func (s *Surface) Render() []LEDUpdate {
	st := s.transport.State()

	var leds []LEDUpdate
	play := LEDUpdate{Row: 8, Col: padPlay, Color: rgbStopped, Channel: ChannelStatic}
	if st.Playing {
		play.Color, play.Channel = rgbPlay, ChannelPulse
	}
	leds = append(leds,
		play,
		LEDUpdate{Row: 8, Col: padTempoDown, Color: rgbTempo},
		LEDUpdate{Row: 8, Col: padTempoUp, Color: rgbTempo},
	)

	// show the half bar the playhead is in
	half := 0
	if st.Audible >= sequencer.NumSteps/2 {
		half = 1
		leds = append(leds, LEDUpdate{Row: 8, Col: 7, Color: rgbHalf})
	}

	for i, inst := range s.transport.Kit().Instruments() {
		if i >= gridRows {
			break
		}
		row := gridRows - 1 - i
		scene := rgbMuted
		if inst.Enabled() {
			scene = rgbEnabled
		}
		leds = append(leds, LEDUpdate{Row: row, Col: 8, Color: scene})

		for col := 0; col < 8; col++ {
			step := half*8 + col
			hit := inst.Pattern.Hit(step)
			var c [3]uint8
			switch {
			case step == st.Audible && hit && inst.Enabled():
				c = rgbPlayhead
			case step == st.Audible:
				c = rgbRest
			case hit && inst.Enabled():
				c = rgbHit
			case hit:
				c = rgbMuted
			default:
				continue
			}
			leds = append(leds, LEDUpdate{Row: row, Col: col, Color: c})
		}
	}
	return leds
}

// flush sends only changed LEDs to the controller (diffing + batching)
func (s *Surface) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return
	}

	leds := s.Render()
	next := make(map[[2]int]LEDUpdate, len(leds))
	var updates []LEDUpdate
	for _, led := range leds {
		key := [2]int{led.Row, led.Col}
		next[key] = led
		if prev, ok := s.prev[key]; !ok || prev != led {
			updates = append(updates, led)
		}
	}
	// Clear LEDs that are no longer present
	for key := range s.prev {
		if _, ok := next[key]; !ok {
			updates = append(updates, LEDUpdate{Row: key[0], Col: key[1], Color: rgbOff})
		}
	}

	if len(updates) > 0 {
		if err := s.ctrl.SetLEDBatch(updates); err != nil {
			debug.Log("led", "flush: %v", err)
			return
		}
	}
	s.prev = next
}

// Run attaches controllers as dm reports them, routes their pads and
// refreshes LEDs at a fixed rate until ctx is done.
func (s *Surface) Run(ctx context.Context, dm *DeviceManager) {
	ticker := time.NewTicker(time.Second / ledFPS)
	defer ticker.Stop()

	pads := make(chan PadEvent, 32)
	var attached string

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-dm.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case DeviceConnected:
				if attached != "" {
					continue
				}
				attached = ev.ID
				s.SetController(ev.Controller)
				go forwardPads(ctx, ev.Controller, pads)
			case DeviceDisconnected:
				if ev.ID == attached {
					attached = ""
					s.SetController(nil)
				}
			}
		case ev := <-pads:
			s.HandlePad(ctx, ev)
			s.flush()
		case <-ticker.C:
			s.flush()
		}
	}
}

func forwardPads(ctx context.Context, c Controller, pads chan<- PadEvent) {
	for ev := range c.PadEvents() {
		select {
		case pads <- ev:
		case <-ctx.Done():
			return
		}
	}
}
