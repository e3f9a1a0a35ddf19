package midi

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"go-rhythm/sequencer"
)

type fixedClock float64

func (c fixedClock) CurrentTime() float64 { return float64(c) }

type delayed struct {
	d time.Duration
	f func()
}

// newTestOutput returns an Output whose ports record messages and whose
// timers wait for an explicit run.
func newTestOutput(now float64) (*Output, map[string]*[]gomidi.Message, *[]delayed, *int) {
	o := NewOutput(fixedClock(now), "synth")
	sent := map[string]*[]gomidi.Message{}
	opened := 0
	o.open = func(port string) (Sender, error) {
		if port == "missing" {
			return nil, ErrNoPort
		}
		opened++
		msgs := &[]gomidi.Message{}
		sent[port] = msgs
		return func(m gomidi.Message) error {
			*msgs = append(*msgs, m)
			return nil
		}, nil
	}
	var timers []delayed
	o.after = func(d time.Duration, f func()) { timers = append(timers, delayed{d, f}) }
	return o, sent, &timers, &opened
}

func TestVoiceSchedulesNoteOnAndOff(t *testing.T) {
	o, sent, timers, _ := newTestOutput(1.0)
	v := o.Voice("", 10, 36, 0, 30*time.Millisecond)

	if err := v.Trigger(1.05); err != nil {
		t.Fatal(err)
	}
	if len(*timers) != 2 {
		t.Fatalf("scheduled %d timers, want 2", len(*timers))
	}
	on, off := (*timers)[0], (*timers)[1]
	if d := on.d - 50*time.Millisecond; d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("note on delay = %v, want 50ms", on.d)
	}
	if off.d-on.d != 30*time.Millisecond {
		t.Errorf("gate = %v, want 30ms", off.d-on.d)
	}
	on.f()
	off.f()

	msgs := *sent["synth"]
	var ch, key, vel uint8
	if !msgs[0].GetNoteOn(&ch, &key, &vel) || ch != 9 || key != 36 || vel != 100 {
		t.Errorf("first message %v, want note on ch 10 key 36 vel 100", msgs[0])
	}
	if !msgs[1].GetNoteOff(&ch, &key, &vel) || key != 36 {
		t.Errorf("second message %v, want note off 36", msgs[1])
	}
}

func TestVoiceInThePastFiresNow(t *testing.T) {
	o, _, timers, _ := newTestOutput(2.0)
	o.Voice("", 1, 42, 90, 0).Trigger(1.9)
	if (*timers)[0].d != 0 {
		t.Errorf("late note delay = %v, want 0", (*timers)[0].d)
	}
}

func TestOutputCachesSenders(t *testing.T) {
	o, _, _, opened := newTestOutput(0)
	o.Voice("", 10, 36, 0, 0).Trigger(0)
	o.Voice("synth", 10, 38, 0, 0).Trigger(0)
	o.Voice("other", 10, 42, 0, 0).Trigger(0)
	if *opened != 2 {
		t.Errorf("opened %d ports, want 2", *opened)
	}

	if err := o.Voice("missing", 10, 36, 0, 0).Trigger(0); !errors.Is(err, ErrNoPort) {
		t.Errorf("missing port = %v, want ErrNoPort", err)
	}
	noDefault := NewOutput(fixedClock(0), "")
	if err := noDefault.Voice("", 10, 36, 0, 0).Trigger(0); !errors.Is(err, ErrNoPort) {
		t.Errorf("no port configured = %v, want ErrNoPort", err)
	}
}

func TestPadMapping(t *testing.T) {
	tests := []struct {
		note     uint8
		row, col int
	}{
		{11, 0, 0},
		{18, 0, 7},
		{19, 0, 8},
		{88, 7, 7},
		{91, 8, 0},
		{98, 8, 7},
		{10, -1, -1},
		{99, -1, -1},
	}
	for _, tt := range tests {
		row, col := noteToRowCol(tt.note)
		if row != tt.row || col != tt.col {
			t.Errorf("noteToRowCol(%d) = %d,%d, want %d,%d", tt.note, row, col, tt.row, tt.col)
		}
		if row >= 0 && rowColToNote(row, col) != tt.note {
			t.Errorf("rowColToNote(%d,%d) = %d, want %d", row, col, rowColToNote(row, col), tt.note)
		}
	}
	if row, col := ccToRowCol(49); row != 3 || col != 8 {
		t.Errorf("ccToRowCol(49) = %d,%d, want 3,8", row, col)
	}
}

func TestMapRGBToLaunchpad(t *testing.T) {
	if got := mapRGBToLaunchpad(rgbOff); got != 0 {
		t.Errorf("off = %d", got)
	}
	if got := mapRGBToLaunchpad(rgbPlayhead); got != 119 {
		t.Errorf("white = %d", got)
	}
	if got := mapRGBToLaunchpad([3]uint8{10, 250, 5}); got != 21 {
		t.Errorf("green = %d", got)
	}
}

func TestIsLaunchpad(t *testing.T) {
	if !isLaunchpad("Launchpad X LPX MIDI") {
		t.Error("Launchpad X MIDI port not recognised")
	}
	if isLaunchpad("Launchpad X LPX DAW") || isLaunchpad("IAC Driver Bus 1") {
		t.Error("non-MIDI port recognised")
	}
}

// fakeIn and fakeOut only answer String; reconcile needs nothing else.
type fakeIn struct {
	drivers.In
	name string
}

func (p fakeIn) String() string { return p.name }

type fakeOut struct {
	drivers.Out
	name string
}

func (p fakeOut) String() string { return p.name }

func TestDeviceManagerReconcile(t *testing.T) {
	dm := NewDeviceManager()
	var gotOut []string
	dm.connect = func(id string, in drivers.In, out drivers.Out) (Controller, error) {
		if out != nil {
			gotOut = append(gotOut, out.String())
		}
		return &fakeController{pads: make(chan PadEvent)}, nil
	}
	ctx := context.Background()
	lp := "Launchpad X LPX MIDI"

	dm.reconcile(ctx,
		[]drivers.In{fakeIn{name: lp}, fakeIn{name: "IAC Driver Bus 1"}},
		[]drivers.Out{fakeOut{name: lp}})
	ev := <-dm.Events()
	if ev.Type != DeviceConnected || ev.ID != lp {
		t.Fatalf("event = %+v, want connect of %s", ev, lp)
	}
	if len(dm.Controllers()) != 1 || !reflect.DeepEqual(gotOut, []string{lp}) {
		t.Errorf("controllers=%d outs=%v", len(dm.Controllers()), gotOut)
	}

	dm.reconcile(ctx, []drivers.In{fakeIn{name: lp}}, nil)
	select {
	case ev := <-dm.Events():
		t.Errorf("unexpected event %+v for a device already connected", ev)
	default:
	}

	dm.reconcile(ctx, nil, nil)
	ev = <-dm.Events()
	if ev.Type != DeviceDisconnected || ev.ID != lp || len(dm.Controllers()) != 0 {
		t.Errorf("event = %+v, controllers=%d, want disconnect", ev, len(dm.Controllers()))
	}
}

func TestDeviceManagerClosesControllersOnShutdown(t *testing.T) {
	dm := NewDeviceManager()
	lp := "Launchpad X LPX MIDI"
	dm.ports = func() ([]drivers.In, []drivers.Out) {
		return []drivers.In{fakeIn{name: lp}}, []drivers.Out{fakeOut{name: lp}}
	}
	c := &fakeController{pads: make(chan PadEvent)}
	dm.connect = func(string, drivers.In, drivers.Out) (Controller, error) { return c, nil }

	ctx, cancel := context.WithCancel(context.Background())
	go dm.Run(ctx)
	if ev := <-dm.Events(); ev.Type != DeviceConnected {
		t.Fatalf("first event = %+v, want connect", ev)
	}
	cancel()
	select {
	case <-dm.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not finish after cancel")
	}
	if !c.closed {
		t.Error("controller left open after Run returned")
	}
	if _, open := <-dm.Events(); open {
		t.Error("events channel still open")
	}
}

type fakeTransport struct {
	mu      sync.Mutex
	kit     *sequencer.Kit
	state   sequencer.State
	toggles chan struct{}
}

func (f *fakeTransport) Toggle(ctx context.Context) (bool, error) {
	f.mu.Lock()
	f.state.Playing = !f.state.Playing
	on := f.state.Playing
	f.mu.Unlock()
	f.toggles <- struct{}{}
	return on, nil
}

func (f *fakeTransport) ToggleInstrument(idx int) (string, bool, error) {
	return f.kit.Toggle(idx)
}

func (f *fakeTransport) SetTempo(bpm float64) error {
	if !sequencer.ValidTempo(bpm) {
		return sequencer.ErrInvalidTempo
	}
	f.mu.Lock()
	f.state.Tempo = bpm
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Tempo() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Tempo
}

func (f *fakeTransport) State() sequencer.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Kit() *sequencer.Kit { return f.kit }

func newFakeTransport(t *testing.T) *fakeTransport {
	kit := sequencer.NewKit()
	kick, _ := sequencer.ParsePattern([]int{1, 0, 0, 0, 1, 0, 1, 0, 1, 0, 0, 0, 1, 0, 1, 0})
	hat, _ := sequencer.ParsePattern([]int{0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0})
	if _, err := kit.Add("kick", kick, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := kit.Add("hihat", hat, nil); err != nil {
		t.Fatal(err)
	}
	return &fakeTransport{
		kit:     kit,
		state:   sequencer.State{Tempo: 120, Audible: -1},
		toggles: make(chan struct{}, 1),
	}
}

type fakeController struct {
	pads    chan PadEvent
	batches [][]LEDUpdate
	closed  bool
}

func (c *fakeController) ID() string { return "fake" }
func (c *fakeController) PadEvents() <-chan PadEvent { return c.pads }
func (c *fakeController) SetLEDBatch(u []LEDUpdate) error {
	c.batches = append(c.batches, u)
	return nil
}
func (c *fakeController) Close() error { c.closed = true; return nil }

func ledMap(leds []LEDUpdate) map[[2]int][3]uint8 {
	m := make(map[[2]int][3]uint8)
	for _, l := range leds {
		m[[2]int{l.Row, l.Col}] = l.Color
	}
	return m
}

func TestSurfaceRender(t *testing.T) {
	tr := newFakeTransport(t)
	s := NewSurface(tr)

	leds := ledMap(s.Render())
	if leds[[2]int{7, 0}] != rgbHit || leds[[2]int{6, 2}] != rgbHit {
		t.Error("pattern hits not lit")
	}
	if _, lit := leds[[2]int{7, 1}]; lit {
		t.Error("rest step lit while stopped")
	}
	if leds[[2]int{7, 8}] != rgbEnabled || leds[[2]int{8, padPlay}] != rgbStopped {
		t.Error("scene or play pad wrong")
	}

	tr.state.Playing = true
	tr.state.Audible = 12
	tr.kit.SetEnabled("hihat", false)
	leds = ledMap(s.Render())
	if leds[[2]int{7, 4}] != rgbPlayhead {
		t.Errorf("kick playhead at step 12 = %v", leds[[2]int{7, 4}])
	}
	if leds[[2]int{6, 4}] != rgbRest {
		t.Errorf("hihat rest under playhead = %v", leds[[2]int{6, 4}])
	}
	if leds[[2]int{6, 6}] != rgbMuted || leds[[2]int{6, 8}] != rgbMuted {
		t.Error("muted instrument not shown muted")
	}
	if leds[[2]int{8, 7}] != rgbHalf || leds[[2]int{8, padPlay}] != rgbPlay {
		t.Error("second half or play indicator missing")
	}
	for _, l := range s.Render() {
		if l.Row == 8 && l.Col == padPlay && l.Channel != ChannelPulse {
			t.Errorf("play pad channel = %d while playing, want pulse", l.Channel)
		}
	}
}

func TestSurfaceHandlePad(t *testing.T) {
	tr := newFakeTransport(t)
	s := NewSurface(tr)
	ctx := context.Background()

	s.HandlePad(ctx, PadEvent{Row: 6, Col: 3})
	if hat, _ := tr.kit.Get("hihat"); hat.Enabled() {
		t.Error("pad on hihat row did not mute it")
	}
	s.HandlePad(ctx, PadEvent{Row: 6, Col: 8})
	if hat, _ := tr.kit.Get("hihat"); !hat.Enabled() {
		t.Error("scene button did not unmute hihat")
	}
	s.HandlePad(ctx, PadEvent{Row: 0, Col: 0}) // no instrument there

	s.HandlePad(ctx, PadEvent{Row: 8, Col: padTempoUp})
	s.HandlePad(ctx, PadEvent{Row: 8, Col: padTempoUp})
	s.HandlePad(ctx, PadEvent{Row: 8, Col: padTempoDown})
	if got := tr.Tempo(); got != 125 {
		t.Errorf("tempo = %v, want 125", got)
	}

	s.HandlePad(ctx, PadEvent{Row: 8, Col: padPlay})
	select {
	case <-tr.toggles:
	case <-time.After(time.Second):
		t.Fatal("play pad did not toggle")
	}
	if !tr.State().Playing {
		t.Error("not playing after play pad")
	}
}

func TestSurfaceFlushSendsOnlyChanges(t *testing.T) {
	tr := newFakeTransport(t)
	s := NewSurface(tr)
	c := &fakeController{pads: make(chan PadEvent)}

	s.flush() // no controller
	s.SetController(c)
	s.flush()
	if len(c.batches) != 1 || len(c.batches[0]) != len(s.Render()) {
		t.Fatalf("first flush sent %v", c.batches)
	}

	s.flush()
	if len(c.batches) != 1 {
		t.Errorf("unchanged state sent %d more batches", len(c.batches)-1)
	}

	tr.kit.SetEnabled("kick", false)
	s.flush()
	if len(c.batches) != 2 {
		t.Fatal("change not flushed")
	}
	var got []string
	for _, u := range c.batches[1] {
		got = append(got, string(rune('0'+u.Row))+string(rune('0'+u.Col)))
	}
	sort.Strings(got)
	want := []string{"70", "74", "76", "78"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("changed pads = %v, want %v", got, want)
	}
}
