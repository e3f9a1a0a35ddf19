package midi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-rhythm/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrPortTimeout is returned when the driver does not answer a port listing
// in time.
var ErrPortTimeout = errors.New("midi port listing timed out")

// ErrNoPort is returned when a named output port does not exist.
var ErrNoPort = errors.New("midi port not found")

const portTimeout = 3 * time.Second

// Clock is the time base voices schedule against, in seconds.
type Clock interface {
	CurrentTime() float64
}

// WallClock stands in for the audio clock when only MIDI is played. It never
// suspends.
type WallClock struct {
	start time.Time
}

func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

func (c *WallClock) CurrentTime() float64 {
	return time.Since(c.start).Seconds()
}

func (c *WallClock) Suspended() bool { return false }

func (c *WallClock) Resume(ctx context.Context) error { return nil }

// Sender writes one MIDI message.
type Sender func(gomidi.Message) error

// Output triggers notes on external MIDI ports. Ports are opened on first
// use and their senders cached.
type Output struct {
	clock Clock

	defaultPort string
	senders     map[string]Sender
	sendersMu   sync.RWMutex

	open  func(port string) (Sender, error)
	after func(d time.Duration, f func())
}

// NewOutput returns an Output timed against clock. Voices with an empty port
// name use defaultPort.
func NewOutput(clock Clock, defaultPort string) *Output {
	return &Output{
		clock:       clock,
		defaultPort: defaultPort,
		senders:     make(map[string]Sender),
		open:        openPort,
		after:       func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

func openPort(name string) (Sender, error) {
	outs, err := outPorts()
	if err != nil {
		return nil, err
	}
	for _, port := range outs {
		if port.String() == name {
			send, err := gomidi.SendTo(port)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			return send, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoPort, name)
}

// sender returns the cached sender for port, opening it if needed.
func (o *Output) sender(port string) (Sender, error) {
	if port == "" {
		port = o.defaultPort
	}
	if port == "" {
		return nil, fmt.Errorf("%w: no port configured", ErrNoPort)
	}

	o.sendersMu.RLock()
	if send, ok := o.senders[port]; ok {
		o.sendersMu.RUnlock()
		return send, nil
	}
	o.sendersMu.RUnlock()

	o.sendersMu.Lock()
	defer o.sendersMu.Unlock()

	// Double-check after acquiring write lock
	if send, ok := o.senders[port]; ok {
		return send, nil
	}
	send, err := o.open(port)
	if err != nil {
		return nil, err
	}
	o.senders[port] = send
	debug.Log("midi", "opened output %q", port)
	return send, nil
}

// Open opens port ahead of the first trigger so listing ports never happens
// on the scheduling path.
func (o *Output) Open(port string) error {
	_, err := o.sender(port)
	return err
}

// Voice returns a voice playing note on channel (1-16) of port.
func (o *Output) Voice(port string, channel, note, velocity uint8, gate time.Duration) *Voice {
	if channel < 1 || channel > 16 {
		channel = 10
	}
	if velocity == 0 {
		velocity = 100
	}
	if gate <= 0 {
		gate = 50 * time.Millisecond
	}
	return &Voice{out: o, port: port, channel: channel - 1, note: note, velocity: velocity, gate: gate}
}

// Voice is a single drum note on an external instrument.
type Voice struct {
	out      *Output
	port     string
	channel  uint8 // 0-based
	note     uint8
	velocity uint8
	gate     time.Duration
}

// Trigger schedules NoteOn at clock time at and NoteOff one gate later. It
// returns once both are scheduled; send failures are logged.
func (v *Voice) Trigger(at float64) error {
	send, err := v.out.sender(v.port)
	if err != nil {
		return err
	}
	delay := time.Duration((at - v.out.clock.CurrentTime()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	v.out.after(delay, func() {
		if err := send(gomidi.NoteOn(v.channel, v.note, v.velocity)); err != nil {
			debug.Log("midi", "note on %d: %v", v.note, err)
		}
	})
	v.out.after(delay+v.gate, func() {
		if err := send(gomidi.NoteOff(v.channel, v.note)); err != nil {
			debug.Log("midi", "note off %d: %v", v.note, err)
		}
	})
	return nil
}

// outPorts lists output ports with a timeout (CoreMIDI can hang).
func outPorts() ([]drivers.Out, error) {
	ch := make(chan []drivers.Out, 1)
	go func() { ch <- gomidi.GetOutPorts() }()
	select {
	case outs := <-ch:
		return outs, nil
	case <-time.After(portTimeout):
		return nil, ErrPortTimeout
	}
}

// Ports returns the names of the available output ports.
func Ports() ([]string, error) {
	outs, err := outPorts()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(outs))
	for i, p := range outs {
		names[i] = p.String()
	}
	return names, nil
}

// CloseDriver releases the MIDI driver. Call once on exit.
func CloseDriver() {
	gomidi.CloseDriver()
}
