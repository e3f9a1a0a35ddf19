package midi

import (
	"context"
	"strings"
	"sync"
	"time"

	"go-rhythm/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// DeviceEvent is emitted when controllers connect/disconnect
type DeviceEvent struct {
	Type       DeviceEventType
	Controller Controller
	ID         string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// DeviceManager handles hot-plug detection of Launchpads
type DeviceManager struct {
	controllers map[string]Controller
	mu          sync.RWMutex
	events      chan DeviceEvent
	pollRate    time.Duration

	connect func(id string, in drivers.In, out drivers.Out) (Controller, error)
	ports   func() ([]drivers.In, []drivers.Out)
	done    chan struct{}
}

// NewDeviceManager creates a new device manager
func NewDeviceManager() *DeviceManager {
	return &DeviceManager{
		controllers: make(map[string]Controller),
		events:      make(chan DeviceEvent, 16),
		pollRate:    time.Second,
		connect: func(id string, in drivers.In, out drivers.Out) (Controller, error) {
			return NewLaunchpad(id, in, out)
		},
		ports: func() ([]drivers.In, []drivers.Out) {
			return gomidi.GetInPorts(), gomidi.GetOutPorts()
		},
		done: make(chan struct{}),
	}
}

// Events returns a channel of device connect/disconnect events. It is closed
// when Run returns.
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Controllers returns a snapshot of connected controllers
func (dm *DeviceManager) Controllers() map[string]Controller {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	snapshot := make(map[string]Controller, len(dm.controllers))
	for k, v := range dm.controllers {
		snapshot[k] = v
	}
	return snapshot
}

// Run polls for devices until ctx is done (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	defer close(dm.done)
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	dm.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan(ctx)
		}
	}
}

// Done is closed once Run has closed every controller and returned.
func (dm *DeviceManager) Done() <-chan struct{} {
	return dm.done
}

func (dm *DeviceManager) scan(ctx context.Context) {
	type portsResult struct {
		ins  []drivers.In
		outs []drivers.Out
	}

	// CoreMIDI can hang
	ch := make(chan portsResult, 1)
	go func() {
		ins, outs := dm.ports()
		ch <- portsResult{ins: ins, outs: outs}
	}()

	var r portsResult
	select {
	case r = <-ch:
	case <-time.After(portTimeout):
		debug.Log("devices", "port scan timed out")
		return
	case <-ctx.Done():
		return
	}
	dm.reconcile(ctx, r.ins, r.outs)
}

// reconcile connects new Launchpads and drops the ones that went away.
func (dm *DeviceManager) reconcile(ctx context.Context, ins []drivers.In, outs []drivers.Out) {
	seen := make(map[string]bool)

	for _, in := range ins {
		id := in.String()
		if !isLaunchpad(id) {
			continue
		}
		seen[id] = true

		dm.mu.RLock()
		_, exists := dm.controllers[id]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		var out drivers.Out
		for _, op := range outs {
			if strings.EqualFold(op.String(), id) {
				out = op
				break
			}
		}

		c, err := dm.connect(id, in, out)
		if err != nil {
			debug.Log("devices", "connect %s: %v", id, err)
			continue
		}
		dm.mu.Lock()
		dm.controllers[id] = c
		dm.mu.Unlock()
		debug.Log("devices", "connected %s", id)
		dm.emit(ctx, DeviceEvent{Type: DeviceConnected, Controller: c, ID: id})
	}

	dm.mu.Lock()
	var gone []string
	for id, c := range dm.controllers {
		if !seen[id] {
			c.Close()
			delete(dm.controllers, id)
			gone = append(gone, id)
		}
	}
	dm.mu.Unlock()

	for _, id := range gone {
		debug.Log("devices", "disconnected %s", id)
		dm.emit(ctx, DeviceEvent{Type: DeviceDisconnected, ID: id})
	}
}

func (dm *DeviceManager) emit(ctx context.Context, ev DeviceEvent) {
	select {
	case dm.events <- ev:
	case <-ctx.Done():
	}
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, c := range dm.controllers {
		c.Close()
	}
	dm.controllers = make(map[string]Controller)
}

func isLaunchpad(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "launchpad") && strings.Contains(name, "midi")
}
