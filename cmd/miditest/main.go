package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-rhythm/midi"
	"go-rhythm/sequencer"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	defer midi.CloseDriver()

	var err error
	switch os.Args[1] {
	case "list":
		err = listPorts()
	case "detect":
		err = detectLaunchpad()
	case "leds":
		err = testLEDs()
	case "notes":
		port := ""
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		err = playNotes(port)
	case "poll":
		pollDevices()
	default:
		usage()
	}
	if err != nil {
		fmt.Println("Error:", err)
		midi.CloseDriver()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("go-rhythm MIDI checks")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list          - List MIDI output ports")
	fmt.Println("  detect        - Find a Launchpad X")
	fmt.Println("  leds          - Light the instrument rows on a Launchpad")
	fmt.Println("  notes <port>  - Play each built-in kit note on <port>")
	fmt.Println("  poll          - Watch for Launchpads coming and going")
}

func listPorts() error {
	fmt.Println("=== MIDI Output Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")
	names, err := midi.Ports()
	if err != nil {
		fmt.Println("Fix on macOS: sudo killall coreaudiod midiserver")
		return err
	}
	for i, name := range names {
		fmt.Printf("  %d: %s\n", i, name)
	}
	return nil
}

func findLaunchpad() (drivers.In, drivers.Out) {
	var in drivers.In
	var out drivers.Out
	for _, p := range gomidi.GetInPorts() {
		if isLaunchpadPort(p.String()) {
			in = p
			break
		}
	}
	for _, p := range gomidi.GetOutPorts() {
		if isLaunchpadPort(p.String()) {
			out = p
			break
		}
	}
	return in, out
}

func isLaunchpadPort(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "launchpad") && strings.Contains(name, "midi")
}

func detectLaunchpad() error {
	fmt.Println("Looking for Launchpad X...")
	in, out := findLaunchpad()
	if in != nil {
		fmt.Printf("Found input: %s\n", in.String())
	}
	if out != nil {
		fmt.Printf("Found output: %s\n", out.String())
	}
	if in == nil || out == nil {
		fmt.Println("\nLaunchpad X not found")
		return nil
	}
	fmt.Println("\nLaunchpad X detected!")
	return nil
}

// testLEDs lights each kit instrument's pattern on its Launchpad row and
// echoes pad presses until Enter.
func testLEDs() error {
	in, out := findLaunchpad()
	if out == nil {
		return fmt.Errorf("no Launchpad found")
	}
	lp, err := midi.NewLaunchpad(out.String(), in, out)
	if err != nil {
		return err
	}
	defer lp.Close()

	kf := sequencer.DefaultKitFile()
	var leds []midi.LEDUpdate
	for i, spec := range kf.Instruments {
		row := 7 - i
		for s, hit := range spec.Steps {
			if hit != 0 && s < 8 {
				leds = append(leds, midi.LEDUpdate{Row: row, Col: s, Color: [3]uint8{255, 200, 0}})
			}
		}
		leds = append(leds, midi.LEDUpdate{Row: row, Col: 8, Color: [3]uint8{0, 255, 0}})
	}
	fmt.Printf("Lighting %d instrument rows...\n", len(kf.Instruments))
	if err := lp.SetLEDBatch(leds); err != nil {
		return err
	}

	go func() {
		for ev := range lp.PadEvents() {
			fmt.Printf("  pad row=%d col=%d vel=%d\n", ev.Row, ev.Col, ev.Velocity)
		}
	}()
	fmt.Println("Press pads to see events. Enter to clear...")
	fmt.Scanln()
	return nil
}

// playNotes fires every kit note once, half a second apart, through the
// same output the midi backend uses.
func playNotes(port string) error {
	if port == "" {
		return fmt.Errorf("usage: miditest notes <port>")
	}
	clock := midi.NewWallClock()
	out := midi.NewOutput(clock, port)
	if err := out.Open(""); err != nil {
		return err
	}

	kf := sequencer.DefaultKitFile()
	at := clock.CurrentTime() + 0.1
	for _, spec := range kf.Instruments {
		fmt.Printf("  %-8s note %d at +%.1fs\n", spec.Name, spec.Note, at)
		if err := out.Voice("", 10, spec.Note, 0, 100*time.Millisecond).Trigger(at); err != nil {
			return err
		}
		at += 0.5
	}
	time.Sleep(time.Duration((at - clock.CurrentTime() + 0.2) * float64(time.Second)))
	fmt.Println("Done!")
	return nil
}

func pollDevices() {
	fmt.Println("Polling for Launchpads every second...")
	fmt.Println("Connect/disconnect a Launchpad to test. Ctrl+C to exit.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dm := midi.NewDeviceManager()
	go dm.Run(ctx)
	for ev := range dm.Events() {
		switch ev.Type {
		case midi.DeviceConnected:
			fmt.Printf("[%s] connected: %s\n", time.Now().Format("15:04:05"), ev.ID)
		case midi.DeviceDisconnected:
			fmt.Printf("[%s] disconnected: %s\n", time.Now().Format("15:04:05"), ev.ID)
		}
	}
}
