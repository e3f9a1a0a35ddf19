package midi

// PadEvent is sent when a pad/button is pressed on a grid controller
type PadEvent struct {
	Row, Col int
	Velocity uint8
}

// LEDUpdate sets one pad's colour. Row 8 is the top control row, Col 8 the
// right-hand scene column.
type LEDUpdate struct {
	Row, Col int
	Color    [3]uint8 // RGB, mapped to the controller palette
	Channel  uint8    // ChannelStatic or ChannelPulse
}

// Controller is a grid control surface
type Controller interface {
	ID() string

	// Input events from the controller
	PadEvents() <-chan PadEvent

	// Output to the controller
	SetLEDBatch(updates []LEDUpdate) error

	// Lifecycle
	Close() error
}

// Channel modes for LEDUpdate
const (
	ChannelStatic uint8 = 0 // solid color
	ChannelPulse  uint8 = 2 // pulsing (fades)
)

// Surface colours
var (
	rgbOff      = [3]uint8{0, 0, 0}
	rgbHit      = [3]uint8{255, 200, 0}
	rgbMuted    = [3]uint8{180, 60, 60}
	rgbEnabled  = [3]uint8{0, 255, 0}
	rgbPlayhead = [3]uint8{255, 255, 255}
	rgbRest     = [3]uint8{40, 60, 120}
	rgbPlay     = [3]uint8{0, 255, 0}
	rgbStopped  = [3]uint8{0, 100, 0}
	rgbTempo    = [3]uint8{0, 200, 200}
	rgbHalf     = [3]uint8{150, 0, 200}
)

// LegendEntry names one surface colour.
type LegendEntry struct {
	Color      [3]uint8
	Name, Desc string
}

// Legend lists the colours the surface lights, for on-screen help.
var Legend = []LegendEntry{
	{rgbHit, "Hit", "step plays"},
	{rgbMuted, "Muted", "instrument disabled"},
	{rgbPlayhead, "Playhead", "hit sounding now"},
	{rgbRest, "Rest", "playhead on a rest"},
	{rgbEnabled, "Scene", "instrument enabled"},
	{rgbHalf, "Half", "second half bar shown"},
}
