package widgets

import (
	"strings"
	"testing"
)

func TestRenderKeyHelp(t *testing.T) {
	got := RenderKeyHelp([]KeySection{
		{Title: "Transport", Keys: []KeyBinding{{"p / space", "play/stop"}, {"+ / -", "tempo ±5"}}},
		{Keys: []KeyBinding{{"q", "quit"}}},
	})
	want := "Transport\n  p / space    play/stop\n  + / -        tempo ±5\n  q            quit"
	if got != want {
		t.Errorf("RenderKeyHelp =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderPadGridShape(t *testing.T) {
	out := RenderPadGrid(PadGrid{})
	lines := strings.Split(out, "\n")
	if len(lines) != 9 {
		t.Fatalf("got %d lines, want 9", len(lines))
	}
	if n := strings.Count(lines[0], "■"); n != 8 {
		t.Errorf("top row has %d pads, want 8", n)
	}
	if n := strings.Count(lines[8], "■"); n != 9 {
		t.Errorf("bottom row has %d pads, want 9", n)
	}
}
