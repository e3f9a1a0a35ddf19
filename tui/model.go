package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-rhythm/midi"
	"go-rhythm/sequencer"
	"go-rhythm/theme"
	"go-rhythm/widgets"
)

// frameRate paces playhead redraws while playing
const frameRate = 30

// Transport is the scheduler as the UI sees it.
type Transport interface {
	midi.Transport
	Updates() <-chan struct{}
	Stop()
}

type Model struct {
	Transport Transport
	Surface   *midi.Surface // optional, mirrors the Launchpad
	Theme     *theme.Theme
	OnQuit    func() // runs before the program exits

	ctx      context.Context
	cancel   context.CancelFunc
	err      string
	showPads bool
	toggling bool
	framing  bool
	quitting bool
}

// UpdateMsg signals a scheduler state change
type UpdateMsg struct{}

// FrameMsg redraws the playhead
type FrameMsg time.Time

// ToggledMsg carries the result of a play/stop request
type ToggledMsg struct {
	Playing bool
	Err     error
}

// NewModel returns the UI model. Toggles run under a child of ctx that is
// cancelled on quit.
func NewModel(ctx context.Context, t Transport, surface *midi.Surface, th *theme.Theme) Model {
	ctx, cancel := context.WithCancel(ctx)
	return Model{
		Transport: t,
		Surface:   surface,
		Theme:     th,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func ListenForUpdates(t Transport) tea.Cmd {
	return func() tea.Msg {
		<-t.Updates()
		return UpdateMsg{}
	}
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/frameRate, func(t time.Time) tea.Msg {
		return FrameMsg(t)
	})
}

// toggle runs Toggle off the UI goroutine; resuming audio can block.
func toggle(ctx context.Context, t Transport) tea.Cmd {
	return func() tea.Msg {
		playing, err := t.Toggle(ctx)
		return ToggledMsg{Playing: playing, Err: err}
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForUpdates(m.Transport)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case UpdateMsg:
		cmds := []tea.Cmd{ListenForUpdates(m.Transport)}
		if m.Transport.State().Playing && !m.framing {
			m.framing = true
			cmds = append(cmds, frame())
		}
		return m, tea.Batch(cmds...)

	case FrameMsg:
		if m.Transport.State().Playing {
			return m, frame()
		}
		m.framing = false

	case ToggledMsg:
		m.toggling = false
		switch {
		case errors.Is(msg.Err, sequencer.ErrBusy):
		case msg.Err != nil:
			m.err = msg.Err.Error()
		default:
			m.err = ""
		}
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		// abandon a resume still in flight so Stop can take over
		m.cancel()
		m.Transport.Stop()
		if m.OnQuit != nil {
			m.OnQuit()
		}
		return m, tea.Quit

	case "p", " ":
		if m.toggling {
			return m, nil
		}
		m.toggling = true
		return m, toggle(m.ctx, m.Transport)

	case "+", "=":
		m.nudgeTempo(5)
	case "-", "_":
		m.nudgeTempo(-5)
	case "]":
		m.nudgeTempo(1)
	case "[":
		m.nudgeTempo(-1)

	case "l":
		m.showPads = !m.showPads

	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		idx := int(key[0] - '1')
		if _, _, err := m.Transport.ToggleInstrument(idx); err != nil && !errors.Is(err, sequencer.ErrUnknownInstrument) {
			m.err = err.Error()
		}
	}
	return m, nil
}

func (m *Model) nudgeTempo(delta float64) {
	if err := m.Transport.SetTempo(m.Transport.Tempo() + delta); err != nil {
		m.err = err.Error()
		return
	}
	m.err = ""
}

var keyHelp = []widgets.KeySection{
	{Keys: []widgets.KeyBinding{
		{Key: "p / space", Desc: "play / stop"},
		{Key: "+ / -", Desc: "tempo ±5"},
		{Key: "[ / ]", Desc: "tempo ±1"},
		{Key: "1-9", Desc: "mute / unmute instrument"},
		{Key: "l", Desc: "show Launchpad pads"},
		{Key: "q", Desc: "quit"},
	}},
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.Transport.State()
	kit := m.Transport.Kit()

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	errStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	playState := "STOP"
	if st.Playing {
		playState = lipgloss.NewStyle().Foreground(m.Theme.Success()).Render("PLAY")
	}
	step := "--"
	if st.Audible >= 0 {
		step = fmt.Sprintf("%02d", st.Audible+1)
	}
	deviceStatus := ""
	if m.Surface != nil && m.Surface.Attached() != "" {
		deviceStatus = "  LP:X"
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(headerStyle.Render(fmt.Sprintf("go-rhythm  %s  %5.1fbpm  step:%s%s", playState, st.Tempo, step, deviceStatus)))
	out.WriteString("\n\n")

	insts := kit.Instruments()
	for i, inst := range insts {
		out.WriteString(m.renderRow(i, len(insts), inst, st.Audible))
		out.WriteString("\n")
	}
	out.WriteString(dimStyle.Render("           " + beatRuler()))
	out.WriteString("\n")

	if m.showPads && m.Surface != nil {
		out.WriteString("\n")
		out.WriteString(widgets.RenderPadGrid(padGrid(m.Surface.Render())))
		out.WriteString("\n")
		for _, l := range midi.Legend {
			out.WriteString(widgets.RenderLegendItem(l.Color, l.Name, l.Desc))
			out.WriteString("\n")
		}
	}

	if m.err != "" {
		out.WriteString("\n")
		out.WriteString(errStyle.Render(m.err))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	out.WriteString(dimStyle.Render(widgets.RenderKeyHelp(keyHelp)))
	return out.String()
}

// renderRow draws one instrument: number, name, then the 16 steps in
// groups of four.
func (m Model) renderRow(i, n int, inst *sequencer.Instrument, audible int) string {
	sym := m.Theme.Symbols
	color := m.Theme.Instrument(i, n)
	if !inst.Enabled() || !inst.HasVoice() {
		color = m.Theme.Muted()
	}
	style := lipgloss.NewStyle().Foreground(color)
	head := lipgloss.NewStyle().Foreground(m.Theme.Active())

	var cells strings.Builder
	for s := 0; s < sequencer.NumSteps; s++ {
		if s > 0 && s%4 == 0 {
			cells.WriteString(" ")
		}
		hit := inst.Pattern.Hit(s)
		var r rune
		switch {
		case s == audible && hit:
			r = sym.PlayheadHit
		case s == audible:
			r = sym.StepPlayhead
		case hit && inst.Enabled():
			r = sym.StepActive
		case hit:
			r = sym.StepMuted
		default:
			r = sym.StepEmpty
		}
		if s == audible {
			cells.WriteString(head.Render(string(r)))
		} else {
			cells.WriteString(style.Render(string(r)))
		}
	}

	label := inst.Name
	if !inst.HasVoice() {
		label += "?"
	}
	num := lipgloss.NewStyle().Foreground(m.Theme.FG()).Render(fmt.Sprintf("%d", i+1))
	return fmt.Sprintf("%s %s %s", num, style.Render(fmt.Sprintf("%-8s", label)), cells.String())
}

func beatRuler() string {
	return "1    2    3    4"
}

func padGrid(leds []midi.LEDUpdate) widgets.PadGrid {
	var g widgets.PadGrid
	for _, l := range leds {
		if l.Row >= 0 && l.Row < 9 && l.Col >= 0 && l.Col < 9 {
			g[l.Row][l.Col] = l.Color
		}
	}
	return g
}
