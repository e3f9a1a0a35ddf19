package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"go-rhythm/audio"
	"go-rhythm/config"
	"go-rhythm/debug"
	"go-rhythm/midi"
	"go-rhythm/sequencer"
	"go-rhythm/theme"
	"go-rhythm/tui"
)

type options struct {
	configPath string
	kitPath    string
	tempo      float64
	export     string
	bars       int
	debug      bool
	backend    string
	midiPort   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/go-rhythm/config.json)")
	flag.StringVar(&opts.kitPath, "kit", "", "YAML kit file (default: built-in 8-bit kit)")
	flag.Float64Var(&opts.tempo, "tempo", 0, "tempo in BPM (default: last used)")
	flag.StringVar(&opts.export, "export", "", "render to this WAV file instead of playing")
	flag.IntVar(&opts.bars, "bars", 4, "bars to render with -export")
	flag.BoolVar(&opts.debug, "debug", false, "log to ~/.config/go-rhythm/debug.log")
	flag.StringVar(&opts.backend, "backend", "", "voice backend: audio or midi")
	flag.StringVar(&opts.midiPort, "midi", "", "MIDI output port for the midi backend")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "go-rhythm: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.debug {
		if err := debug.Enable(debug.DefaultPath()); err != nil {
			return fmt.Errorf("debug log: %w", err)
		}
		defer debug.Disable()
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
	}
	if opts.midiPort != "" {
		cfg.SynthOutput.PortName = opts.midiPort
	}
	if opts.kitPath != "" {
		cfg.Kit.Path = opts.kitPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	kf := sequencer.DefaultKitFile()
	if cfg.Kit.Path != "" {
		if kf, err = sequencer.LoadKitFile(cfg.Kit.Path); err != nil {
			return err
		}
		if cfg.Kit.SampleDir == "" {
			cfg.Kit.SampleDir = filepath.Dir(cfg.Kit.Path)
		}
	}

	schedCfg := sequencer.Config{
		Interval:      cfg.Lookahead(),
		ScheduleAhead: cfg.Scheduler.ScheduleAhead,
		StartOffset:   cfg.Scheduler.StartOffset,
		Tempo:         resolveTempo(cfg, kf, opts.tempo),
	}

	if opts.export != "" {
		return export(cfg, kf, schedCfg, opts.export, opts.bars)
	}
	return play(cfg, kf, schedCfg)
}

// resolveTempo picks the starting tempo: the -tempo flag, then the tempo of
// a kit file given on the command line or in the config, then the last
// tempo used.
func resolveTempo(cfg *config.Config, kf *sequencer.KitFile, flagTempo float64) float64 {
	if flagTempo != 0 {
		return flagTempo
	}
	if cfg.Kit.Path != "" && kf != nil && kf.Tempo > 0 {
		return kf.Tempo
	}
	return cfg.UI.LastTempo
}

func audioOptions(cfg *config.Config) audio.Options {
	return audio.Options{SampleRate: cfg.Audio.SampleRate, Buffer: cfg.AudioBuffer()}
}

// audioVoices builds engine voices for kit instruments.
func audioVoices(cfg *config.Config, e *audio.Engine) func(sequencer.InstrumentSpec) (sequencer.Voice, error) {
	return func(spec sequencer.InstrumentSpec) (sequencer.Voice, error) {
		switch spec.Voice {
		case sequencer.VoiceKick:
			return e.KickVoice(), nil
		case sequencer.VoiceHiHat:
			return e.HiHatVoice(), nil
		case sequencer.VoiceBass:
			return e.BassVoice(spec.Frequency), nil
		case sequencer.VoiceSample:
			buf, err := e.LoadSample(cfg.SamplePath(spec.Sample))
			if err != nil {
				return nil, err
			}
			return e.SampleVoice(spec.Name, buf, spec.Volume), nil
		}
		return nil, fmt.Errorf("unknown voice %q", spec.Voice)
	}
}

// midiVoices routes every instrument to its note on the synth output.
func midiVoices(cfg *config.Config, out *midi.Output) func(sequencer.InstrumentSpec) (sequencer.Voice, error) {
	return func(spec sequencer.InstrumentSpec) (sequencer.Voice, error) {
		if spec.Note == 0 {
			return nil, fmt.Errorf("no MIDI note for %s", spec.Name)
		}
		return out.Voice("", uint8(cfg.SynthOutput.Channel), spec.Note, 0, cfg.Gate()), nil
	}
}

func applyMuted(cfg *config.Config, kit *sequencer.Kit) {
	for _, inst := range kit.Instruments() {
		if cfg.IsMuted(inst.Name) {
			inst.SetEnabled(false)
		}
	}
}

func play(cfg *config.Config, kf *sequencer.KitFile, schedCfg sequencer.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		kit    *sequencer.Kit
		opener sequencer.ContextOpener
		err    error
	)
	switch cfg.Backend {
	case config.BackendMIDI:
		clock := midi.NewWallClock()
		out := midi.NewOutput(clock, cfg.SynthOutput.PortName)
		if err := out.Open(""); err != nil {
			return fmt.Errorf("midi output: %w", err)
		}
		defer midi.CloseDriver()
		if kit, err = kf.Build(midiVoices(cfg, out)); err != nil {
			return err
		}
		opener = func() (sequencer.AudioContext, error) { return clock, nil }
	default:
		engine := audio.New(audioOptions(cfg))
		defer engine.Close()
		if kit, err = kf.Build(audioVoices(cfg, engine)); err != nil {
			return err
		}
		opener = func() (sequencer.AudioContext, error) {
			if err := engine.OpenOutput(); err != nil {
				return nil, err
			}
			return engine, nil
		}
	}
	applyMuted(cfg, kit)

	sched, err := sequencer.New(kit, opener, schedCfg)
	if err != nil {
		return err
	}
	defer sched.Stop()

	var surface *midi.Surface
	if cfg.Controller.AutoConnect {
		surface = midi.NewSurface(sched)
		stopSurface := runSurface(ctx, surface)
		defer stopSurface()
	}

	th := theme.New(nil)
	if cfg.UI.Palette != "" {
		p, err := theme.LoadGPL(cfg.UI.Palette)
		if err != nil {
			return err
		}
		th = theme.New(p)
	}

	m := tui.NewModel(ctx, sched, surface, th)
	m.OnQuit = func() {
		cfg.UI.LastTempo = sched.Tempo()
		for _, inst := range kit.Instruments() {
			cfg.SetMuted(inst.Name, !inst.Enabled())
		}
		if err := cfg.Save(); err != nil {
			debug.Log("config", "save %s: %v", cfg.Path(), err)
			return
		}
		debug.Log("config", "saved %s", cfg.Path())
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

// launchpadShutdown bounds the wait for the device manager to hand the
// Launchpad back; a port scan in flight can take up to its own timeout.
const launchpadShutdown = 4 * time.Second

// runSurface starts hot-plug polling and the Launchpad surface. The returned
// func stops the surface first, so no LED frame lands after the pads are
// blanked, then waits for the device manager to close the Launchpad.
func runSurface(ctx context.Context, surface *midi.Surface) (stop func()) {
	dmCtx, cancelDM := context.WithCancel(ctx)
	surfaceCtx, cancelSurface := context.WithCancel(ctx)

	dm := midi.NewDeviceManager()
	surfaceDone := make(chan struct{})
	go dm.Run(dmCtx)
	go func() {
		defer close(surfaceDone)
		surface.Run(surfaceCtx, dm)
	}()

	return func() {
		cancelSurface()
		<-surfaceDone
		cancelDM()
		select {
		case <-dm.Done():
		case <-time.After(launchpadShutdown):
			debug.Log("devices", "device manager did not stop in %v", launchpadShutdown)
		}
	}
}

// exportPlan is the timing of one WAV export.
type exportPlan struct {
	cutoff  float64 // hits at or after this belong to the bar after the last
	seconds float64 // render length including the tail
}

// exportTail lets the last hits ring out.
const exportTail = 0.5

func planExport(schedCfg sequencer.Config, bars int) (exportPlan, error) {
	if bars < 1 {
		return exportPlan{}, fmt.Errorf("bars must be at least 1, got %d", bars)
	}
	if !sequencer.ValidTempo(schedCfg.Tempo) {
		return exportPlan{}, fmt.Errorf("%w: %v", sequencer.ErrInvalidTempo, schedCfg.Tempo)
	}
	step := sequencer.SixteenthDuration(schedCfg.Tempo)
	end := schedCfg.StartOffset + float64(bars*sequencer.NumSteps)*step
	return exportPlan{
		cutoff:  end - step/2,
		seconds: end + exportTail,
	}, nil
}

// clip drops hits past the last bar.
func (p exportPlan) clip(v sequencer.Voice) sequencer.Voice {
	return sequencer.VoiceFunc(func(at float64) error {
		if at >= p.cutoff {
			return nil
		}
		return v.Trigger(at)
	})
}

// build makes the export kit with every voice clipped.
func (p exportPlan) build(kf *sequencer.KitFile, voiceFor func(sequencer.InstrumentSpec) (sequencer.Voice, error)) (*sequencer.Kit, error) {
	return kf.Build(func(spec sequencer.InstrumentSpec) (sequencer.Voice, error) {
		v, err := voiceFor(spec)
		if err != nil {
			return nil, err
		}
		return p.clip(v), nil
	})
}

// exportScheduler returns a started scheduler that only moves when the
// renderer calls Tick.
func exportScheduler(kit *sequencer.Kit, ac sequencer.AudioContext, schedCfg sequencer.Config) (*sequencer.Scheduler, error) {
	sched, err := sequencer.New(kit,
		func() (sequencer.AudioContext, error) { return ac, nil },
		schedCfg,
		sequencer.WithTicker(func(time.Duration) sequencer.Ticker { return sequencer.NewManualTicker() }),
	)
	if err != nil {
		return nil, err
	}
	if err := sched.Start(context.Background()); err != nil {
		return nil, err
	}
	return sched, nil
}

// export renders bars of the kit to a WAV file using the same scheduler the
// live player uses, ticked by the renderer instead of a timer.
func export(cfg *config.Config, kf *sequencer.KitFile, schedCfg sequencer.Config, path string, bars int) error {
	plan, err := planExport(schedCfg, bars)
	if err != nil {
		return err
	}

	engine := audio.New(audioOptions(cfg))
	kit, err := plan.build(kf, audioVoices(cfg, engine))
	if err != nil {
		return err
	}
	applyMuted(cfg, kit)
	for _, inst := range kit.Instruments() {
		if !inst.HasVoice() {
			fmt.Fprintf(os.Stderr, "warning: %s has no voice and will be silent\n", inst.Name)
		}
	}

	sched, err := exportScheduler(kit, engine, schedCfg)
	if err != nil {
		return err
	}
	defer sched.Stop()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := engine.Render(f, plan.seconds, sched.Tick); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bars at %.1f BPM, %.2fs)\n", path, bars, schedCfg.Tempo, plan.seconds)
	return nil
}
