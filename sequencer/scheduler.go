package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-rhythm/debug"
)

// AudioContext is the clock the scheduler stamps events against. Time is in
// seconds from the context's own epoch.
type AudioContext interface {
	CurrentTime() float64
	Suspended() bool
	Resume(ctx context.Context) error
}

// ContextOpener creates the audio context on first start.
type ContextOpener func() (AudioContext, error)

// Config holds the scheduler tunables.
type Config struct {
	// Interval is how often Tick runs.
	Interval time.Duration
	// ScheduleAhead is how far past "now" a Tick may schedule, in seconds.
	// It must be longer than Interval.
	ScheduleAhead float64
	// StartOffset delays the first step after Start so its time is strictly
	// in the future, in seconds.
	StartOffset float64
	Tempo       float64
}

// DefaultConfig polls every 25ms and schedules 100ms ahead.
func DefaultConfig() Config {
	return Config{
		Interval:      25 * time.Millisecond,
		ScheduleAhead: 0.1,
		StartOffset:   0.1,
		Tempo:         120,
	}
}

// Validate checks the relationship between the two timing tunables.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %v", c.Interval)
	}
	if c.ScheduleAhead <= c.Interval.Seconds() {
		return fmt.Errorf("%w: window %.3fs, interval %v", ErrWindowTooShort, c.ScheduleAhead, c.Interval)
	}
	if c.StartOffset < 0 {
		return fmt.Errorf("start offset must not be negative, got %v", c.StartOffset)
	}
	if !ValidTempo(c.Tempo) {
		return fmt.Errorf("%w: %v", ErrInvalidTempo, c.Tempo)
	}
	return nil
}

// Note is a dispatched step, kept so the UI can show what is audible now.
type Note struct {
	Step int
	Time float64
}

// maxNotes bounds the note queue; at 300bpm and 100ms look-ahead only a
// handful are ever pending.
const maxNotes = 64

// State is a snapshot for display.
type State struct {
	Playing  bool
	Tempo    float64
	Step     int     // next step to be scheduled
	NextTime float64 // its audio-clock time
	Audible  int     // step sounding now, -1 if none yet
	Now      float64 // audio-clock time of the snapshot
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithTicker replaces the time.Ticker used for polling.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(s *Scheduler) { s.newTicker = newTicker }
}

// WithErrorHandler receives every voice failure. Failures are always logged.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

// Scheduler is the look-ahead scheduler and its transport.
type Scheduler struct {
	cfg       Config
	kit       *Kit
	open      ContextOpener
	newTicker func(time.Duration) Ticker
	onError   func(error)

	toggling sync.Mutex // held across Start/Stop, resume included

	mu        sync.Mutex // guards everything below
	audio     AudioContext
	transport Transport
	notes     []Note
	stop      chan struct{}
	done      chan struct{}

	updates chan struct{}
}

// New creates a stopped scheduler. open is called lazily on the first Start.
func New(kit *Kit, open ContextOpener, cfg Config, opts ...Option) (*Scheduler, error) {
	if kit == nil {
		return nil, fmt.Errorf("nil kit")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:       cfg,
		kit:       kit,
		open:      open,
		newTicker: NewTimeTicker,
		updates:   make(chan struct{}, 1),
	}
	s.transport.SetTempo(cfg.Tempo)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Kit returns the pattern store.
func (s *Scheduler) Kit() *Kit {
	return s.kit
}

// Config returns the tunables the scheduler was built with.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Updates signals state changes. Sends never block; readers see at most one
// pending signal.
func (s *Scheduler) Updates() <-chan struct{} {
	return s.updates
}

func (s *Scheduler) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Toggle starts a stopped scheduler or stops a playing one. It returns
// ErrBusy if another Toggle is still waiting for the audio context to resume.
func (s *Scheduler) Toggle(ctx context.Context) (playing bool, err error) {
	if !s.toggling.TryLock() {
		return false, ErrBusy
	}
	defer s.toggling.Unlock()

	if s.Playing() {
		s.stopLocked()
		return false, nil
	}
	if err := s.startLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Start begins playback. Starting a playing scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.toggling.Lock()
	defer s.toggling.Unlock()
	return s.startLocked(ctx)
}

// Stop halts the polling loop. Steps already handed to voices still sound.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.toggling.Lock()
	defer s.toggling.Unlock()
	s.stopLocked()
}

func (s *Scheduler) startLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.transport.Playing {
		s.mu.Unlock()
		return nil
	}
	ac := s.audio
	s.mu.Unlock()

	if ac == nil {
		var err error
		ac, err = s.openAudio()
		if err != nil {
			debug.Log("transport", "start failed: %v", err)
			return err
		}
		s.mu.Lock()
		s.audio = ac
		s.mu.Unlock()
	}

	// Resume must finish before the first Tick reads the clock.
	if ac.Suspended() {
		debug.Log("transport", "resuming suspended audio context")
		if err := ac.Resume(ctx); err != nil {
			return fmt.Errorf("resume audio context: %w", err)
		}
	}

	s.mu.Lock()
	s.transport.reset(ac.CurrentTime(), s.cfg.StartOffset)
	s.notes = s.notes[:0]
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker := s.newTicker(s.cfg.Interval)
	go s.loop(ticker, s.stop, s.done)
	debug.Log("transport", "start tempo=%.2f first=%.4fs", s.transport.Tempo(), s.transport.NextTime)
	s.mu.Unlock()

	s.Tick()
	s.notify()
	return nil
}

func (s *Scheduler) openAudio() (AudioContext, error) {
	if s.open == nil {
		return nil, fmt.Errorf("%w: no audio context configured", ErrResourceUnavailable)
	}
	ac, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}
	if ac == nil {
		return nil, ErrResourceUnavailable
	}
	return ac, nil
}

func (s *Scheduler) stopLocked() {
	s.mu.Lock()
	if !s.transport.Playing {
		s.mu.Unlock()
		return
	}
	s.transport.clear()
	s.notes = s.notes[:0]
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	close(stop)
	<-done
	debug.Log("transport", "stop")
	s.notify()
}

// loop re-arms Tick on every ticker fire until stop is closed.
func (s *Scheduler) loop(t Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			s.Tick()
		}
	}
}

// Tick schedules every step whose time falls before now + ScheduleAhead.
// After a stall it catches up in one burst, each step keeping the time it
// was computed for. It does nothing while stopped or without an audio
// context.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.audio == nil || !s.transport.Playing {
		return
	}

	horizon := s.audio.CurrentTime() + s.cfg.ScheduleAhead
	n := 0
	for s.transport.NextTime < horizon {
		step, at := s.transport.Step, s.transport.NextTime
		s.dispatch(step, at)
		s.pushNote(Note{Step: step, Time: at})
		s.transport.advance()
		n++
	}
	if n > 1 {
		debug.Log("sched", "burst of %d steps, horizon=%.4fs", n, horizon)
	}
	if n > 0 {
		s.notify()
	}
}

// dispatch triggers every enabled instrument that hits on step. A failing
// voice is reported and the rest still fire.
func (s *Scheduler) dispatch(step int, at float64) {
	for _, inst := range s.kit.instruments {
		if !inst.Enabled() || !inst.Pattern.Hit(step) {
			continue
		}
		if err := inst.trigger(at); err != nil {
			verr := &VoiceError{Instrument: inst.Name, Step: step, Time: at, Err: err}
			debug.Log("voice", "%v", verr)
			if s.onError != nil {
				s.onError(verr)
			}
			continue
		}
		debug.LogEvery(64, "dispatch", "%s step=%d at=%.4f", inst.Name, step, at)
	}
}

func (s *Scheduler) pushNote(n Note) {
	if len(s.notes) == maxNotes {
		copy(s.notes, s.notes[1:])
		s.notes = s.notes[:maxNotes-1]
	}
	s.notes = append(s.notes, n)
}

// audibleStep pops notes whose time has passed and returns the latest one.
func (s *Scheduler) audibleStep(now float64) int {
	i := 0
	for i < len(s.notes) && s.notes[i].Time <= now {
		i++
	}
	if i == 0 {
		return -1
	}
	step := s.notes[i-1].Step
	// keep the audible note so the playhead does not blink off between steps
	s.notes = append(s.notes[:0], s.notes[i-1:]...)
	return step
}

// SetTempo changes the tempo for every interval computed from now on.
func (s *Scheduler) SetTempo(bpm float64) error {
	if err := s.transport.SetTempo(bpm); err != nil {
		return fmt.Errorf("%w: %v", err, bpm)
	}
	debug.Log("transport", "tempo=%.2f", bpm)
	s.notify()
	return nil
}

// Tempo returns the current tempo in BPM.
func (s *Scheduler) Tempo() float64 {
	return s.transport.Tempo()
}

// SetEnabled switches an instrument on or off, effective from the next
// dispatch.
func (s *Scheduler) SetEnabled(name string, on bool) error {
	if err := s.kit.SetEnabled(name, on); err != nil {
		return err
	}
	s.notify()
	return nil
}

// ToggleInstrument flips the instrument at idx in kit order.
func (s *Scheduler) ToggleInstrument(idx int) (string, bool, error) {
	name, on, err := s.kit.Toggle(idx)
	if err != nil {
		return "", false, err
	}
	s.notify()
	return name, on, nil
}

// Playing reports whether the loop is running.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport.Playing
}

// State returns a snapshot of the transport.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Playing:  s.transport.Playing,
		Tempo:    s.transport.Tempo(),
		Step:     s.transport.Step,
		NextTime: s.transport.NextTime,
		Audible:  -1,
	}
	if s.audio != nil {
		st.Now = s.audio.CurrentTime()
		if st.Playing {
			st.Audible = s.audibleStep(st.Now)
		}
	}
	return st
}
