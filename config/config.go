package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Voice backends
const (
	BackendAudio = "audio" // built-in synth voices and samples
	BackendMIDI  = "midi"  // notes on an external instrument
)

// AudioConfig sets up the output device
type AudioConfig struct {
	SampleRate int `json:"sampleRate,omitempty"`
	BufferMs   int `json:"bufferMs,omitempty"`
}

// SchedulerConfig tunes the look-ahead scheduler
type SchedulerConfig struct {
	LookaheadMs   int     `json:"lookaheadMs,omitempty"`   // polling interval
	ScheduleAhead float64 `json:"scheduleAhead,omitempty"` // seconds
	StartOffset   float64 `json:"startOffset,omitempty"`   // seconds
}

// KitConfig points at the pattern file and its samples
type KitConfig struct {
	Path      string `json:"path,omitempty"`      // YAML kit, empty for the built-in kit
	SampleDir string `json:"sampleDir,omitempty"` // relative sample paths resolve here
}

// SynthOutputConfig defines the synth MIDI output
type SynthOutputConfig struct {
	PortName string `json:"portName,omitempty"`
	Channel  int    `json:"channel,omitempty"` // 1-16
	GateMs   int    `json:"gateMs,omitempty"`
}

// ControllerConfig toggles Launchpad support
type ControllerConfig struct {
	AutoConnect bool `json:"autoConnect"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastTempo float64  `json:"lastTempo,omitempty"`
	Palette   string   `json:"palette,omitempty"` // GPL file, empty for the built-in one
	Muted     []string `json:"muted,omitempty"`   // instruments disabled at startup
}

// Config is the main configuration structure
type Config struct {
	Backend     string            `json:"backend,omitempty"`
	Audio       AudioConfig       `json:"audio,omitempty"`
	Scheduler   SchedulerConfig   `json:"scheduler,omitempty"`
	Kit         KitConfig         `json:"kit,omitempty"`
	SynthOutput SynthOutputConfig `json:"synthOutput,omitempty"`
	Controller  ControllerConfig  `json:"controller"`
	UI          UIConfig          `json:"ui,omitempty"`

	path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendAudio,
		Audio: AudioConfig{
			SampleRate: 44100,
			BufferMs:   20,
		},
		Scheduler: SchedulerConfig{
			LookaheadMs:   25,
			ScheduleAhead: 0.1,
			StartOffset:   0.1,
		},
		SynthOutput: SynthOutputConfig{
			Channel: 10,
			GateMs:  50,
		},
		Controller: ControllerConfig{AutoConnect: true},
		UI: UIConfig{
			LastTempo: 120,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-rhythm"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config at path (the default location when empty), or
// returns defaults if it does not exist. Fields missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = p
	}

	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAudio, BackendMIDI:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Audio.SampleRate < 8000 {
		return fmt.Errorf("sample rate %d too low", c.Audio.SampleRate)
	}
	if c.SynthOutput.Channel < 1 || c.SynthOutput.Channel > 16 {
		return fmt.Errorf("midi channel %d out of range", c.SynthOutput.Channel)
	}
	return nil
}

// Path is where Save writes.
func (c *Config) Path() string {
	return c.path
}

// Save writes the config back to where it was loaded from
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Lookahead is the scheduler polling interval
func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.Scheduler.LookaheadMs) * time.Millisecond
}

// AudioBuffer is the speaker buffer length
func (c *Config) AudioBuffer() time.Duration {
	return time.Duration(c.Audio.BufferMs) * time.Millisecond
}

// Gate is how long MIDI notes are held
func (c *Config) Gate() time.Duration {
	return time.Duration(c.SynthOutput.GateMs) * time.Millisecond
}

// SamplePath resolves a kit sample reference against the sample dir.
func (c *Config) SamplePath(name string) string {
	if name == "" || filepath.IsAbs(name) || c.Kit.SampleDir == "" {
		return name
	}
	return filepath.Join(c.Kit.SampleDir, name)
}

// IsMuted reports whether an instrument starts disabled
func (c *Config) IsMuted(name string) bool {
	for _, m := range c.UI.Muted {
		if m == name {
			return true
		}
	}
	return false
}

// SetMuted records an instrument's startup state
func (c *Config) SetMuted(name string, muted bool) {
	kept := c.UI.Muted[:0]
	for _, m := range c.UI.Muted {
		if m != name {
			kept = append(kept, m)
		}
	}
	if muted {
		kept = append(kept, name)
	}
	c.UI.Muted = kept
}
