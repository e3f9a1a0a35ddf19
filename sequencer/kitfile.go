package sequencer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"go-rhythm/debug"
)

// Voice kinds understood by the kit file.
const (
	VoiceKick   = "kick"
	VoiceHiHat  = "hihat"
	VoiceBass   = "bass"
	VoiceSample = "sample"
)

// KitFile is the on-disk description of a kit.
type KitFile struct {
	Name        string           `yaml:"name"`
	Tempo       float64          `yaml:"tempo,omitempty"`
	Instruments []InstrumentSpec `yaml:"instruments"`
}

// InstrumentSpec describes one instrument and the voice that plays it.
type InstrumentSpec struct {
	Name      string  `yaml:"name"`
	Voice     string  `yaml:"voice"`
	Steps     []int   `yaml:"steps"`
	Volume    float64 `yaml:"volume,omitempty"`
	Frequency float64 `yaml:"frequency,omitempty"` // bass only
	Sample    string  `yaml:"sample,omitempty"`    // sample only
	Note      uint8   `yaml:"note,omitempty"`      // MIDI note when routed to a synth
	Disabled  bool    `yaml:"disabled,omitempty"`
}

// DefaultKitFile is the built-in 8-bit kit.
func DefaultKitFile() *KitFile {
	return &KitFile{
		Name:  "8-bit",
		Tempo: 120,
		Instruments: []InstrumentSpec{
			{Name: "kick", Voice: VoiceKick, Note: 36,
				Steps: []int{1, 0, 0, 0, 1, 0, 1, 0, 1, 0, 0, 0, 1, 0, 1, 0}},
			{Name: "hihat", Voice: VoiceHiHat, Note: 42,
				Steps: []int{0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0}},
			{Name: "cowbell", Voice: VoiceSample, Sample: "cowbell.mp3", Volume: 0.6, Note: 56,
				Steps: []int{0, 0, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 1}},
			{Name: "bass", Voice: VoiceBass, Frequency: 41.20, Note: 28,
				Steps: []int{1, 0, 0, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 0, 0}},
			{Name: "vocal", Voice: VoiceSample, Sample: "vocal_chop_phonk.mp3", Volume: 0.7, Note: 75,
				Steps: []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0}},
		},
	}
}

// ParseKitFile decodes and validates a YAML kit.
func ParseKitFile(data []byte) (*KitFile, error) {
	var kf KitFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse kit: %w", err)
	}
	if err := kf.Validate(); err != nil {
		return nil, err
	}
	return &kf, nil
}

// LoadKitFile reads a YAML kit from disk.
func LoadKitFile(path string) (*KitFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kit: %w", err)
	}
	kf, err := ParseKitFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return kf, nil
}

// Marshal encodes the kit as YAML.
func (kf *KitFile) Marshal() ([]byte, error) {
	return yaml.Marshal(kf)
}

// Validate checks names, voice kinds, patterns and tempo.
func (kf *KitFile) Validate() error {
	if len(kf.Instruments) == 0 {
		return fmt.Errorf("kit has no instruments")
	}
	if kf.Tempo != 0 && !ValidTempo(kf.Tempo) {
		return fmt.Errorf("%w: %v", ErrInvalidTempo, kf.Tempo)
	}
	seen := make(map[string]bool)
	for i, spec := range kf.Instruments {
		if spec.Name == "" {
			return fmt.Errorf("instrument %d has no name", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate instrument %q", spec.Name)
		}
		seen[spec.Name] = true
		switch spec.Voice {
		case VoiceKick, VoiceHiHat, VoiceBass:
		case VoiceSample:
			if spec.Sample == "" {
				return fmt.Errorf("instrument %q: sample voice needs a sample path", spec.Name)
			}
		default:
			return fmt.Errorf("instrument %q: unknown voice %q", spec.Name, spec.Voice)
		}
		if _, err := ParsePattern(spec.Steps); err != nil {
			return fmt.Errorf("instrument %q: %w", spec.Name, err)
		}
	}
	return nil
}

// Build creates a Kit, asking voiceFor for each instrument's voice. A voice
// that cannot be built is logged and the instrument stays silent.
func (kf *KitFile) Build(voiceFor func(InstrumentSpec) (Voice, error)) (*Kit, error) {
	if err := kf.Validate(); err != nil {
		return nil, err
	}
	kit := NewKit()
	for _, spec := range kf.Instruments {
		pattern, _ := ParsePattern(spec.Steps)
		var voice Voice
		if voiceFor != nil {
			v, err := voiceFor(spec)
			if err != nil {
				debug.Log("kit", "instrument %s has no voice: %v", spec.Name, err)
			} else {
				voice = v
			}
		}
		inst, err := kit.Add(spec.Name, pattern, voice)
		if err != nil {
			return nil, err
		}
		inst.SetEnabled(!spec.Disabled)
	}
	return kit, nil
}
