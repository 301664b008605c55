package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"altregime/internal/model"
)

// settingsVersion is the current schema version of the settings file.
// Loading a file with a different version fails loudly instead of
// silently misreading renamed fields.
const settingsVersion = 1

// Settings are the detector tunables. They are an explicit, versioned
// record passed into computations — never ambient global state.
type Settings struct {
	Version int `yaml:"version"`

	// Pivot windows. A pivot confirms only after PivotRight later bars.
	PivotLeft  int `yaml:"pivot_left"`
	PivotRight int `yaml:"pivot_right"`

	// Max bar distance between a price pivot and its paired indicator
	// pivot; pairs further apart are discarded.
	MaxPairDistance int `yaml:"max_pair_distance"`

	// Relative trendline-break buffer: beyond it a confirmation is hard,
	// inside it soft.
	ConfirmBuffer float64 `yaml:"confirm_buffer"`

	// Relative tolerance for "near extremum" in pair divergences.
	PairTolerance float64 `yaml:"pair_tolerance"`

	// Per-timeframe bar windows for trend direction and pair comparisons.
	TrendWindow map[model.Timeframe]int `yaml:"trend_window"`
	PairWindow  map[model.Timeframe]int `yaml:"pair_window"`
}

// DefaultSettings mirror the values the original signal tables were tuned
// against.
func DefaultSettings() Settings {
	return Settings{
		Version:         settingsVersion,
		PivotLeft:       2,
		PivotRight:      2,
		MaxPairDistance: 3,
		ConfirmBuffer:   0.002,
		PairTolerance:   0.0015,
		TrendWindow: map[model.Timeframe]int{
			model.TF15m: 12, model.TF1h: 10, model.TF4h: 12, model.TF1d: 10,
		},
		PairWindow: map[model.Timeframe]int{
			model.TF15m: 50, model.TF1h: 60, model.TF4h: 60, model.TF1d: 90,
		},
	}
}

// LoadSettings reads a YAML settings file, overlaying defaults. An empty
// path returns defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("settings read: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("settings parse: %w", err)
	}
	if s.Version != settingsVersion {
		return s, fmt.Errorf("settings version %d unsupported (want %d)", s.Version, settingsVersion)
	}
	if err := s.validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.PivotLeft < 1 || s.PivotRight < 1 {
		return fmt.Errorf("settings: pivot windows must be >= 1")
	}
	if s.MaxPairDistance < 0 {
		return fmt.Errorf("settings: max_pair_distance must be >= 0")
	}
	if s.ConfirmBuffer < 0 || s.PairTolerance < 0 {
		return fmt.Errorf("settings: buffers must be >= 0")
	}
	return nil
}

// MinBars is the minimum history before the detector emits anything:
// fewer bars is the normal insufficient-data steady state.
func (s *Settings) MinBars() int {
	return 2 * (s.PivotLeft + s.PivotRight)
}
