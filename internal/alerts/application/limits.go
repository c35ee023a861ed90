package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	alerts "landslide-cloud/internal/alerts/domain"
	"landslide-cloud/internal/alerts/engine"
)

// Limits are the hard caps a replay is checked against before any work starts.
type Limits struct {
	MaxRangeHours  int `yaml:"max_range_hours"`
	MaxDevices     int `yaml:"max_devices"`
	MaxRows        int `yaml:"max_rows"`
	SeriesCapacity int `yaml:"series_capacity"`
	WindowCapacity int `yaml:"window_capacity"`
}

// DefaultLimits returns the built-in caps.
func DefaultLimits() Limits {
	return Limits{
		MaxRangeHours:  168,
		MaxDevices:     200,
		MaxRows:        200000,
		SeriesCapacity: engine.DefaultSeriesCapacity,
		WindowCapacity: engine.DefaultWindowCapacity,
	}
}

// LoadLimits reads REPLAY_CONFIG (yaml) over the defaults, then applies the
// REPLAY_* environment overrides.
func LoadLimits() (Limits, error) {
	limits := DefaultLimits()

	if path := os.Getenv("REPLAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return limits, err
		}
		var file struct {
			Replay Limits `yaml:"replay"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return limits, err
		}
		limits = mergeLimits(limits, file.Replay)
	}

	limits.MaxRangeHours = getenvIntDefault("REPLAY_MAX_RANGE_HOURS", limits.MaxRangeHours)
	limits.MaxDevices = getenvIntDefault("REPLAY_MAX_DEVICES", limits.MaxDevices)
	limits.MaxRows = getenvIntDefault("REPLAY_MAX_ROWS", limits.MaxRows)
	limits.SeriesCapacity = getenvIntDefault("REPLAY_SERIES_CAP", limits.SeriesCapacity)
	limits.WindowCapacity = getenvIntDefault("REPLAY_WINDOW_CAP", limits.WindowCapacity)

	if err := limits.Validate(); err != nil {
		return limits, err
	}
	return limits, nil
}

// Validate rejects non-positive caps.
func (l Limits) Validate() error {
	switch {
	case l.MaxRangeHours <= 0:
		return errors.New("replay limits: max range hours must be positive")
	case l.MaxDevices <= 0:
		return errors.New("replay limits: max devices must be positive")
	case l.MaxRows <= 0:
		return errors.New("replay limits: max rows must be positive")
	case l.SeriesCapacity <= 0:
		return errors.New("replay limits: series capacity must be positive")
	case l.WindowCapacity <= 0:
		return errors.New("replay limits: window capacity must be positive")
	}
	return nil
}

// CheckWindow rejects a window that needs more points than the window
// capacity retains; such a window could never become ready.
func (l Limits) CheckWindow(w alerts.WindowSpec) error {
	switch {
	case w.Type == alerts.WindowPoints && w.Points > l.WindowCapacity:
		return &alerts.LimitError{Field: "window.points", Max: l.WindowCapacity}
	case w.Type == alerts.WindowDuration && w.MinPoints > l.WindowCapacity:
		return &alerts.LimitError{Field: "window.minPoints", Max: l.WindowCapacity}
	}
	return nil
}

// MaxRange returns the longest allowed replay span.
func (l Limits) MaxRange() time.Duration {
	return time.Duration(l.MaxRangeHours) * time.Hour
}

func mergeLimits(base, override Limits) Limits {
	if override.MaxRangeHours != 0 {
		base.MaxRangeHours = override.MaxRangeHours
	}
	if override.MaxDevices != 0 {
		base.MaxDevices = override.MaxDevices
	}
	if override.MaxRows != 0 {
		base.MaxRows = override.MaxRows
	}
	if override.SeriesCapacity != 0 {
		base.SeriesCapacity = override.SeriesCapacity
	}
	if override.WindowCapacity != 0 {
		base.WindowCapacity = override.WindowCapacity
	}
	return base
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
