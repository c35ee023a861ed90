package application

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	alerts "landslide-cloud/internal/alerts/domain"
)

func TestLoadLimits_Defaults(t *testing.T) {
	t.Setenv("REPLAY_CONFIG", "")
	t.Setenv("REPLAY_MAX_ROWS", "")

	limits, err := LoadLimits()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if limits != DefaultLimits() {
		t.Fatalf("unexpected limits: %+v", limits)
	}
	if limits.MaxRange() != 168*time.Hour {
		t.Fatalf("unexpected max range: %s", limits.MaxRange())
	}
}

func TestLoadLimits_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	content := "replay:\n  max_range_hours: 48\n  max_devices: 10\n  max_rows: 5000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REPLAY_CONFIG", path)
	t.Setenv("REPLAY_MAX_ROWS", "9000")
	t.Setenv("REPLAY_WINDOW_CAP", "not-a-number")

	limits, err := LoadLimits()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if limits.MaxRangeHours != 48 || limits.MaxDevices != 10 {
		t.Fatalf("file values not applied: %+v", limits)
	}
	if limits.MaxRows != 9000 {
		t.Fatalf("env override not applied: %+v", limits)
	}
	if limits.SeriesCapacity != DefaultLimits().SeriesCapacity || limits.WindowCapacity != DefaultLimits().WindowCapacity {
		t.Fatalf("unset values should keep defaults: %+v", limits)
	}
}

func TestLoadLimits_RejectsInvalid(t *testing.T) {
	t.Setenv("REPLAY_CONFIG", "")
	t.Setenv("REPLAY_MAX_DEVICES", "-1")

	if _, err := LoadLimits(); err == nil {
		t.Fatalf("expected error for negative device cap")
	}
}

func TestLoadLimits_MissingFile(t *testing.T) {
	t.Setenv("REPLAY_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := LoadLimits(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLimits_CheckWindow(t *testing.T) {
	limits := DefaultLimits()
	limits.WindowCapacity = 10

	cases := []struct {
		window alerts.WindowSpec
		ok     bool
	}{
		{alerts.WindowSpec{}, true},
		{alerts.WindowSpec{Type: alerts.WindowPoints, Points: 10}, true},
		{alerts.WindowSpec{Type: alerts.WindowPoints, Points: 11}, false},
		{alerts.WindowSpec{Type: alerts.WindowDuration, Minutes: 5, MinPoints: 10}, true},
		{alerts.WindowSpec{Type: alerts.WindowDuration, Minutes: 5, MinPoints: 11}, false},
	}
	for _, tc := range cases {
		err := limits.CheckWindow(tc.window)
		if (err == nil) != tc.ok {
			t.Fatalf("window %+v: unexpected result %v", tc.window, err)
		}
		if err != nil && !errors.Is(err, alerts.ErrLimitExceeded) {
			t.Fatalf("window %+v: expected limit error, got %v", tc.window, err)
		}
	}
}
