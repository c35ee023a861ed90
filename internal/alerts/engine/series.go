package engine

import (
	alerts "landslide-cloud/internal/alerts/domain"
)

// DefaultSeriesCapacity bounds each (device, sensor) history.
const DefaultSeriesCapacity = 1000

// SeriesStore keeps a bounded FIFO history per sensor for one device.
type SeriesStore struct {
	capacity int
	series   map[string][]alerts.SeriesPoint
}

// NewSeriesStore constructs a store; non-positive capacity falls back to the default.
func NewSeriesStore(capacity int) *SeriesStore {
	if capacity <= 0 {
		capacity = DefaultSeriesCapacity
	}
	return &SeriesStore{capacity: capacity, series: make(map[string][]alerts.SeriesPoint)}
}

// Record appends a sample, evicting the oldest beyond capacity.
func (s *SeriesStore) Record(sensorKey string, timestampMs int64, value float64) {
	points := append(s.series[sensorKey], alerts.SeriesPoint{TimestampMs: timestampMs, Value: value})
	if over := len(points) - s.capacity; over > 0 {
		points = points[over:]
	}
	s.series[sensorKey] = points
}

// RecordSnapshot records every value of a snapshot.
func (s *SeriesStore) RecordSnapshot(snapshot Snapshot) {
	for key, value := range snapshot.Values {
		s.Record(key, snapshot.TimestampMs, value)
	}
}

// Read returns the samples selected by window as of nowMs.
// Points windows return the last N, duration windows everything at or after
// now-minutes, and a nil window only the most recent sample.
// The returned slice aliases the store and must not be modified.
func (s *SeriesStore) Read(sensorKey string, window *alerts.WindowSpec, nowMs int64) []alerts.SeriesPoint {
	points := s.series[sensorKey]
	if len(points) == 0 {
		return nil
	}
	if window == nil || window.Type == alerts.WindowNone {
		return points[len(points)-1:]
	}
	switch window.Type {
	case alerts.WindowPoints:
		if window.Points >= len(points) {
			return points
		}
		if window.Points <= 0 {
			return nil
		}
		return points[len(points)-window.Points:]
	case alerts.WindowDuration:
		cutoff := float64(nowMs) - window.DurationMs()
		i := len(points)
		for i > 0 && float64(points[i-1].TimestampMs) >= cutoff {
			i--
		}
		return points[i:]
	default:
		return nil
	}
}

// Len returns the retained sample count for a sensor.
func (s *SeriesStore) Len(sensorKey string) int {
	return len(s.series[sensorKey])
}

// seriesReader binds a store to an evaluation instant and the rule's default window.
type seriesReader struct {
	store    *SeriesStore
	nowMs    int64
	fallback *alerts.WindowSpec
}

func (r seriesReader) Read(sensorKey string, window *alerts.WindowSpec) []alerts.SeriesPoint {
	if window == nil {
		window = r.fallback
	}
	return r.store.Read(sensorKey, window, r.nowMs)
}

// metricWindowFor maps the rule window to the default series lookup window.
func metricWindowFor(rule alerts.WindowSpec) *alerts.WindowSpec {
	switch rule.Type {
	case alerts.WindowDuration:
		return &alerts.WindowSpec{Type: alerts.WindowDuration, Minutes: rule.Minutes, MinPoints: rule.MinPoints}
	case alerts.WindowPoints:
		return &alerts.WindowSpec{Type: alerts.WindowPoints, Points: rule.Points}
	default:
		return nil
	}
}
