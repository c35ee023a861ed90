package engine

import (
	alerts "landslide-cloud/internal/alerts/domain"
)

// DefaultWindowCapacity is the hard cap on retained window points.
const DefaultWindowCapacity = 10000

// WindowPoint is one evaluation outcome.
type WindowPoint struct {
	TimestampMs int64
	Satisfied   bool
}

// Window is the per-device rolling sequence of evaluation outcomes.
type Window struct {
	policy   alerts.WindowSpec
	capacity int
	points   []WindowPoint
}

// NewWindow constructs a window; non-positive capacity falls back to the default.
func NewWindow(policy alerts.WindowSpec, capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &Window{policy: policy, capacity: capacity}
}

// Push appends an outcome and prunes by policy, then by capacity.
func (w *Window) Push(timestampMs int64, satisfied bool) {
	w.points = append(w.points, WindowPoint{TimestampMs: timestampMs, Satisfied: satisfied})

	drop := 0
	switch w.policy.Type {
	case alerts.WindowDuration:
		cutoff := float64(timestampMs) - w.policy.DurationMs()
		for drop < len(w.points) && float64(w.points[drop].TimestampMs) < cutoff {
			drop++
		}
	case alerts.WindowPoints:
		if over := len(w.points) - w.policy.Points; over > 0 {
			drop = over
		}
	default:
		drop = len(w.points) - 1
	}
	if over := len(w.points) - drop - w.capacity; over > 0 {
		drop += over
	}
	if drop > 0 {
		w.points = w.points[drop:]
	}
}

// Ready reports whether enough points were collected to decide.
func (w *Window) Ready() bool {
	switch w.policy.Type {
	case alerts.WindowPoints:
		return len(w.points) >= w.policy.Points
	case alerts.WindowDuration:
		return len(w.points) >= w.policy.MinPoints
	default:
		return true
	}
}

// Triggered reports whether every retained point is satisfied.
func (w *Window) Triggered() bool {
	for _, p := range w.points {
		if !p.Satisfied {
			return false
		}
	}
	return true
}

// Len returns the retained point count.
func (w *Window) Len() int {
	return len(w.points)
}

// Points returns a copy of the retained points.
func (w *Window) Points() []WindowPoint {
	return append([]WindowPoint(nil), w.points...)
}
