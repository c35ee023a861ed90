package engine

import (
	"math"

	telemetry "landslide-cloud/internal/telemetry/domain"
)

// Snapshot holds every numeric value one device reported at one instant.
type Snapshot struct {
	DeviceID    string
	TimestampMs int64
	Values      map[string]float64
}

// Grouper folds consecutive rows sharing (device, timestamp) into snapshots.
// Rows must arrive sorted by (device, timestamp, sensor) or at least grouped
// by (device, timestamp) in ascending time per device.
type Grouper struct {
	flush   func(Snapshot)
	current Snapshot
	open    bool
}

// NewGrouper constructs a grouper delivering snapshots to flush.
func NewGrouper(flush func(Snapshot)) *Grouper {
	return &Grouper{flush: flush}
}

// Add accumulates a row, flushing the previous snapshot on a key change.
// Null and non-finite values are left out of the snapshot; rows without a
// device id are skipped.
func (g *Grouper) Add(row telemetry.RangeRow) {
	if row.DeviceID == "" {
		return
	}
	if !g.open || row.DeviceID != g.current.DeviceID || row.TimestampMs != g.current.TimestampMs {
		g.Flush()
		g.current = Snapshot{DeviceID: row.DeviceID, TimestampMs: row.TimestampMs, Values: make(map[string]float64)}
		g.open = true
	}
	if row.Value == nil {
		return
	}
	v := *row.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	g.current.Values[row.SensorKey] = v
}

// Flush delivers the pending snapshot, if any. Call once after the last row.
func (g *Grouper) Flush() {
	if !g.open {
		return
	}
	snapshot := g.current
	g.current = Snapshot{}
	g.open = false
	if g.flush != nil {
		g.flush(snapshot)
	}
}
