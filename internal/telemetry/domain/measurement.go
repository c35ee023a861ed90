package telemetry

import (
	"context"
	"time"
)

// Measurement is a raw telemetry value written to storage.
type Measurement struct {
	TenantID  string
	StationID string
	DeviceID  string
	PointKey  string
	TS        time.Time
	// EventTS is the device-side timestamp, when the device reported one.
	EventTS time.Time

	ValueNumeric *float64
	ValueText    *string
	Quality      string
}

// TimeColumn selects which timestamp a range query filters and orders by.
type TimeColumn string

const (
	TimeColumnReceived TimeColumn = "received"
	TimeColumnEvent    TimeColumn = "event"
)

// RangeRow is one (device, sensor, timestamp) value. Value is nil when no
// numeric sample exists for that instant.
type RangeRow struct {
	DeviceID    string
	SensorKey   string
	TimestampMs int64
	Value       *float64
}

// RangeRequest bounds a range query. Start and End are inclusive.
type RangeRequest struct {
	DeviceIDs  []string
	SensorKeys []string
	Start      time.Time
	End        time.Time
	TimeColumn TimeColumn
	MaxRows    int
}

// RangeQuery returns rows sorted by (device, timestamp, sensor), truncated at MaxRows.
type RangeQuery interface {
	QueryRange(ctx context.Context, req RangeRequest) ([]RangeRow, error)
}

// TelemetryRepository persists telemetry measurements.
type TelemetryRepository interface {
	InsertMeasurements(ctx context.Context, measurements []Measurement) error
}
