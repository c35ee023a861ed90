package alerts

import "time"

// EventType is the lifecycle edge an event records.
type EventType string

const (
	EventTrigger EventType = "ALERT_TRIGGER"
	EventResolve EventType = "ALERT_RESOLVE"
)

// Kind tells what put a device into the active state.
type Kind string

const (
	KindNone    Kind = ""
	KindMissing Kind = "missing"
	KindRule    Kind = "rule"
)

// AlertEvent is emitted on a state transition. Never mutated after emission.
type AlertEvent struct {
	DeviceID    string
	Type        EventType
	Kind        Kind
	TimestampMs int64
	Evidence    map[string]any
	Explain     string
}

// Time returns the event timestamp in UTC.
func (e AlertEvent) Time() time.Time {
	return time.UnixMilli(e.TimestampMs).UTC()
}
