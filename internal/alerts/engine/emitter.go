package engine

import (
	alerts "landslide-cloud/internal/alerts/domain"
)

// DeviceReport is the replay outcome for one device.
type DeviceReport struct {
	DeviceID string
	Points   int
	Events   []alerts.AlertEvent
}

// Totals are run-level counters.
type Totals struct {
	Rows   int
	Points int
	Events int
}

// Report is the aggregated replay output.
type Report struct {
	Devices []DeviceReport
	Totals  Totals
}

// Emitter accumulates per-device events and counters. It performs no I/O.
type Emitter struct {
	order   []string
	devices map[string]*DeviceReport
	totals  Totals
}

// NewEmitter constructs an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{devices: make(map[string]*DeviceReport)}
}

// CountRow records one consumed input row.
func (e *Emitter) CountRow() {
	e.totals.Rows++
}

// CountPoint records one processed snapshot for a device.
func (e *Emitter) CountPoint(deviceID string) {
	e.device(deviceID).Points++
	e.totals.Points++
}

// Emit appends events to their devices.
func (e *Emitter) Emit(events ...alerts.AlertEvent) {
	for _, evt := range events {
		entry := e.device(evt.DeviceID)
		entry.Events = append(entry.Events, evt)
		e.totals.Events++
	}
}

// Report returns devices in order of first appearance.
func (e *Emitter) Report() Report {
	devices := make([]DeviceReport, 0, len(e.order))
	for _, id := range e.order {
		entry := e.devices[id]
		devices = append(devices, DeviceReport{
			DeviceID: entry.DeviceID,
			Points:   entry.Points,
			Events:   append([]alerts.AlertEvent(nil), entry.Events...),
		})
	}
	return Report{Devices: devices, Totals: e.totals}
}

func (e *Emitter) device(deviceID string) *DeviceReport {
	entry, ok := e.devices[deviceID]
	if !ok {
		entry = &DeviceReport{DeviceID: deviceID}
		e.devices[deviceID] = entry
		e.order = append(e.order, deviceID)
	}
	return entry
}
