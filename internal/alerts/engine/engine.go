// Package engine replays telemetry rows through an alert rule and reports
// the trigger/resolve edges per device.
//
// One Engine owns its device states for the duration of a single run; nothing
// is shared across runs. Devices never share mutable state, so the fold is a
// strict function of the ordered input.
package engine

import (
	alerts "landslide-cloud/internal/alerts/domain"
	telemetry "landslide-cloud/internal/telemetry/domain"
)

// Option customizes an Engine.
type Option func(*Engine)

// WithSeriesCapacity bounds the per-sensor history.
func WithSeriesCapacity(capacity int) Option {
	return func(e *Engine) {
		if capacity > 0 {
			e.seriesCapacity = capacity
		}
	}
}

// WithWindowCapacity bounds the per-device evaluation window.
func WithWindowCapacity(capacity int) Option {
	return func(e *Engine) {
		if capacity > 0 {
			e.windowCapacity = capacity
		}
	}
}

// Engine is a single replay run.
type Engine struct {
	seriesCapacity int
	windowCapacity int

	machine *Machine
	states  map[string]*DeviceState
	emitter *Emitter
	grouper *Grouper
}

// New constructs an engine for a validated rule.
func New(rule alerts.RuleDefinition, opts ...Option) *Engine {
	e := &Engine{
		seriesCapacity: DefaultSeriesCapacity,
		windowCapacity: DefaultWindowCapacity,
		states:         make(map[string]*DeviceState),
		emitter:        NewEmitter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.machine = NewMachine(rule, e.seriesCapacity, e.windowCapacity)
	e.grouper = NewGrouper(e.Observe)
	return e
}

// Feed consumes one raw row.
func (e *Engine) Feed(row telemetry.RangeRow) {
	e.emitter.CountRow()
	e.grouper.Add(row)
}

// Observe processes one snapshot directly.
func (e *Engine) Observe(snapshot Snapshot) {
	st := e.state(snapshot.DeviceID)
	e.emitter.CountPoint(snapshot.DeviceID)
	e.emitter.Emit(e.machine.Step(st, snapshot)...)
}

// Finish flushes the pending snapshot and returns the report.
func (e *Engine) Finish() Report {
	e.grouper.Flush()
	return e.emitter.Report()
}

// State returns the state of a device, if it has been seen.
func (e *Engine) State(deviceID string) (*DeviceState, bool) {
	st, ok := e.states[deviceID]
	return st, ok
}

func (e *Engine) state(deviceID string) *DeviceState {
	st, ok := e.states[deviceID]
	if !ok {
		st = e.machine.NewState(deviceID)
		e.states[deviceID] = st
	}
	return st
}

// Run replays rows through rule in one synchronous pass.
func Run(rule alerts.RuleDefinition, rows []telemetry.RangeRow, opts ...Option) Report {
	e := New(rule, opts...)
	for _, row := range rows {
		e.Feed(row)
	}
	return e.Finish()
}
