package engine

import (
	alerts "landslide-cloud/internal/alerts/domain"
)

const (
	explainRuleTriggered   = "rule triggered"
	explainRuleRecovered   = "rule recovered"
	explainMissing         = "missing data"
	explainMissingRecovery = "missing data recovered"
)

// DeviceState is the evaluation state of one device for one run.
type DeviceState struct {
	DeviceID   string
	Series     *SeriesStore
	Window     *Window
	Active     bool
	ActiveKind alerts.Kind
}

// Machine applies the missing-data and rule transitions for a rule.
type Machine struct {
	rule           alerts.RuleDefinition
	metricWindow   *alerts.WindowSpec
	seriesCapacity int
	windowCapacity int
}

// NewMachine constructs a state machine for a validated rule.
func NewMachine(rule alerts.RuleDefinition, seriesCapacity, windowCapacity int) *Machine {
	return &Machine{
		rule:           rule,
		metricWindow:   metricWindowFor(rule.Window),
		seriesCapacity: seriesCapacity,
		windowCapacity: windowCapacity,
	}
}

// NewState returns the idle state for a device.
func (m *Machine) NewState(deviceID string) *DeviceState {
	return &DeviceState{
		DeviceID: deviceID,
		Series:   NewSeriesStore(m.seriesCapacity),
		Window:   NewWindow(m.rule.Window, m.windowCapacity),
	}
}

// Step consumes one snapshot and returns the events it produced, in order.
// The steps run in a fixed order: record history, evaluate, honour the
// ignore policy, push to the window, resolve then raise missing-data alerts,
// and finally decide the rule edge once the window is ready.
func (m *Machine) Step(st *DeviceState, snapshot Snapshot) []alerts.AlertEvent {
	st.Series.RecordSnapshot(snapshot)
	reader := seriesReader{store: st.Series, nowMs: snapshot.TimestampMs, fallback: m.metricWindow}

	okNow := alerts.Unknown
	if m.rule.When != nil {
		okNow = m.rule.When.Evaluate(snapshot.Values, reader)
	}
	if okNow == alerts.Unknown && m.ignoresMissing() {
		return nil
	}

	st.Window.Push(snapshot.TimestampMs, okNow == alerts.True)
	ready := st.Window.Ready()

	var missingKeys []string
	missingNow := false
	if m.rule.Missing.Raises() {
		missingKeys = absentKeys(m.rule.Missing.SensorKeys, snapshot.Values)
		missingNow = okNow == alerts.Unknown || !ready || len(missingKeys) > 0
	}

	var events []alerts.AlertEvent
	if st.Active && st.ActiveKind == alerts.KindMissing && !missingNow {
		events = append(events, m.event(st, snapshot, alerts.EventResolve, alerts.KindMissing, map[string]any{
			"kind":         string(alerts.KindMissing),
			"ready":        ready,
			"windowLength": st.Window.Len(),
		}, explainMissingRecovery))
		st.Active = false
		st.ActiveKind = alerts.KindNone
	}

	if missingNow {
		// An active rule alarm is left untouched here.
		if !st.Active {
			events = append(events, m.event(st, snapshot, alerts.EventTrigger, alerts.KindMissing, map[string]any{
				"kind":              string(alerts.KindMissing),
				"missingSensorKeys": missingKeys,
				"ready":             ready,
				"windowLength":      st.Window.Len(),
			}, explainMissing))
			st.Active = true
			st.ActiveKind = alerts.KindMissing
		}
		return events
	}

	if !ready {
		return events
	}

	triggered := st.Window.Triggered()
	switch {
	case triggered && !st.Active:
		events = append(events, m.event(st, snapshot, alerts.EventTrigger, alerts.KindRule, map[string]any{
			"kind":         string(alerts.KindRule),
			"windowLength": st.Window.Len(),
		}, explainRuleTriggered))
		st.Active = true
		st.ActiveKind = alerts.KindRule
	case !triggered && st.Active && st.ActiveKind == alerts.KindRule:
		events = append(events, m.event(st, snapshot, alerts.EventResolve, alerts.KindRule, map[string]any{
			"kind":         string(alerts.KindRule),
			"windowLength": st.Window.Len(),
		}, explainRuleRecovered))
		st.Active = false
		st.ActiveKind = alerts.KindNone
	}
	return events
}

func (m *Machine) ignoresMissing() bool {
	return m.rule.Missing.Policy == alerts.MissingIgnore || m.rule.Missing.Policy == ""
}

func (m *Machine) event(st *DeviceState, snapshot Snapshot, typ alerts.EventType, kind alerts.Kind, evidence map[string]any, explain string) alerts.AlertEvent {
	return alerts.AlertEvent{
		DeviceID:    st.DeviceID,
		Type:        typ,
		Kind:        kind,
		TimestampMs: snapshot.TimestampMs,
		Evidence:    evidence,
		Explain:     explain,
	}
}

func absentKeys(keys []string, values map[string]float64) []string {
	out := make([]string, 0)
	for _, key := range keys {
		if _, ok := values[key]; !ok {
			out = append(out, key)
		}
	}
	return out
}
