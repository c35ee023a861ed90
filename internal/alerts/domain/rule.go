package alerts

import (
	"strings"
)

// ScopeType selects which devices a rule applies to.
type ScopeType string

const (
	ScopeDevice  ScopeType = "device"
	ScopeStation ScopeType = "station"
	ScopeGlobal  ScopeType = "global"
)

// Scope identifies the devices targeted by a rule.
type Scope struct {
	Type      ScopeType
	DeviceID  string
	StationID string
}

// WindowType selects the window policy.
type WindowType string

const (
	WindowNone     WindowType = ""
	WindowDuration WindowType = "duration"
	WindowPoints   WindowType = "points"
)

// WindowSpec describes a rolling window, either by duration or point count.
// The zero value means no window.
type WindowSpec struct {
	Type      WindowType
	Minutes   float64
	MinPoints int
	Points    int
}

// DurationMs returns the window length in milliseconds.
func (w WindowSpec) DurationMs() float64 {
	return w.Minutes * 60_000
}

// MissingPolicyType selects how indeterminate evaluations are handled.
type MissingPolicyType string

const (
	MissingIgnore      MissingPolicyType = "ignore"
	MissingTreatAsFail MissingPolicyType = "treat_as_fail"
	MissingRaiseAlert  MissingPolicyType = "raise_missing_alert"
)

// MissingPolicy configures missing-data handling.
type MissingPolicy struct {
	Policy     MissingPolicyType
	SensorKeys []string
}

// Raises reports whether the policy emits missing-data alerts.
func (m MissingPolicy) Raises() bool {
	return m.Policy == MissingRaiseAlert
}

// TimeField selects which timestamp column drives a replay.
type TimeField string

const (
	TimeReceived TimeField = "received"
	TimeEvent    TimeField = "event"
)

// Severity of alerts raised by a rule.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RuleDefinition is an immutable, versioned alert rule.
type RuleDefinition struct {
	RuleID    string
	Version   int
	Name      string
	Enabled   bool
	Severity  Severity
	Scope     Scope
	When      Condition
	Window    WindowSpec
	Missing   MissingPolicy
	TimeField TimeField
}

// Validate checks rule invariants.
func (r RuleDefinition) Validate() error {
	switch r.Scope.Type {
	case ScopeDevice:
		if strings.TrimSpace(r.Scope.DeviceID) == "" {
			return NewValidationError("scope.deviceId", "required for device scope")
		}
	case ScopeStation:
		if strings.TrimSpace(r.Scope.StationID) == "" {
			return NewValidationError("scope.stationId", "required for station scope")
		}
	case ScopeGlobal:
	default:
		return NewValidationError("scope.type", "unsupported scope")
	}

	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return NewValidationError("severity", "unsupported severity")
	}

	if r.When == nil {
		return NewValidationError("when", "condition required")
	}
	if len(r.When.SensorKeys()) == 0 {
		return NewValidationError("when", "condition references no sensor keys")
	}

	if err := r.Window.validate("window", true); err != nil {
		return err
	}

	switch r.Missing.Policy {
	case MissingIgnore, MissingTreatAsFail:
	case MissingRaiseAlert:
		if len(r.Missing.SensorKeys) == 0 {
			return NewValidationError("missing.sensorKeys", "at least one sensor key required")
		}
		for _, key := range r.Missing.SensorKeys {
			if key == "" {
				return NewValidationError("missing.sensorKeys", "empty sensor key")
			}
		}
	default:
		return NewValidationError("missing.policy", "unsupported policy")
	}

	switch r.TimeField {
	case TimeReceived, TimeEvent:
	default:
		return NewValidationError("timeField", "unsupported time field")
	}
	return nil
}

// ValidateWindow checks a metric window used inside a condition.
func ValidateWindow(field string, w WindowSpec) error {
	return w.validate(field, false)
}

func (w WindowSpec) validate(field string, requireMinPoints bool) error {
	switch w.Type {
	case WindowNone:
		return nil
	case WindowDuration:
		if !(w.Minutes > 0) {
			return NewValidationError(field+".minutes", "must be positive")
		}
		if requireMinPoints && w.MinPoints < 1 {
			return NewValidationError(field+".minPoints", "must be a positive integer")
		}
		if w.MinPoints < 0 {
			return NewValidationError(field+".minPoints", "must be a positive integer")
		}
	case WindowPoints:
		if w.Points < 1 {
			return NewValidationError(field+".points", "must be a positive integer")
		}
	default:
		return NewValidationError(field+".type", "unsupported window type")
	}
	return nil
}
