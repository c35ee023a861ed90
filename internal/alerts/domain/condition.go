package alerts

// Tristate is the outcome of a condition evaluation. The zero value is Unknown.
type Tristate uint8

const (
	Unknown Tristate = iota
	True
	False
)

// TristateOf converts a definite boolean.
func TristateOf(v bool) Tristate {
	if v {
		return True
	}
	return False
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// SeriesPoint is one historical sample of a sensor.
type SeriesPoint struct {
	TimestampMs int64
	Value       float64
}

// SeriesReader gives a condition access to a device's recent history.
// A nil window selects the reader's default window.
type SeriesReader interface {
	Read(sensorKey string, window *WindowSpec) []SeriesPoint
}

// Condition is a pure predicate over a snapshot and its history.
type Condition interface {
	Evaluate(values map[string]float64, series SeriesReader) Tristate
	// SensorKeys lists referenced sensors, sorted and unique.
	SensorKeys() []string
}

// ConditionFunc adapts a function into a Condition.
type ConditionFunc struct {
	Keys []string
	Fn   func(values map[string]float64, series SeriesReader) Tristate
}

// Evaluate implements Condition.
func (c ConditionFunc) Evaluate(values map[string]float64, series SeriesReader) Tristate {
	if c.Fn == nil {
		return Unknown
	}
	return c.Fn(values, series)
}

// SensorKeys implements Condition.
func (c ConditionFunc) SensorKeys() []string {
	return c.Keys
}
