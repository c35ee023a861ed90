// Package dsl decodes stored rule documents and evaluates their conditions.
package dsl

import (
	"math"
	"sort"

	alerts "landslide-cloud/internal/alerts/domain"
)

// Operator compares an observed number against the leaf operands.
type Operator string

const (
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpBetween        Operator = "between"
)

// Valid returns true when the operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual, OpEqual, OpNotEqual, OpBetween:
		return true
	default:
		return false
	}
}

// Aggregate reduces a metric series to one number.
type Aggregate string

const (
	AggLast  Aggregate = "last"
	AggMin   Aggregate = "min"
	AggMax   Aggregate = "max"
	AggAvg   Aggregate = "avg"
	AggDelta Aggregate = "delta"
	AggSlope Aggregate = "slope"
)

// Valid returns true when the aggregate is supported.
func (a Aggregate) Valid() bool {
	switch a {
	case AggLast, AggMin, AggMax, AggAvg, AggDelta, AggSlope:
		return true
	default:
		return false
	}
}

type node interface {
	eval(values map[string]float64, series alerts.SeriesReader) alerts.Tristate
	collect(keys map[string]struct{})
}

// Expression is a parsed condition tree.
type Expression struct {
	root node
	keys []string
}

var _ alerts.Condition = (*Expression)(nil)

func newExpression(root node) *Expression {
	set := make(map[string]struct{})
	root.collect(set)
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return &Expression{root: root, keys: keys}
}

// Evaluate implements alerts.Condition.
func (e *Expression) Evaluate(values map[string]float64, series alerts.SeriesReader) alerts.Tristate {
	if e == nil || e.root == nil {
		return alerts.Unknown
	}
	return e.root.eval(values, series)
}

// SensorKeys implements alerts.Condition.
func (e *Expression) SensorKeys() []string {
	if e == nil {
		return nil
	}
	return e.keys
}

type andNode struct{ items []node }

func (n andNode) eval(values map[string]float64, series alerts.SeriesReader) alerts.Tristate {
	unknown := false
	for _, item := range n.items {
		switch item.eval(values, series) {
		case alerts.False:
			return alerts.False
		case alerts.Unknown:
			unknown = true
		}
	}
	if unknown {
		return alerts.Unknown
	}
	return alerts.True
}

func (n andNode) collect(keys map[string]struct{}) {
	for _, item := range n.items {
		item.collect(keys)
	}
}

type orNode struct{ items []node }

func (n orNode) eval(values map[string]float64, series alerts.SeriesReader) alerts.Tristate {
	unknown := false
	for _, item := range n.items {
		switch item.eval(values, series) {
		case alerts.True:
			return alerts.True
		case alerts.Unknown:
			unknown = true
		}
	}
	if unknown {
		return alerts.Unknown
	}
	return alerts.False
}

func (n orNode) collect(keys map[string]struct{}) {
	for _, item := range n.items {
		item.collect(keys)
	}
}

type notNode struct{ item node }

func (n notNode) eval(values map[string]float64, series alerts.SeriesReader) alerts.Tristate {
	switch n.item.eval(values, series) {
	case alerts.True:
		return alerts.False
	case alerts.False:
		return alerts.True
	default:
		return alerts.Unknown
	}
}

func (n notNode) collect(keys map[string]struct{}) {
	n.item.collect(keys)
}

// comparison holds leaf operands. Absent operands are NaN, so only != can
// hold against them.
type comparison struct {
	op    Operator
	value float64
	min   float64
	max   float64
}

func (c comparison) apply(v float64) bool {
	switch c.op {
	case OpBetween:
		return v >= c.min && v <= c.max
	case OpGreater:
		return v > c.value
	case OpGreaterOrEqual:
		return v >= c.value
	case OpLess:
		return v < c.value
	case OpLessOrEqual:
		return v <= c.value
	case OpEqual:
		return v == c.value
	case OpNotEqual:
		return v != c.value
	default:
		return false
	}
}

type sensorLeaf struct {
	key string
	cmp comparison
}

func (n sensorLeaf) eval(values map[string]float64, _ alerts.SeriesReader) alerts.Tristate {
	v, ok := values[n.key]
	if !ok || math.IsNaN(v) {
		return alerts.Unknown
	}
	return alerts.TristateOf(n.cmp.apply(v))
}

func (n sensorLeaf) collect(keys map[string]struct{}) {
	keys[n.key] = struct{}{}
}

type metricLeaf struct {
	key    string
	agg    Aggregate
	window *alerts.WindowSpec
	cmp    comparison
}

func (n metricLeaf) eval(_ map[string]float64, series alerts.SeriesReader) alerts.Tristate {
	if series == nil {
		return alerts.Unknown
	}
	v, ok := aggregate(series.Read(n.key, n.window), n.agg)
	if !ok {
		return alerts.Unknown
	}
	return alerts.TristateOf(n.cmp.apply(v))
}

func (n metricLeaf) collect(keys map[string]struct{}) {
	keys[n.key] = struct{}{}
}

func aggregate(points []alerts.SeriesPoint, agg Aggregate) (float64, bool) {
	if len(points) == 0 {
		return 0, false
	}
	first := points[0]
	last := points[len(points)-1]

	switch agg {
	case AggLast:
		return last.Value, true
	case AggMin:
		out := first.Value
		for _, p := range points[1:] {
			out = math.Min(out, p.Value)
		}
		return out, true
	case AggMax:
		out := first.Value
		for _, p := range points[1:] {
			out = math.Max(out, p.Value)
		}
		return out, true
	case AggAvg:
		sum := 0.0
		for _, p := range points {
			sum += p.Value
		}
		return sum / float64(len(points)), true
	case AggDelta:
		return last.Value - first.Value, true
	case AggSlope:
		dtMs := last.TimestampMs - first.TimestampMs
		if dtMs <= 0 {
			return 0, false
		}
		// per minute
		return (last.Value - first.Value) / (float64(dtMs) / 60_000), true
	default:
		return 0, false
	}
}
