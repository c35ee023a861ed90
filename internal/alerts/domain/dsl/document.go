package dsl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	alerts "landslide-cloud/internal/alerts/domain"
)

// CurrentVersion is the only supported document version.
const CurrentVersion = 1

type ruleDocument struct {
	DSLVersion int             `json:"dslVersion"`
	Name       *string         `json:"name,omitempty"`
	Scope      json.RawMessage `json:"scope"`
	Enabled    *bool           `json:"enabled"`
	Severity   string          `json:"severity"`
	TimeField  string          `json:"timeField,omitempty"`
	Missing    json.RawMessage `json:"missing,omitempty"`
	When       json.RawMessage `json:"when"`
	Window     json.RawMessage `json:"window,omitempty"`

	// Live-evaluation settings; replay ignores them.
	Cooldown   json.RawMessage `json:"cooldown,omitempty"`
	Hysteresis json.RawMessage `json:"hysteresis,omitempty"`
	Actions    json.RawMessage `json:"actions,omitempty"`
}

type scopeDocument struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId,omitempty"`
	StationID string `json:"stationId,omitempty"`
}

type windowDocument struct {
	Type      string   `json:"type"`
	Minutes   *float64 `json:"minutes,omitempty"`
	MinPoints *int     `json:"minPoints,omitempty"`
	Points    *int     `json:"points,omitempty"`
}

type missingDocument struct {
	Policy     string   `json:"policy"`
	SensorKeys []string `json:"sensorKeys,omitempty"`
}

type metricDocument struct {
	SensorKey string          `json:"sensorKey"`
	Agg       string          `json:"agg"`
	Window    json.RawMessage `json:"window,omitempty"`
}

type leafDocument struct {
	SensorKey *string         `json:"sensorKey,omitempty"`
	Metric    *metricDocument `json:"metric,omitempty"`
	Operator  string          `json:"operator"`
	Value     *float64        `json:"value,omitempty"`
	Min       *float64        `json:"min,omitempty"`
	Max       *float64        `json:"max,omitempty"`
}

// ParseRule decodes and validates a stored rule document.
func ParseRule(ruleID string, version int, raw []byte) (alerts.RuleDefinition, error) {
	var doc ruleDocument
	if err := decodeStrict(raw, &doc); err != nil {
		return alerts.RuleDefinition{}, alerts.NewValidationError("dsl", err.Error())
	}
	if doc.DSLVersion != CurrentVersion {
		return alerts.RuleDefinition{}, alerts.NewValidationError("dslVersion", "unsupported version "+strconv.Itoa(doc.DSLVersion))
	}
	if doc.Enabled == nil {
		return alerts.RuleDefinition{}, alerts.NewValidationError("enabled", "required")
	}

	rule := alerts.RuleDefinition{
		RuleID:    ruleID,
		Version:   version,
		Enabled:   *doc.Enabled,
		Severity:  alerts.Severity(doc.Severity),
		TimeField: alerts.TimeReceived,
		Missing:   alerts.MissingPolicy{Policy: alerts.MissingIgnore},
	}
	if doc.Name != nil {
		if *doc.Name == "" {
			return alerts.RuleDefinition{}, alerts.NewValidationError("name", "must not be empty")
		}
		rule.Name = *doc.Name
	}
	if doc.TimeField != "" {
		rule.TimeField = alerts.TimeField(doc.TimeField)
	}

	scope, err := parseScope(doc.Scope)
	if err != nil {
		return alerts.RuleDefinition{}, err
	}
	rule.Scope = scope

	if len(doc.Window) > 0 {
		window, err := parseWindow("window", doc.Window)
		if err != nil {
			return alerts.RuleDefinition{}, err
		}
		rule.Window = window
	}

	if len(doc.Missing) > 0 {
		missing, err := parseMissing(doc.Missing)
		if err != nil {
			return alerts.RuleDefinition{}, err
		}
		rule.Missing = missing
	}

	if len(doc.When) == 0 {
		return alerts.RuleDefinition{}, alerts.NewValidationError("when", "required")
	}
	expr, err := ParseCondition(doc.When)
	if err != nil {
		return alerts.RuleDefinition{}, err
	}
	rule.When = expr

	if err := rule.Validate(); err != nil {
		return alerts.RuleDefinition{}, err
	}
	return rule, nil
}

// ParseCondition decodes a condition tree.
func ParseCondition(raw json.RawMessage) (*Expression, error) {
	root, err := parseNode("when", raw)
	if err != nil {
		return nil, err
	}
	return newExpression(root), nil
}

func parseScope(raw json.RawMessage) (alerts.Scope, error) {
	if len(raw) == 0 {
		return alerts.Scope{}, alerts.NewValidationError("scope", "required")
	}
	var doc scopeDocument
	if err := decodeStrict(raw, &doc); err != nil {
		return alerts.Scope{}, alerts.NewValidationError("scope", err.Error())
	}
	scope := alerts.Scope{Type: alerts.ScopeType(doc.Type)}
	switch scope.Type {
	case alerts.ScopeDevice:
		if doc.StationID != "" {
			return alerts.Scope{}, alerts.NewValidationError("scope.stationId", "not allowed for device scope")
		}
		if !alerts.IsCanonicalID(doc.DeviceID) {
			return alerts.Scope{}, alerts.NewValidationError("scope.deviceId", "must be a uuid")
		}
		scope.DeviceID = doc.DeviceID
	case alerts.ScopeStation:
		if doc.DeviceID != "" {
			return alerts.Scope{}, alerts.NewValidationError("scope.deviceId", "not allowed for station scope")
		}
		if !alerts.IsCanonicalID(doc.StationID) {
			return alerts.Scope{}, alerts.NewValidationError("scope.stationId", "must be a uuid")
		}
		scope.StationID = doc.StationID
	case alerts.ScopeGlobal:
		if doc.DeviceID != "" || doc.StationID != "" {
			return alerts.Scope{}, alerts.NewValidationError("scope", "global scope takes no ids")
		}
	default:
		return alerts.Scope{}, alerts.NewValidationError("scope.type", "unsupported scope "+strconv.Quote(doc.Type))
	}
	return scope, nil
}

func parseWindow(field string, raw json.RawMessage) (alerts.WindowSpec, error) {
	var doc windowDocument
	if err := decodeStrict(raw, &doc); err != nil {
		return alerts.WindowSpec{}, alerts.NewValidationError(field, err.Error())
	}
	switch alerts.WindowType(doc.Type) {
	case alerts.WindowDuration:
		if doc.Points != nil {
			return alerts.WindowSpec{}, alerts.NewValidationError(field+".points", "not allowed for duration window")
		}
		if doc.Minutes == nil {
			return alerts.WindowSpec{}, alerts.NewValidationError(field+".minutes", "required")
		}
		w := alerts.WindowSpec{Type: alerts.WindowDuration, Minutes: *doc.Minutes}
		if doc.MinPoints != nil {
			if *doc.MinPoints < 1 {
				return alerts.WindowSpec{}, alerts.NewValidationError(field+".minPoints", "must be a positive integer")
			}
			w.MinPoints = *doc.MinPoints
		}
		return w, alerts.ValidateWindow(field, w)
	case alerts.WindowPoints:
		if doc.Minutes != nil || doc.MinPoints != nil {
			return alerts.WindowSpec{}, alerts.NewValidationError(field, "points window takes only points")
		}
		if doc.Points == nil {
			return alerts.WindowSpec{}, alerts.NewValidationError(field+".points", "required")
		}
		w := alerts.WindowSpec{Type: alerts.WindowPoints, Points: *doc.Points}
		return w, alerts.ValidateWindow(field, w)
	default:
		return alerts.WindowSpec{}, alerts.NewValidationError(field+".type", "unsupported window type "+strconv.Quote(doc.Type))
	}
}

func parseMissing(raw json.RawMessage) (alerts.MissingPolicy, error) {
	var doc missingDocument
	if err := decodeStrict(raw, &doc); err != nil {
		return alerts.MissingPolicy{}, alerts.NewValidationError("missing", err.Error())
	}
	policy := alerts.MissingPolicy{Policy: alerts.MissingPolicyType(doc.Policy)}
	switch policy.Policy {
	case alerts.MissingIgnore, alerts.MissingTreatAsFail:
		if len(doc.SensorKeys) > 0 {
			return alerts.MissingPolicy{}, alerts.NewValidationError("missing.sensorKeys", "only allowed with raise_missing_alert")
		}
	case alerts.MissingRaiseAlert:
		policy.SensorKeys = append([]string(nil), doc.SensorKeys...)
	default:
		return alerts.MissingPolicy{}, alerts.NewValidationError("missing.policy", "unsupported policy "+strconv.Quote(doc.Policy))
	}
	return policy, nil
}

func parseNode(field string, raw json.RawMessage) (node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, alerts.NewValidationError(field, "must be an object")
	}
	opRaw, isGroup := fields["op"]
	if !isGroup {
		return parseLeaf(field, raw)
	}

	var op string
	if err := json.Unmarshal(opRaw, &op); err != nil {
		return nil, alerts.NewValidationError(field+".op", "must be a string")
	}
	switch op {
	case "AND", "OR":
		if err := onlyKeys(fields, "op", "items"); err != nil {
			return nil, alerts.NewValidationError(field, err.Error())
		}
		var rawItems []json.RawMessage
		if err := json.Unmarshal(fields["items"], &rawItems); err != nil || len(rawItems) == 0 {
			return nil, alerts.NewValidationError(field+".items", "must be a non-empty array")
		}
		items := make([]node, 0, len(rawItems))
		for i, rawItem := range rawItems {
			item, err := parseNode(fmt.Sprintf("%s.items[%d]", field, i), rawItem)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if op == "AND" {
			return andNode{items: items}, nil
		}
		return orNode{items: items}, nil
	case "NOT":
		if err := onlyKeys(fields, "op", "item"); err != nil {
			return nil, alerts.NewValidationError(field, err.Error())
		}
		itemRaw, ok := fields["item"]
		if !ok {
			return nil, alerts.NewValidationError(field+".item", "required")
		}
		item, err := parseNode(field+".item", itemRaw)
		if err != nil {
			return nil, err
		}
		return notNode{item: item}, nil
	default:
		return nil, alerts.NewValidationError(field+".op", "unsupported op "+strconv.Quote(op))
	}
}

func parseLeaf(field string, raw json.RawMessage) (node, error) {
	var doc leafDocument
	if err := decodeStrict(raw, &doc); err != nil {
		return nil, alerts.NewValidationError(field, err.Error())
	}
	op := Operator(doc.Operator)
	if !op.Valid() {
		return nil, alerts.NewValidationError(field+".operator", "unsupported operator "+strconv.Quote(doc.Operator))
	}
	cmp := comparison{
		op:    op,
		value: operand(doc.Value),
		min:   operand(doc.Min),
		max:   operand(doc.Max),
	}

	switch {
	case doc.SensorKey != nil && doc.Metric == nil:
		if *doc.SensorKey == "" {
			return nil, alerts.NewValidationError(field+".sensorKey", "must not be empty")
		}
		return sensorLeaf{key: *doc.SensorKey, cmp: cmp}, nil
	case doc.Metric != nil && doc.SensorKey == nil:
		if doc.Metric.SensorKey == "" {
			return nil, alerts.NewValidationError(field+".metric.sensorKey", "must not be empty")
		}
		agg := Aggregate(doc.Metric.Agg)
		if !agg.Valid() {
			return nil, alerts.NewValidationError(field+".metric.agg", "unsupported aggregate "+strconv.Quote(doc.Metric.Agg))
		}
		leaf := metricLeaf{key: doc.Metric.SensorKey, agg: agg, cmp: cmp}
		if len(doc.Metric.Window) > 0 {
			w, err := parseWindow(field+".metric.window", doc.Metric.Window)
			if err != nil {
				return nil, err
			}
			leaf.window = &w
		}
		return leaf, nil
	default:
		return nil, alerts.NewValidationError(field, "leaf needs exactly one of sensorKey or metric")
	}
}

func operand(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func onlyKeys(fields map[string]json.RawMessage, allowed ...string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, key := range allowed {
		set[key] = struct{}{}
	}
	var extra []string
	for key := range fields {
		if _, ok := set[key]; !ok {
			extra = append(extra, key)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return fmt.Errorf("unknown field %q", extra[0])
}

func decodeStrict(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}
