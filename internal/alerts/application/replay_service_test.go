package application

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	alerts "landslide-cloud/internal/alerts/domain"
	telemetry "landslide-cloud/internal/telemetry/domain"
)

const (
	ruleID    = "6f1c3d4e-8a2b-4c5d-9e0f-1a2b3c4d5e6f"
	deviceA   = "0b8e6a52-3f0c-4e7d-8a1b-2c3d4e5f6a7b"
	deviceB   = "1c9f7b63-4a1d-4f8e-9b2c-3d4e5f6a7b8c"
	stationID = "9d4f2c1b-7e6a-4b3c-8d2e-1f0a9b8c7d6e"
)

var (
	rangeStart = time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = rangeStart.Add(6 * time.Hour)
)

type stubRules struct {
	versions map[int]*alerts.RuleVersion
	err      error
}

func (s *stubRules) GetVersion(_ context.Context, id string, version int) (*alerts.RuleVersion, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.versions[version]
	if !ok || v.RuleID != id {
		return nil, nil
	}
	return v, nil
}

type stubDirectory struct {
	stations map[string][]string
	calls    int
}

func (s *stubDirectory) ListDeviceIDsByStation(_ context.Context, id string) ([]string, error) {
	s.calls++
	return s.stations[id], nil
}

type stubQuery struct {
	rows  []telemetry.RangeRow
	err   error
	calls int
	last  telemetry.RangeRequest
}

func (s *stubQuery) QueryRange(_ context.Context, req telemetry.RangeRequest) ([]telemetry.RangeRow, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

func ruleWithScope(scope string) *alerts.RuleVersion {
	doc := `{"dslVersion":1,"enabled":true,"severity":"high","scope":` + scope + `,
		"window":{"type":"points","points":2},
		"when":{"op":"OR","items":[
			{"sensorKey":"tilt","operator":">","value":30},
			{"metric":{"sensorKey":"disp","agg":"delta"},"operator":">","value":100}
		]}}`
	return &alerts.RuleVersion{RuleID: ruleID, Version: 1, Document: []byte(doc)}
}

func value(v float64) *float64 {
	return &v
}

func newTestService(t *testing.T, rules *stubRules, dir *stubDirectory, query *stubQuery, opts ...ReplayOption) *ReplayService {
	t.Helper()
	svc, err := NewReplayService(rules, dir, query, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestReplay_DeviceScope(t *testing.T) {
	rules := &stubRules{versions: map[int]*alerts.RuleVersion{1: ruleWithScope(`{"type":"device","deviceId":"` + deviceA + `"}`)}}
	t0 := rangeStart.Add(time.Minute).UnixMilli()
	query := &stubQuery{rows: []telemetry.RangeRow{
		{DeviceID: deviceA, SensorKey: "disp", TimestampMs: t0, Value: value(0)},
		{DeviceID: deviceA, SensorKey: "tilt", TimestampMs: t0, Value: value(35)},
		{DeviceID: deviceA, SensorKey: "disp", TimestampMs: t0 + 1000, Value: value(1)},
		{DeviceID: deviceA, SensorKey: "tilt", TimestampMs: t0 + 1000, Value: value(36)},
		{DeviceID: deviceA, SensorKey: "disp", TimestampMs: t0 + 2000, Value: value(2)},
		{DeviceID: deviceA, SensorKey: "tilt", TimestampMs: t0 + 2000, Value: value(20)},
	}}
	svc := newTestService(t, rules, &stubDirectory{}, query)

	result, err := svc.Replay(context.Background(), ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !reflect.DeepEqual(query.last.DeviceIDs, []string{deviceA}) {
		t.Fatalf("unexpected device ids: %v", query.last.DeviceIDs)
	}
	if !reflect.DeepEqual(query.last.SensorKeys, []string{"disp", "tilt"}) {
		t.Fatalf("unexpected sensor keys: %v", query.last.SensorKeys)
	}
	if query.last.TimeColumn != telemetry.TimeColumnReceived || query.last.MaxRows != DefaultLimits().MaxRows {
		t.Fatalf("unexpected request: %+v", query.last)
	}
	if result.Totals.Rows != 6 || result.Totals.Points != 3 || result.Totals.Events != 2 {
		t.Fatalf("unexpected totals: %+v", result.Totals)
	}
	if len(result.Devices) != 1 || result.Devices[0].DeviceID != deviceA {
		t.Fatalf("unexpected devices: %+v", result.Devices)
	}
	if result.RunID == "" || result.TimeField != alerts.TimeReceived {
		t.Fatalf("unexpected result header: %+v", result)
	}
}

func TestReplay_StationScopeResolvesDevices(t *testing.T) {
	rules := &stubRules{versions: map[int]*alerts.RuleVersion{1: ruleWithScope(`{"type":"station","stationId":"` + stationID + `"}`)}}
	dir := &stubDirectory{stations: map[string][]string{stationID: {deviceA, deviceB, deviceA, ""}}}
	query := &stubQuery{}
	svc := newTestService(t, rules, dir, query)

	result, err := svc.Replay(context.Background(), ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !reflect.DeepEqual(query.last.DeviceIDs, []string{deviceA, deviceB}) {
		t.Fatalf("unexpected device ids: %v", query.last.DeviceIDs)
	}
	if len(result.Devices) != 0 {
		t.Fatalf("expected no devices without rows, got %+v", result.Devices)
	}
}

func TestReplay_ExplicitDevicesOverrideScope(t *testing.T) {
	rules := &stubRules{versions: map[int]*alerts.RuleVersion{1: ruleWithScope(`{"type":"station","stationId":"` + stationID + `"}`)}}
	dir := &stubDirectory{stations: map[string][]string{stationID: {deviceA}}}
	query := &stubQuery{}
	svc := newTestService(t, rules, dir, query)

	_, err := svc.Replay(context.Background(), ReplayRequest{
		RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd,
		DeviceIDs: []string{deviceB, deviceA, deviceB},
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if dir.calls != 0 {
		t.Fatalf("directory should not be consulted")
	}
	if !reflect.DeepEqual(query.last.DeviceIDs, []string{deviceB, deviceA}) {
		t.Fatalf("unexpected device ids: %v", query.last.DeviceIDs)
	}
}

func TestReplay_EmptyStationSkipsRetrieval(t *testing.T) {
	rules := &stubRules{versions: map[int]*alerts.RuleVersion{1: ruleWithScope(`{"type":"station","stationId":"` + stationID + `"}`)}}
	query := &stubQuery{}
	svc := newTestService(t, rules, &stubDirectory{}, query)

	result, err := svc.Replay(context.Background(), ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if query.calls != 0 {
		t.Fatalf("expected no retrieval, got %d calls", query.calls)
	}
	if result.Devices == nil || len(result.Devices) != 0 || result.Totals.Rows != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestReplay_EventTimeColumn(t *testing.T) {
	doc := `{"dslVersion":1,"enabled":true,"severity":"low","scope":{"type":"global"},"timeField":"event",
		"when":{"sensorKey":"tilt","operator":">","value":1}}`
	rules := &stubRules{versions: map[int]*alerts.RuleVersion{2: {RuleID: ruleID, Version: 2, Document: []byte(doc)}}}
	query := &stubQuery{}
	svc := newTestService(t, rules, &stubDirectory{}, query)

	if _, err := svc.Replay(context.Background(), ReplayRequest{RuleID: ruleID, Version: 2, Start: rangeStart, End: rangeEnd, DeviceIDs: []string{deviceA}}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if query.last.TimeColumn != telemetry.TimeColumnEvent {
		t.Fatalf("expected event column, got %s", query.last.TimeColumn)
	}
}

func TestReplay_Rejections(t *testing.T) {
	global := `{"dslVersion":1,"enabled":true,"severity":"low","scope":{"type":"global"},"when":{"sensorKey":"tilt","operator":">","value":1}}`
	broken := `{"dslVersion":1,"enabled":true,"severity":"low","scope":{"type":"global"},"window":{"type":"points","points":0},"when":{"sensorKey":"tilt","operator":">","value":1}}`
	rules := &stubRules{versions: map[int]*alerts.RuleVersion{
		1: {RuleID: ruleID, Version: 1, Document: []byte(global)},
		2: {RuleID: ruleID, Version: 2, Document: []byte(broken)},
	}}
	many := []string{deviceA, deviceB, "2d0a8c74-5b2e-4a9f-8c3d-4e5f6a7b8c9d"}

	cases := []struct {
		name   string
		req    ReplayRequest
		target error
		field  string
	}{
		{"bad rule id", ReplayRequest{RuleID: "rule-1", Version: 1, Start: rangeStart, End: rangeEnd}, alerts.ErrValidation, "ruleId"},
		{"bad version", ReplayRequest{RuleID: ruleID, Version: 0, Start: rangeStart, End: rangeEnd}, alerts.ErrValidation, "version"},
		{"missing start", ReplayRequest{RuleID: ruleID, Version: 1, End: rangeEnd}, alerts.ErrValidation, "startTime"},
		{"inverted range", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeEnd, End: rangeStart}, alerts.ErrValidation, "timeRange"},
		{"empty range", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeStart}, alerts.ErrValidation, "timeRange"},
		{"range too long", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeStart.Add(25 * time.Hour)}, alerts.ErrLimitExceeded, ""},
		{"bad device id", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd, DeviceIDs: []string{deviceA, "nope"}}, alerts.ErrValidation, "deviceIds[1]"},
		{"upper-case device id", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd, DeviceIDs: []string{deviceA, strings.ToUpper(deviceA)}}, alerts.ErrValidation, "deviceIds[1]"},
		{"braced device id", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd, DeviceIDs: []string{"{" + deviceA + "}"}}, alerts.ErrValidation, "deviceIds[0]"},
		{"urn device id", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd, DeviceIDs: []string{"urn:uuid:" + deviceA}}, alerts.ErrValidation, "deviceIds[0]"},
		{"unhyphenated device id", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd, DeviceIDs: []string{strings.ReplaceAll(deviceA, "-", "")}}, alerts.ErrValidation, "deviceIds[0]"},
		{"upper-case rule id", ReplayRequest{RuleID: strings.ToUpper(ruleID), Version: 1, Start: rangeStart, End: rangeEnd}, alerts.ErrValidation, "ruleId"},
		{"too many devices", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd, DeviceIDs: many}, alerts.ErrLimitExceeded, ""},
		{"unknown version", ReplayRequest{RuleID: ruleID, Version: 9, Start: rangeStart, End: rangeEnd}, alerts.ErrNotFound, ""},
		{"global without devices", ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd}, alerts.ErrValidation, "deviceIds"},
		{"invalid stored rule", ReplayRequest{RuleID: ruleID, Version: 2, Start: rangeStart, End: rangeEnd, DeviceIDs: []string{deviceA}}, alerts.ErrValidation, "window.points"},
	}

	limits := DefaultLimits()
	limits.MaxRangeHours = 24
	limits.MaxDevices = 2

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			query := &stubQuery{}
			svc := newTestService(t, rules, &stubDirectory{}, query, WithLimits(limits))

			_, err := svc.Replay(context.Background(), tc.req)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if tc.field != "" {
				var verr *alerts.ValidationError
				if !errors.As(err, &verr) || verr.Field != tc.field {
					t.Fatalf("expected field %q, got %v", tc.field, err)
				}
			}
			if query.calls != 0 {
				t.Fatalf("rejected request must not fetch telemetry")
			}
		})
	}
}

func TestReplay_RetrievalFailureAbortsRun(t *testing.T) {
	rules := &stubRules{versions: map[int]*alerts.RuleVersion{1: ruleWithScope(`{"type":"device","deviceId":"` + deviceA + `"}`)}}
	cause := errors.New("connection reset")
	svc := newTestService(t, rules, &stubDirectory{}, &stubQuery{err: cause})

	result, err := svc.Replay(context.Background(), ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd})
	if result != nil {
		t.Fatalf("expected no partial result")
	}
	if !errors.Is(err, alerts.ErrRetrieval) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped retrieval error, got %v", err)
	}
}

func TestReplay_RuleStoreFailure(t *testing.T) {
	cause := errors.New("db down")
	svc := newTestService(t, &stubRules{err: cause}, &stubDirectory{}, &stubQuery{})

	_, err := svc.Replay(context.Background(), ReplayRequest{RuleID: ruleID, Version: 1, Start: rangeStart, End: rangeEnd})
	if !errors.Is(err, cause) || errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestNewReplayService_RequiresDependencies(t *testing.T) {
	if _, err := NewReplayService(nil, &stubDirectory{}, &stubQuery{}); err == nil {
		t.Fatalf("expected error for nil rules")
	}
	if _, err := NewReplayService(&stubRules{}, nil, &stubQuery{}); err == nil {
		t.Fatalf("expected error for nil directory")
	}
	if _, err := NewReplayService(&stubRules{}, &stubDirectory{}, nil); err == nil {
		t.Fatalf("expected error for nil query")
	}
	bad := DefaultLimits()
	bad.MaxRows = 0
	if _, err := NewReplayService(&stubRules{}, &stubDirectory{}, &stubQuery{}, WithLimits(bad)); err == nil {
		t.Fatalf("expected error for invalid limits")
	}
}

func TestReplay_WindowLargerThanCapacity(t *testing.T) {
	points := `{"dslVersion":1,"enabled":true,"severity":"low","scope":{"type":"device","deviceId":"` + deviceA + `"},"window":{"type":"points","points":10},"when":{"sensorKey":"tilt","operator":">","value":1}}`
	duration := `{"dslVersion":1,"enabled":true,"severity":"low","scope":{"type":"device","deviceId":"` + deviceA + `"},"window":{"type":"duration","minutes":5,"minPoints":10},"when":{"sensorKey":"tilt","operator":">","value":1}}`
	rules := &stubRules{versions: map[int]*alerts.RuleVersion{
		1: {RuleID: ruleID, Version: 1, Document: []byte(points)},
		2: {RuleID: ruleID, Version: 2, Document: []byte(duration)},
	}}
	limits := DefaultLimits()
	limits.WindowCapacity = 5

	for version, field := range map[int]string{1: "window.points", 2: "window.minPoints"} {
		query := &stubQuery{}
		svc := newTestService(t, rules, &stubDirectory{}, query, WithLimits(limits))
		_, err := svc.Replay(context.Background(), ReplayRequest{RuleID: ruleID, Version: version, Start: rangeStart, End: rangeEnd})
		var lerr *alerts.LimitError
		if !errors.As(err, &lerr) || lerr.Field != field || lerr.Max != 5 {
			t.Fatalf("version %d: expected limit error on %s, got %v", version, field, err)
		}
		if query.calls != 0 {
			t.Fatalf("version %d: telemetry should not be queried", version)
		}
	}
}
