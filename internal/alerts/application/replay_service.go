package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	alerts "landslide-cloud/internal/alerts/domain"
	"landslide-cloud/internal/alerts/domain/dsl"
	"landslide-cloud/internal/alerts/engine"
	"landslide-cloud/internal/observability/metrics"
	"landslide-cloud/internal/observability/tracing"
	telemetry "landslide-cloud/internal/telemetry/domain"
)

// DeviceDirectory resolves the devices installed at a station.
type DeviceDirectory interface {
	ListDeviceIDsByStation(ctx context.Context, stationID string) ([]string, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// ReplayRequest asks for one rule version to be replayed over a time range.
type ReplayRequest struct {
	RuleID    string
	Version   int
	Start     time.Time
	End       time.Time
	DeviceIDs []string
}

// ReplayResult is the outcome of a replay run.
type ReplayResult struct {
	RunID      string
	RuleID     string
	Version    int
	Start      time.Time
	End        time.Time
	TimeField  alerts.TimeField
	SensorKeys []string
	Devices    []engine.DeviceReport
	Totals     engine.Totals
}

// ReplayService loads a rule version, resolves its devices, fetches the
// bounded telemetry range and folds it through the evaluation engine.
type ReplayService struct {
	rules   alerts.RuleVersionRepository
	devices DeviceDirectory
	query   telemetry.RangeQuery
	limits  Limits
	logger  zerolog.Logger
	clock   Clock
}

// ReplayOption customizes the replay service.
type ReplayOption func(*ReplayService)

// WithLimits overrides the default caps.
func WithLimits(limits Limits) ReplayOption {
	return func(s *ReplayService) {
		s.limits = limits
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) ReplayOption {
	return func(s *ReplayService) {
		s.logger = logger
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ReplayOption {
	return func(s *ReplayService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewReplayService constructs a replay service.
func NewReplayService(rules alerts.RuleVersionRepository, devices DeviceDirectory, query telemetry.RangeQuery, opts ...ReplayOption) (*ReplayService, error) {
	if rules == nil {
		return nil, errors.New("replay: nil rule repository")
	}
	if devices == nil {
		return nil, errors.New("replay: nil device directory")
	}
	if query == nil {
		return nil, errors.New("replay: nil telemetry query")
	}
	service := &ReplayService{
		rules:   rules,
		devices: devices,
		query:   query,
		limits:  DefaultLimits(),
		logger:  zerolog.Nop(),
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	if err := service.limits.Validate(); err != nil {
		return nil, err
	}
	return service, nil
}

// Limits returns the caps in force.
func (s *ReplayService) Limits() Limits {
	return s.limits
}

// Replay runs a replay. Validation and limit failures are reported before any
// telemetry is fetched; a fetch failure aborts the run without partial results.
func (s *ReplayService) Replay(ctx context.Context, req ReplayRequest) (*ReplayResult, error) {
	if s == nil {
		return nil, errors.New("replay: nil service")
	}
	started := s.clock.Now()

	ctx, span := tracing.StartReplaySpan(ctx, req.RuleID, req.Version)
	defer span.End()

	result, err := s.replay(ctx, req)
	elapsed := s.clock.Now().Sub(started)
	metrics.ObserveReplay(resultLabel(err), elapsed)
	if err != nil {
		tracing.RecordError(span, err)
		s.logFailure(req, err)
		return nil, err
	}

	tracing.EndReplaySpan(span, result.Totals.Points, result.Totals.Events)
	s.logger.Info().
		Str("run_id", result.RunID).
		Str("rule_id", result.RuleID).
		Int("version", result.Version).
		Int("devices", len(result.Devices)).
		Int("rows", result.Totals.Rows).
		Int("points", result.Totals.Points).
		Int("events", result.Totals.Events).
		Dur("duration", elapsed).
		Msg("replay completed")
	return result, nil
}

func (s *ReplayService) replay(ctx context.Context, req ReplayRequest) (*ReplayResult, error) {
	explicit, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	stored, err := s.rules.GetVersion(ctx, req.RuleID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("replay: load rule version: %w", err)
	}
	if stored == nil {
		return nil, alerts.ErrNotFound
	}
	rule, err := dsl.ParseRule(req.RuleID, req.Version, stored.Document)
	if err != nil {
		return nil, err
	}
	if err := s.limits.CheckWindow(rule.Window); err != nil {
		return nil, err
	}

	deviceIDs, err := s.resolveDevices(ctx, rule.Scope, explicit)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{
		RunID:      uuid.NewString(),
		RuleID:     req.RuleID,
		Version:    req.Version,
		Start:      req.Start.UTC(),
		End:        req.End.UTC(),
		TimeField:  rule.TimeField,
		SensorKeys: rule.When.SensorKeys(),
		Devices:    []engine.DeviceReport{},
	}
	if len(deviceIDs) == 0 {
		return result, nil
	}
	if len(result.SensorKeys) == 0 {
		return nil, alerts.NewValidationError("when", "condition references no sensor keys")
	}

	rows, err := s.fetch(ctx, deviceIDs, result.SensorKeys, req, rule.TimeField)
	if err != nil {
		return nil, err
	}

	_, span := tracing.StartEvaluateSpan(ctx, len(rows))
	report := engine.Run(rule, rows,
		engine.WithSeriesCapacity(s.limits.SeriesCapacity),
		engine.WithWindowCapacity(s.limits.WindowCapacity),
	)
	span.End()

	result.Devices = report.Devices
	result.Totals = report.Totals
	recordVolume(report)
	return result, nil
}

// validateRequest checks identifiers, the time range and the explicit device
// list. It returns the deduplicated device ids in first-seen order.
func (s *ReplayService) validateRequest(req ReplayRequest) ([]string, error) {
	if !alerts.IsCanonicalID(req.RuleID) {
		return nil, alerts.NewValidationError("ruleId", "must be a uuid")
	}
	if req.Version <= 0 {
		return nil, alerts.NewValidationError("version", "must be a positive integer")
	}
	if req.Start.IsZero() {
		return nil, alerts.NewValidationError("startTime", "required")
	}
	if req.End.IsZero() {
		return nil, alerts.NewValidationError("endTime", "required")
	}
	if !req.Start.Before(req.End) {
		return nil, alerts.NewValidationError("timeRange", "startTime must be before endTime")
	}
	if req.End.Sub(req.Start) > s.limits.MaxRange() {
		return nil, &alerts.LimitError{Field: "timeRange", Max: s.limits.MaxRangeHours}
	}

	if len(req.DeviceIDs) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(req.DeviceIDs))
	deviceIDs := make([]string, 0, len(req.DeviceIDs))
	for i, id := range req.DeviceIDs {
		if !alerts.IsCanonicalID(id) {
			return nil, alerts.NewValidationError("deviceIds["+strconv.Itoa(i)+"]", "must be a uuid")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deviceIDs = append(deviceIDs, id)
	}
	if len(deviceIDs) > s.limits.MaxDevices {
		return nil, &alerts.LimitError{Field: "deviceIds", Max: s.limits.MaxDevices}
	}
	return deviceIDs, nil
}

// resolveDevices applies the rule scope unless the caller named devices.
func (s *ReplayService) resolveDevices(ctx context.Context, scope alerts.Scope, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	switch scope.Type {
	case alerts.ScopeDevice:
		if scope.DeviceID == "" {
			return nil, alerts.NewValidationError("scope.deviceId", "rule has no device")
		}
		return []string{scope.DeviceID}, nil
	case alerts.ScopeStation:
		if scope.StationID == "" {
			return nil, alerts.NewValidationError("scope.stationId", "rule has no station")
		}
		ids, err := s.devices.ListDeviceIDsByStation(ctx, scope.StationID)
		if err != nil {
			return nil, fmt.Errorf("replay: resolve station devices: %w", err)
		}
		ids = compact(ids)
		if len(ids) > s.limits.MaxDevices {
			return nil, &alerts.LimitError{Field: "deviceIds", Max: s.limits.MaxDevices}
		}
		return ids, nil
	case alerts.ScopeGlobal:
		return nil, alerts.NewValidationError("deviceIds", "required for global scope")
	default:
		return nil, alerts.NewValidationError("scope.type", "unsupported scope")
	}
}

func (s *ReplayService) fetch(ctx context.Context, deviceIDs, sensorKeys []string, req ReplayRequest, field alerts.TimeField) ([]telemetry.RangeRow, error) {
	ctx, span := tracing.StartFetchSpan(ctx, len(deviceIDs), len(sensorKeys))
	defer span.End()

	column := telemetry.TimeColumnReceived
	if field == alerts.TimeEvent {
		column = telemetry.TimeColumnEvent
	}
	rows, err := s.query.QueryRange(ctx, telemetry.RangeRequest{
		DeviceIDs:  deviceIDs,
		SensorKeys: sensorKeys,
		Start:      req.Start.UTC(),
		End:        req.End.UTC(),
		TimeColumn: column,
		MaxRows:    s.limits.MaxRows,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", alerts.ErrRetrieval, err)
	}
	return rows, nil
}

func (s *ReplayService) logFailure(req ReplayRequest, err error) {
	var event *zerolog.Event
	switch {
	case errors.Is(err, alerts.ErrValidation), errors.Is(err, alerts.ErrLimitExceeded), errors.Is(err, alerts.ErrNotFound):
		event = s.logger.Warn()
	default:
		event = s.logger.Error()
	}
	event.Err(err).
		Str("rule_id", req.RuleID).
		Int("version", req.Version).
		Msg("replay rejected")
}

func recordVolume(report engine.Report) {
	metrics.AddReplayVolume(report.Totals.Rows, report.Totals.Points)
	for _, dev := range report.Devices {
		for _, evt := range dev.Events {
			metrics.IncReplayEvent(string(evt.Type), string(evt.Kind))
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, alerts.ErrValidation):
		return metrics.ResultInvalid
	case errors.Is(err, alerts.ErrLimitExceeded):
		return metrics.ResultLimitExceeded
	case errors.Is(err, alerts.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, alerts.ErrRetrieval):
		return metrics.ResultRetrievalError
	default:
		return metrics.ResultError
	}
}

func compact(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
