package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"landslide-cloud/internal/auth"
	telemetry "landslide-cloud/internal/telemetry/domain"
)

// IngestPath is the telemetry ingest route.
const IngestPath = "/api/v1/telemetry"

const maxIngestBytes = 4 << 20

// IngestHandler accepts device readings and stores them as measurements.
type IngestHandler struct {
	repo   telemetry.TelemetryRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(repo telemetry.TelemetryRepository, logger zerolog.Logger) (*IngestHandler, error) {
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	return &IngestHandler{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Register mounts the ingest route on r.
func (h *IngestHandler) Register(r chi.Router) {
	r.Post(IngestPath, h.ServeHTTP)
}

// ServeHTTP ingests one device payload.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxIngestBytes))
	dec.DisallowUnknownFields()

	var req ingestRequest
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("telemetry ingest: decode")
		writeIngestError(w, http.StatusBadRequest, "invalid json")
		return
	}

	tenantID := req.TenantID
	if id, ok := auth.IdentityFromContext(r.Context()); ok && id.TenantID != "" {
		tenantID = id.TenantID
	}
	measurements, err := req.toMeasurements(tenantID, h.now())
	if err != nil {
		h.logger.Warn().Err(err).Str("device_id", req.DeviceID).Msg("telemetry ingest: invalid payload")
		writeIngestError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.InsertMeasurements(r.Context(), measurements); err != nil {
		h.logger.Error().Err(err).Str("device_id", req.DeviceID).Msg("telemetry ingest: insert")
		writeIngestError(w, http.StatusInternalServerError, "insert error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"inserted": len(measurements)})
}

type ingestRequest struct {
	TenantID  string             `json:"tenantId"`
	StationID string             `json:"stationId"`
	DeviceID  string             `json:"deviceId"`
	TS        int64              `json:"ts"`
	EventTS   int64              `json:"eventTs"`
	Values    map[string]float64 `json:"values"`
	Quality   string             `json:"quality"`
	Points    []ingestPoint      `json:"points"`
}

type ingestPoint struct {
	TS      int64              `json:"ts"`
	EventTS int64              `json:"eventTs"`
	Values  map[string]float64 `json:"values"`
	Quality string             `json:"quality"`
}

// toMeasurements flattens the payload. A point without ts is stamped with
// the receive time.
func (r ingestRequest) toMeasurements(tenantID string, received time.Time) ([]telemetry.Measurement, error) {
	if tenantID == "" || r.StationID == "" || r.DeviceID == "" {
		return nil, errors.New("missing tenantId/stationId/deviceId")
	}

	points := r.Points
	if len(points) == 0 && len(r.Values) > 0 {
		points = []ingestPoint{{TS: r.TS, EventTS: r.EventTS, Values: r.Values, Quality: r.Quality}}
	}
	if len(points) == 0 {
		return nil, errors.New("no telemetry points")
	}

	measurements := make([]telemetry.Measurement, 0, len(points))
	for i, point := range points {
		if len(point.Values) == 0 {
			return nil, fmt.Errorf("points[%d]: empty values", i)
		}
		ts := received
		if point.TS != 0 {
			parsed, err := parseTimestamp(point.TS)
			if err != nil {
				return nil, fmt.Errorf("points[%d].ts: %w", i, err)
			}
			ts = parsed
		}
		var eventTS time.Time
		if point.EventTS != 0 {
			parsed, err := parseTimestamp(point.EventTS)
			if err != nil {
				return nil, fmt.Errorf("points[%d].eventTs: %w", i, err)
			}
			eventTS = parsed
		}
		for key, value := range point.Values {
			if key == "" {
				return nil, fmt.Errorf("points[%d]: empty sensor key", i)
			}
			if math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			v := value
			measurements = append(measurements, telemetry.Measurement{
				TenantID:     tenantID,
				StationID:    r.StationID,
				DeviceID:     r.DeviceID,
				PointKey:     key,
				TS:           ts,
				EventTS:      eventTS,
				ValueNumeric: &v,
				Quality:      point.Quality,
			})
		}
	}
	return measurements, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid timestamp")
	}
	// Milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}

func writeIngestError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
