package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	alertapp "landslide-cloud/internal/alerts/application"
	alerts "landslide-cloud/internal/alerts/domain"
	"landslide-cloud/internal/auth"
	"landslide-cloud/internal/observability/metrics"
)

// ReplayPath is the replay route pattern.
const ReplayPath = "/api/v1/alert-rules/{ruleId}/versions/{version}/replay"

const maxBodyBytes = 1 << 20

// Replayer runs replays.
type Replayer interface {
	Replay(ctx context.Context, req alertapp.ReplayRequest) (*alertapp.ReplayResult, error)
}

// Handler provides the alert rule replay endpoint.
type Handler struct {
	service Replayer
	logger  zerolog.Logger
}

// NewHandler constructs a handler.
func NewHandler(service Replayer, logger zerolog.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("replay handler: nil service")
	}
	return &Handler{service: service, logger: logger}, nil
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post(ReplayPath, h.handleReplay)
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != formatXLSX && format != formatPDF {
		writeError(w, alerts.NewValidationError("format", "must be xlsx or pdf"))
		return
	}

	req, err := parseReplayRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Replay(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Debug().
		Str("run_id", result.RunID).
		Str("subject", auth.SubjectFromContext(r.Context())).
		Msg("replay served")

	if format != "" {
		h.writeExport(w, format, result)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(result))
}

func (h *Handler) writeExport(w http.ResponseWriter, format string, result *alertapp.ReplayResult) {
	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case formatXLSX:
		data, err = BuildReplayXLSX(result)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case formatPDF:
		data, err = BuildReplayPDF(result)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.IncExport(format, metrics.ResultError)
		h.logger.Error().Err(err).Str("format", format).Msg("replay export failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "export failed"})
		return
	}
	metrics.IncExport(format, metrics.ResultSuccess)

	filename := fmt.Sprintf("replay-%s-v%d.%s", result.RuleID, result.Version, format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(data)
}

func parseReplayRequest(r *http.Request) (alertapp.ReplayRequest, error) {
	req := alertapp.ReplayRequest{RuleID: chi.URLParam(r, "ruleId")}

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		return req, alerts.NewValidationError("version", "must be a positive integer")
	}
	req.Version = version

	var body replayRequestBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return req, alerts.NewValidationError("body", err.Error())
	}
	if dec.More() {
		return req, alerts.NewValidationError("body", "trailing data")
	}

	if req.Start, err = parseTime("startTime", body.StartTime); err != nil {
		return req, err
	}
	if req.End, err = parseTime("endTime", body.EndTime); err != nil {
		return req, err
	}
	req.DeviceIDs = body.DeviceIDs
	return req, nil
}

func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, alerts.NewValidationError(field, "required")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, alerts.NewValidationError(field, "must be an RFC3339 timestamp")
	}
	return t.UTC(), nil
}

func writeError(w http.ResponseWriter, err error) {
	var (
		verr *alerts.ValidationError
		lerr *alerts.LimitError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Reason, Field: verr.Field})
	case errors.As(err, &lerr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit exceeded", Field: lerr.Field, Max: lerr.Max})
	case errors.Is(err, alerts.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "rule version not found"})
	case errors.Is(err, alerts.ErrRetrieval):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "telemetry retrieval failed"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
