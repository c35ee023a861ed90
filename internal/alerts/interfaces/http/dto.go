package http

import (
	"time"

	alertapp "landslide-cloud/internal/alerts/application"
	alerts "landslide-cloud/internal/alerts/domain"
)

// timeLayout is RFC3339 with millisecond precision, always UTC.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type replayRequestBody struct {
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	DeviceIDs []string `json:"deviceIds,omitempty"`
}

type replayResponse struct {
	RunID      string      `json:"runId"`
	RuleID     string      `json:"ruleId"`
	Version    int         `json:"version"`
	StartTime  string      `json:"startTime"`
	EndTime    string      `json:"endTime"`
	TimeField  string      `json:"timeField"`
	SensorKeys []string    `json:"sensorKeys"`
	Devices    []deviceDTO `json:"devices"`
	Totals     totalsDTO   `json:"totals"`
}

type deviceDTO struct {
	DeviceID string     `json:"deviceId"`
	Points   int        `json:"points"`
	Events   []eventDTO `json:"events"`
}

type eventDTO struct {
	EventType string         `json:"eventType"`
	TS        string         `json:"ts"`
	Evidence  map[string]any `json:"evidence"`
	Explain   string         `json:"explain"`
}

type totalsDTO struct {
	Rows   int `json:"rows"`
	Points int `json:"points"`
	Events int `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Max   int    `json:"max,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func toResponse(result *alertapp.ReplayResult) replayResponse {
	resp := replayResponse{
		RunID:      result.RunID,
		RuleID:     result.RuleID,
		Version:    result.Version,
		StartTime:  formatTime(result.Start),
		EndTime:    formatTime(result.End),
		TimeField:  string(result.TimeField),
		SensorKeys: result.SensorKeys,
		Devices:    make([]deviceDTO, 0, len(result.Devices)),
		Totals: totalsDTO{
			Rows:   result.Totals.Rows,
			Points: result.Totals.Points,
			Events: result.Totals.Events,
		},
	}
	if resp.SensorKeys == nil {
		resp.SensorKeys = []string{}
	}
	for _, dev := range result.Devices {
		out := deviceDTO{DeviceID: dev.DeviceID, Points: dev.Points, Events: make([]eventDTO, 0, len(dev.Events))}
		for _, evt := range dev.Events {
			out.Events = append(out.Events, toEventDTO(evt))
		}
		resp.Devices = append(resp.Devices, out)
	}
	return resp
}

func toEventDTO(evt alerts.AlertEvent) eventDTO {
	return eventDTO{
		EventType: string(evt.Type),
		TS:        formatTime(evt.Time()),
		Evidence:  evt.Evidence,
		Explain:   evt.Explain,
	}
}
