package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "alerting_"

	resultSuccess    = "success"
	resultInvalid    = "invalid"
	resultNotFound   = "not_found"
	resultError      = "error"
	resultRetrieval  = "retrieval_error"
	resultLimitation = "limit_exceeded"
)

var (
	registerOnce sync.Once

	replayRuns    *prometheus.CounterVec
	replayLatency *prometheus.HistogramVec
	replayRows    prometheus.Counter
	replayPoints  prometheus.Counter
	replayEvents  *prometheus.CounterVec

	exportTotal *prometheus.CounterVec
)

// Init registers replay metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		register(prometheus.DefaultRegisterer)
	})
}

func register(reg prometheus.Registerer) {
	replayRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "replay_runs_total",
			Help: "Total replay runs by result",
		},
		[]string{"result"},
	)
	replayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "replay_latency_seconds",
			Help:    "Replay latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	replayRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "replay_rows_total",
			Help: "Total telemetry rows consumed by replays",
		},
	)
	replayPoints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "replay_points_total",
			Help: "Total device snapshots evaluated by replays",
		},
	)
	replayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "replay_events_total",
			Help: "Total replay events by type and kind",
		},
		[]string{"type", "kind"},
	)
	exportTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "replay_export_total",
			Help: "Total replay report exports by format and result",
		},
		[]string{"format", "result"},
	)

	reg.MustRegister(
		replayRuns,
		replayLatency,
		replayRows,
		replayPoints,
		replayEvents,
		exportTotal,
	)
}

// ObserveReplay records replay duration and result.
func ObserveReplay(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if replayRuns != nil {
		replayRuns.WithLabelValues(result).Inc()
	}
	if replayLatency != nil {
		replayLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddReplayVolume adds consumed rows and evaluated points.
func AddReplayVolume(rows, points int) {
	if replayRows != nil && rows > 0 {
		replayRows.Add(float64(rows))
	}
	if replayPoints != nil && points > 0 {
		replayPoints.Add(float64(points))
	}
}

// IncReplayEvent counts one emitted event.
func IncReplayEvent(eventType, kind string) {
	if eventType == "" {
		eventType = "unknown"
	}
	if kind == "" {
		kind = "unknown"
	}
	if replayEvents != nil {
		replayEvents.WithLabelValues(eventType, kind).Inc()
	}
}

// IncExport counts one report export.
func IncExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess        = resultSuccess
	ResultInvalid        = resultInvalid
	ResultNotFound       = resultNotFound
	ResultError          = resultError
	ResultRetrievalError = resultRetrieval
	ResultLimitExceeded  = resultLimitation
)
