package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	telemetry "landslide-cloud/internal/telemetry/domain"
)

// TelemetryQuery is a Postgres range query implementation.
type TelemetryQuery struct {
	db    *sql.DB
	table string
}

var _ telemetry.RangeQuery = (*TelemetryQuery)(nil)

// NewTelemetryQuery constructs a query with default table name.
func NewTelemetryQuery(db *sql.DB, opts ...Option) *TelemetryQuery {
	o := applyOptions(opts)
	return &TelemetryQuery{db: db, table: o.table}
}

// QueryRange returns per (device, sensor, millisecond) averages within [start, end],
// ordered by device, timestamp and sensor, truncated at MaxRows.
func (q *TelemetryQuery) QueryRange(ctx context.Context, req telemetry.RangeRequest) ([]telemetry.RangeRow, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if len(req.DeviceIDs) == 0 || len(req.SensorKeys) == 0 || req.Start.IsZero() || req.End.IsZero() || req.MaxRows <= 0 {
		return nil, errors.New("telemetry query: invalid arguments")
	}

	tsColumn := "ts"
	filter := "ts >= $3 AND ts <= $4"
	if req.TimeColumn == telemetry.TimeColumnEvent {
		tsColumn = "event_ts"
		filter = "event_ts IS NOT NULL AND event_ts >= $3 AND event_ts <= $4"
	}

	query := fmt.Sprintf(`
SELECT device_id, point_key, ts_ms, AVG(value_numeric) AS value_num
FROM (
	SELECT device_id, point_key, FLOOR(EXTRACT(EPOCH FROM %s) * 1000)::BIGINT AS ts_ms, value_numeric
	FROM %s
	WHERE device_id = ANY($1)
		AND point_key = ANY($2)
		AND %s
) samples
GROUP BY device_id, point_key, ts_ms
ORDER BY device_id ASC, ts_ms ASC, point_key ASC
LIMIT $5`, tsColumn, q.table, filter)

	rows, err := q.db.QueryContext(ctx, query, req.DeviceIDs, req.SensorKeys, req.Start.UTC(), req.End.UTC(), req.MaxRows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]telemetry.RangeRow, 0)
	for rows.Next() {
		var row telemetry.RangeRow
		var value sql.NullFloat64
		if err := rows.Scan(&row.DeviceID, &row.SensorKey, &row.TimestampMs, &value); err != nil {
			return nil, err
		}
		if value.Valid && !math.IsNaN(value.Float64) && !math.IsInf(value.Float64, 0) {
			v := value.Float64
			row.Value = &v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Option configures the telemetry repository and query.
type Option func(*options)

type options struct {
	table string
}

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(o *options) {
		if table != "" {
			o.table = table
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{table: defaultTelemetryTable}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
