package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	telemetry "landslide-cloud/internal/telemetry/domain"
)

const (
	defaultTelemetryTable = "telemetry_points"
	insertBatchSize       = 500
	insertColumns         = 9
)

// TelemetryRepository writes raw measurements into telemetry_points.
type TelemetryRepository struct {
	db    *sql.DB
	table string
}

var _ telemetry.TelemetryRepository = (*TelemetryRepository)(nil)

// NewTelemetryRepository constructs a repository with default table name.
func NewTelemetryRepository(db *sql.DB, opts ...Option) *TelemetryRepository {
	o := applyOptions(opts)
	return &TelemetryRepository{db: db, table: o.table}
}

// InsertMeasurements upserts measurements in one transaction. Later entries
// win when the same (tenant, station, device, key, ts) appears twice.
func (r *TelemetryRepository) InsertMeasurements(ctx context.Context, measurements []telemetry.Measurement) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(measurements) == 0 {
		return nil
	}
	rows, err := dedupeMeasurements(measurements)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		query, args := r.buildUpsert(rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("telemetry repo: upsert batch at %d: %w", start, err)
		}
	}
	return tx.Commit()
}

func (r *TelemetryRepository) buildUpsert(batch []telemetry.Measurement) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, `
INSERT INTO %s (tenant_id, station_id, device_id, point_key, ts, event_ts, value_numeric, value_text, quality)
VALUES `, r.table)

	args := make([]any, 0, len(batch)*insertColumns)
	for i, m := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		base := len(args)
		b.WriteString("(")
		for col := 1; col <= insertColumns; col++ {
			if col > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", base+col)
		}
		b.WriteString(")")
		args = append(args, measurementArgs(m)...)
	}
	b.WriteString(`
ON CONFLICT (tenant_id, station_id, device_id, point_key, ts)
DO UPDATE SET
	event_ts = EXCLUDED.event_ts,
	value_numeric = EXCLUDED.value_numeric,
	value_text = EXCLUDED.value_text,
	quality = EXCLUDED.quality,
	updated_at = NOW()`)
	return b.String(), args
}

func measurementArgs(m telemetry.Measurement) []any {
	eventTS := sql.NullTime{}
	if !m.EventTS.IsZero() {
		eventTS = sql.NullTime{Time: m.EventTS.UTC(), Valid: true}
	}
	valueNumeric := sql.NullFloat64{}
	if m.ValueNumeric != nil {
		valueNumeric = sql.NullFloat64{Float64: *m.ValueNumeric, Valid: true}
	}
	valueText := sql.NullString{}
	if m.ValueText != nil {
		valueText = sql.NullString{String: *m.ValueText, Valid: true}
	}
	return []any{m.TenantID, m.StationID, m.DeviceID, m.PointKey, m.TS.UTC(), eventTS, valueNumeric, valueText, m.Quality}
}

type measurementKey struct {
	tenantID, stationID, deviceID, pointKey string
	tsMicros                                int64
}

// dedupeMeasurements validates every entry and collapses duplicate keys,
// keeping the position of the first occurrence and the value of the last.
func dedupeMeasurements(measurements []telemetry.Measurement) ([]telemetry.Measurement, error) {
	index := make(map[measurementKey]int, len(measurements))
	out := make([]telemetry.Measurement, 0, len(measurements))
	for i, m := range measurements {
		if m.TenantID == "" || m.StationID == "" || m.DeviceID == "" || m.PointKey == "" || m.TS.IsZero() {
			return nil, fmt.Errorf("telemetry repo: invalid measurement at %d", i)
		}
		key := measurementKey{m.TenantID, m.StationID, m.DeviceID, m.PointKey, m.TS.UnixMicro()}
		if pos, ok := index[key]; ok {
			out[pos] = m
			continue
		}
		index[key] = len(out)
		out = append(out, m)
	}
	return out, nil
}
