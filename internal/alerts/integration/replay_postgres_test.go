package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	alertapp "landslide-cloud/internal/alerts/application"
	alerts "landslide-cloud/internal/alerts/domain"
	alertrepo "landslide-cloud/internal/alerts/infrastructure/postgres"
	masterdata "landslide-cloud/internal/masterdata/domain"
	masterdatarepo "landslide-cloud/internal/masterdata/infrastructure/postgres"
	telemetry "landslide-cloud/internal/telemetry/domain"
	telemetryrepo "landslide-cloud/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestReplay_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "stations") ||
		!tableExists(db, "devices") ||
		!tableExists(db, "telemetry_points") ||
		!tableExists(db, "alert_rules") ||
		!tableExists(db, "alert_rule_versions") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	tenantID := "tenant-it-replay"
	stationID := uuid.NewString()
	deviceA := uuid.NewString()
	deviceB := uuid.NewString()
	ruleID := uuid.NewString()

	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM alert_rules WHERE rule_id = $1", ruleID)
		_, _ = db.ExecContext(ctx, "DELETE FROM telemetry_points WHERE tenant_id = $1", tenantID)
		_, _ = db.ExecContext(ctx, "DELETE FROM devices WHERE station_id = $1", stationID)
		_, _ = db.ExecContext(ctx, "DELETE FROM stations WHERE id = $1", stationID)
	})

	stations := masterdatarepo.NewStationRepository(db)
	if err := stations.Save(ctx, &masterdata.Station{ID: stationID, TenantID: tenantID, Name: "Slope Station", Region: "north"}); err != nil {
		t.Fatalf("save station: %v", err)
	}
	station, err := stations.Get(ctx, stationID)
	if err != nil || station == nil || station.Region != "north" {
		t.Fatalf("reload station: %+v, %v", station, err)
	}
	devices := masterdatarepo.NewDeviceRepository(db)
	for _, id := range []string{deviceA, deviceB} {
		if err := devices.Save(ctx, &masterdata.Device{ID: id, StationID: stationID, DeviceType: "inclinometer", Name: "probe"}); err != nil {
			t.Fatalf("save device: %v", err)
		}
	}
	stored, err := devices.Get(ctx, deviceA)
	if err != nil || stored == nil || stored.StationID != stationID || stored.DeviceType != "inclinometer" {
		t.Fatalf("reload device: %+v, %v", stored, err)
	}

	rules := alertrepo.NewRuleVersionRepository(db)
	doc := `{"dslVersion":1,"enabled":true,"severity":"high",
		"scope":{"type":"station","stationId":"` + stationID + `"},
		"window":{"type":"points","points":2},
		"when":{"sensorKey":"tilt","operator":">","value":30}}`
	if err := rules.SaveVersion(ctx, &alerts.RuleVersion{RuleID: ruleID, Version: 1, Document: []byte(doc)}); err != nil {
		t.Fatalf("save rule version: %v", err)
	}
	if err := rules.SaveVersion(ctx, &alerts.RuleVersion{RuleID: ruleID, Version: 1, Document: []byte(doc)}); err == nil {
		t.Fatalf("expected duplicate version to be rejected")
	}

	base := time.Date(2026, time.May, 3, 10, 0, 0, 0, time.UTC)
	tilt := func(deviceID string, offset time.Duration, v float64) telemetry.Measurement {
		value := v
		return telemetry.Measurement{
			TenantID:     tenantID,
			StationID:    stationID,
			DeviceID:     deviceID,
			PointKey:     "tilt",
			TS:           base.Add(offset),
			ValueNumeric: &value,
			Quality:      "good",
		}
	}
	store := telemetryrepo.NewTelemetryRepository(db)
	if err := store.InsertMeasurements(ctx, []telemetry.Measurement{
		tilt(deviceA, 0, 35),
		tilt(deviceA, time.Minute, 36),
		tilt(deviceA, 2*time.Minute, 20),
		tilt(deviceB, 0, 10),
		tilt(deviceB, time.Minute, 12),
	}); err != nil {
		t.Fatalf("insert telemetry: %v", err)
	}

	service, err := alertapp.NewReplayService(rules, devices, telemetryrepo.NewTelemetryQuery(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := service.Replay(ctx, alertapp.ReplayRequest{
		RuleID:  ruleID,
		Version: 1,
		Start:   base.Add(-time.Minute),
		End:     base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Totals.Rows != 5 || result.Totals.Points != 5 || result.Totals.Events != 2 {
		t.Fatalf("unexpected totals: %+v", result.Totals)
	}
	for _, dev := range result.Devices {
		switch dev.DeviceID {
		case deviceA:
			if len(dev.Events) != 2 ||
				dev.Events[0].Type != alerts.EventTrigger ||
				dev.Events[1].Type != alerts.EventResolve ||
				!dev.Events[0].Time().Equal(base.Add(time.Minute)) {
				t.Fatalf("unexpected events for device A: %+v", dev.Events)
			}
		case deviceB:
			if len(dev.Events) != 0 {
				t.Fatalf("unexpected events for device B: %+v", dev.Events)
			}
		default:
			t.Fatalf("unexpected device %s", dev.DeviceID)
		}
	}

	missing, err := rules.GetVersion(ctx, ruleID, 2)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown version, got %+v, %v", missing, err)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	if err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1 FROM information_schema.tables WHERE table_name = $1
)`, table).Scan(&exists); err != nil {
		return false
	}
	return exists
}
