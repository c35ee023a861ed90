package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"landslide-cloud/internal/auth"
	telemetry "landslide-cloud/internal/telemetry/domain"
)

type stubRepo struct {
	saved []telemetry.Measurement
	err   error
}

func (s *stubRepo) InsertMeasurements(_ context.Context, measurements []telemetry.Measurement) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, measurements...)
	return nil
}

func newIngestRouter(t *testing.T, repo telemetry.TelemetryRepository) (*IngestHandler, http.Handler) {
	t.Helper()
	h, err := NewIngestHandler(repo, zerolog.Nop())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	r := chi.NewRouter()
	h.Register(r)
	return h, r
}

func postIngest(router http.Handler, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, IngestPath, bytes.NewBufferString(body))
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *identity))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngest_PointsBatch(t *testing.T) {
	repo := &stubRepo{}
	_, router := newIngestRouter(t, repo)

	body := `{"stationId":"st-1","deviceId":"dev-1","points":[
		{"ts":1767225600000,"eventTs":1767225599,"values":{"tilt":1.5},"quality":"good"},
		{"ts":1767225660000,"values":{"tilt":1.7,"disp":0.2}}]}`
	rec := postIngest(router, body, &auth.Identity{TenantID: "tenant-a", Role: auth.RoleOperator})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.saved) != 3 {
		t.Fatalf("expected 3 measurements, got %d", len(repo.saved))
	}
	first := repo.saved[0]
	if first.TenantID != "tenant-a" || first.PointKey != "tilt" || *first.ValueNumeric != 1.5 {
		t.Fatalf("unexpected measurement: %+v", first)
	}
	if !first.TS.Equal(time.UnixMilli(1767225600000)) || !first.EventTS.Equal(time.Unix(1767225599, 0)) {
		t.Fatalf("unexpected timestamps: ts=%s eventTs=%s", first.TS, first.EventTS)
	}
	if !repo.saved[1].EventTS.IsZero() {
		t.Fatalf("eventTs should stay empty when not reported")
	}
}

func TestIngest_SinglePointStampedOnReceipt(t *testing.T) {
	repo := &stubRepo{}
	h, router := newIngestRouter(t, repo)
	received := time.Date(2026, time.April, 2, 8, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return received }

	rec := postIngest(router, `{"tenantId":"tenant-b","stationId":"st-1","deviceId":"dev-1","values":{"rain":3}}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(repo.saved) != 1 || !repo.saved[0].TS.Equal(received) || repo.saved[0].TenantID != "tenant-b" {
		t.Fatalf("unexpected measurements: %+v", repo.saved)
	}
}

func TestIngest_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"stationId":`},
		{name: "unknown field", body: `{"stationId":"st","deviceId":"d","values":{"a":1},"meta":{}}`},
		{name: "no tenant", body: `{"stationId":"st","deviceId":"d","values":{"a":1}}`},
		{name: "no device", body: `{"tenantId":"t","stationId":"st","values":{"a":1}}`},
		{name: "no points", body: `{"tenantId":"t","stationId":"st","deviceId":"d"}`},
		{name: "bad ts", body: `{"tenantId":"t","stationId":"st","deviceId":"d","points":[{"ts":-5,"values":{"a":1}}]}`},
		{name: "empty values", body: `{"tenantId":"t","stationId":"st","deviceId":"d","points":[{"ts":5}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubRepo{}
			_, router := newIngestRouter(t, repo)
			rec := postIngest(router, tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if len(repo.saved) != 0 {
				t.Fatalf("nothing should be stored")
			}
		})
	}
}

func TestIngest_StoreFailure(t *testing.T) {
	_, router := newIngestRouter(t, &stubRepo{err: errors.New("db down")})
	rec := postIngest(router, `{"tenantId":"t","stationId":"st","deviceId":"d","values":{"a":1}}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
