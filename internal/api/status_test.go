package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/prometheus/client_golang/prometheus"

	"boat_tracker/internal/metrics"
	"boat_tracker/internal/storage"
	"boat_tracker/internal/telemetry"
)

// mockStore implements Store for testing.
type mockStore struct {
	latest *storage.Sample
	stats  storage.UploadStats
	total  int64
}

func (m *mockStore) Latest(context.Context) (*storage.Sample, error) { return m.latest, nil }

func (m *mockStore) UploadStats(context.Context) (*storage.UploadStats, error) {
	s := m.stats
	return &s, nil
}

func (m *mockStore) Count(context.Context, *bool) (int64, error) { return m.total, nil }

func newTestServer(t *testing.T, store Store, cfg Config) *StatusServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SamplesWritten.WithLabelValues("bootstrap").Inc()

	cache := telemetry.NewCache(telemetry.DefaultTimeout)
	cache.Update(telemetry.SignalRPM, 1650, time.Date(2025, 7, 4, 18, 0, 0, 0, time.UTC))

	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	return NewStatusServer(store, cache, reg, logger, cfg)
}

func get(t *testing.T, s *StatusServer, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, &mockStore{}, Config{})
	rec := get(t, server, "/api/v1/health")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestLatestSample(t *testing.T) {
	store := &mockStore{}
	server := newTestServer(t, store, Config{})

	rec := get(t, server, "/api/v1/samples/latest")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 on empty store, got %d", rec.Code)
	}

	// 2025-07-04 11:00:00 local at UTC-07:00.
	store.latest = &storage.Sample{
		ID:        42,
		TZOffset:  "UTC-07:00",
		Timestamp: float64(time.Date(2025, 7, 4, 11, 0, 0, 0, time.UTC).Unix()),
		Latitude:  47.61,
		Longitude: -122.33,
		Altitude:  2,
		RPM:       sql.NullFloat64{Float64: 1650, Valid: true},
	}
	rec = get(t, server, "/api/v1/samples/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp SampleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != 42 {
		t.Errorf("expected id 42, got %d", resp.ID)
	}
	if resp.LocalTime != "2025-07-04 11:00:00" {
		t.Errorf("expected local time 2025-07-04 11:00:00, got %q", resp.LocalTime)
	}
	if resp.UTC != "2025-07-04T18:00:00Z" {
		t.Errorf("expected utc 2025-07-04T18:00:00Z, got %q", resp.UTC)
	}
	if resp.RPM == nil || *resp.RPM != 1650 {
		t.Errorf("expected rpm 1650, got %v", resp.RPM)
	}
	if resp.CoolantTemp != nil {
		t.Errorf("expected null coolant temp, got %v", *resp.CoolantTemp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	store := &mockStore{
		total: 12,
		stats: storage.UploadStats{
			LastUploaded: sql.NullFloat64{Float64: float64(time.Date(2025, 7, 4, 10, 0, 0, 0, time.UTC).Unix()), Valid: true},
			Pending:      3,
		},
	}
	server := newTestServer(t, store, Config{})

	rec := get(t, server, "/api/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 12 || resp.Pending != 3 {
		t.Errorf("expected total 12 pending 3, got %d/%d", resp.Total, resp.Pending)
	}
	if resp.LastUploaded != "2025-07-04 10:00:00" {
		t.Errorf("unexpected last uploaded %q", resp.LastUploaded)
	}
	if resp.LastPending != "" {
		t.Errorf("expected no last pending, got %q", resp.LastPending)
	}
}

func TestTelemetryEndpoint(t *testing.T) {
	server := newTestServer(t, &mockStore{}, Config{})
	rec := get(t, server, "/api/v1/telemetry")

	var resp []SignalResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Name != telemetry.SignalRPM || resp[0].Value != 1650 {
		t.Errorf("unexpected telemetry %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &mockStore{}, Config{})
	rec := get(t, server, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `boat_tracker_sampler_samples_written_total{reason="bootstrap"} 1`) {
		t.Errorf("metrics output missing sampler counter:\n%s", rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	server := newTestServer(t, &mockStore{}, Config{APIKeys: []string{"test-key-123", "another-key"}})

	tests := []struct {
		name       string
		path       string
		header     []string
		wantStatus int
	}{
		{"health is open", "/api/v1/health", nil, http.StatusOK},
		{"no key", "/api/v1/stats", nil, http.StatusUnauthorized},
		{"invalid key", "/api/v1/stats", []string{"X-API-Key", "wrong-key"}, http.StatusForbidden},
		{"valid key via X-API-Key", "/api/v1/stats", []string{"X-API-Key", "test-key-123"}, http.StatusOK},
		{"valid key via Bearer", "/api/v1/stats", []string{"Authorization", "Bearer another-key"}, http.StatusOK},
		{"metrics without key", "/metrics", nil, http.StatusUnauthorized},
		{"metrics with key", "/metrics", []string{"X-API-Key", "test-key-123"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, server, tt.path, tt.header...)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
