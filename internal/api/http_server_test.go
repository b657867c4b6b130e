package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"growlog/internal/config"
	"growlog/internal/manager"
)

type fakeSubsystem struct {
	health manager.HealthStatus
}

func (f *fakeSubsystem) Status() manager.Status {
	return manager.Status{State: "running"}
}

func (f *fakeSubsystem) Metrics() manager.Metrics {
	return manager.Metrics{TotalProcessed: 42}
}

func (f *fakeSubsystem) CheckHealth(ctx context.Context) manager.HealthReport {
	return manager.HealthReport{Status: f.health, CheckedAt: time.Now()}
}

func newTestServer(health manager.HealthStatus, rps float64) *HTTPServer {
	cfg := config.MonitoringConfig{
		PrometheusEnabled: true,
		StatusPort:        0,
		RateLimitRPS:      rps,
		RateLimitBurst:    2,
	}
	return NewHTTPServer(cfg, &fakeSubsystem{health: health}, nil)
}

func TestHealthzHealthy(t *testing.T) {
	srv := newTestServer(manager.HealthHealthy, 100)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report manager.HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != manager.HealthHealthy {
		t.Fatalf("expected healthy report, got %+v", report)
	}
}

func TestHealthzCriticalReturns503(t *testing.T) {
	srv := newTestServer(manager.HealthCritical, 100)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for critical health, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(manager.HealthHealthy, 100)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status  manager.Status  `json:"status"`
		Metrics manager.Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status.State != "running" || body.Metrics.TotalProcessed != 42 {
		t.Fatalf("unexpected payload: %+v", body)
	}
}

func TestStatusRejectsNonGet(t *testing.T) {
	srv := newTestServer(manager.HealthHealthy, 100)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	srv := newTestServer(manager.HealthHealthy, 100)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics endpoint, got %d", rec.Code)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	srv := newTestServer(manager.HealthHealthy, 1) // burst 2

	var last int
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		srv.Handler().ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst exhausted, got %d", last)
	}
}
