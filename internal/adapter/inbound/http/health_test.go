package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tapwire/gateway/internal/adapter/outbound/memory"
	"github.com/tapwire/gateway/internal/domain/upstream"
)

// fakeUpstreamStatusProvider reports a fixed status map for testing.
type fakeUpstreamStatusProvider struct {
	statuses map[string]upstream.ConnectionStatus
}

func (f *fakeUpstreamStatusProvider) StatusAll() map[string]upstream.ConnectionStatus {
	return f.statuses
}

func TestHealthChecker_Healthy(t *testing.T) {
	sessionStore := memory.NewSessionStore()
	upstreams := &fakeUpstreamStatusProvider{statuses: map[string]upstream.ConnectionStatus{
		"up-1": upstream.StatusConnected,
	}}

	hc := NewHealthChecker(sessionStore, upstreams, "test-version")

	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["session_store"] != "ok" {
		t.Errorf("session_store check = %q, want ok", health.Checks["session_store"])
	}
	if health.Checks["upstreams"] != "1/1 connected" {
		t.Errorf("upstreams check = %q, want '1/1 connected'", health.Checks["upstreams"])
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	hc := NewHealthChecker(nil, nil, "")
	health := hc.Check()

	// Should still be healthy with nil components
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["session_store"] != "not configured" {
		t.Errorf("session_store = %q, want 'not configured'", health.Checks["session_store"])
	}
	if health.Checks["upstreams"] != "not configured" {
		t.Errorf("upstreams = %q, want 'not configured'", health.Checks["upstreams"])
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	sessionStore := memory.NewSessionStore()
	hc := NewHealthChecker(sessionStore, nil, "1.0.0")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("Response status = %q, want healthy", resp.Status)
	}
	if resp.Version != "1.0.0" {
		t.Errorf("Response version = %q, want 1.0.0", resp.Version)
	}
}

func TestHealthChecker_Unhealthy_AllUpstreamsDown(t *testing.T) {
	upstreams := &fakeUpstreamStatusProvider{statuses: map[string]upstream.ConnectionStatus{
		"up-1": upstream.StatusDisconnected,
		"up-2": upstream.StatusError,
	}}

	hc := NewHealthChecker(nil, upstreams, "")
	health := hc.Check()

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy (no upstreams connected)", health.Status)
	}
}

func TestHealthChecker_Handler_Unhealthy_503(t *testing.T) {
	upstreams := &fakeUpstreamStatusProvider{statuses: map[string]upstream.ConnectionStatus{
		"up-1": upstream.StatusDisconnected,
	}}
	hc := NewHealthChecker(nil, upstreams, "")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want %d (503 Service Unavailable)", rec.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("Response status = %q, want unhealthy", resp.Status)
	}
}

func TestHealthChecker_GoroutineCount(t *testing.T) {
	hc := NewHealthChecker(nil, nil, "")
	health := hc.Check()

	// Goroutines should be a positive number string
	if health.Checks["goroutines"] == "" {
		t.Error("goroutines check should be present")
	}
	if health.Checks["goroutines"] == "0" {
		t.Error("goroutines count should be > 0")
	}
}
