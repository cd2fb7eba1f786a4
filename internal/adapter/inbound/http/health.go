package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/tapwire/gateway/internal/adapter/outbound/memory"
	"github.com/tapwire/gateway/internal/domain/upstream"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// UpstreamStatusProvider reports connection status for every managed
// upstream, keyed by upstream ID.
type UpstreamStatusProvider interface {
	StatusAll() map[string]upstream.ConnectionStatus
}

// HealthChecker verifies component health.
type HealthChecker struct {
	sessionStore *memory.MemorySessionStore
	upstreams    UpstreamStatusProvider
	version      string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	sessionStore *memory.MemorySessionStore,
	upstreams UpstreamStatusProvider,
	version string,
) *HealthChecker {
	return &HealthChecker{
		sessionStore: sessionStore,
		upstreams:    upstreams,
		version:      version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	// Check session store accessibility
	if h.sessionStore != nil {
		// Size() acquires lock - if this hangs, we have a problem
		_ = h.sessionStore.Size()
		checks["session_store"] = "ok"
	} else {
		checks["session_store"] = "not configured"
	}

	// Check upstream connectivity.
	if h.upstreams != nil {
		statusAll := h.upstreams.StatusAll()
		connected := 0
		for _, s := range statusAll {
			if s == upstream.StatusConnected {
				connected++
			}
		}
		checks["upstreams"] = fmt.Sprintf("%d/%d connected", connected, len(statusAll))
		if len(statusAll) > 0 && connected == 0 {
			healthy = false
		}
	} else {
		checks["upstreams"] = "not configured"
	}

	// Add Go runtime info
	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
