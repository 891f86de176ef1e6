package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	health = newRegistry()
	t.Cleanup(func() { health = newRegistry() })
}

func registerCritical() {
	for _, name := range CriticalComponents {
		RegisterComponent(name, true, "")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		setup   func()
		status  string
		failing []string
	}{
		{name: "nothing registered", setup: func() {}, status: StatusHealthy},
		{name: "all healthy", setup: registerCritical, status: StatusHealthy},
		{
			name: "probe failing",
			setup: func() {
				registerCritical()
				UpdateComponent("ansible", false, "executable file not found")
			},
			status:  StatusDegraded,
			failing: []string{"ansible"},
		},
		{
			name: "critical failing",
			setup: func() {
				registerCritical()
				UpdateComponent("status_server", false, "connection refused")
				UpdateComponent("store", false, "database not open")
			},
			status:  StatusUnhealthy,
			failing: []string{"status_server", "store"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			tt.setup()
			r := Health()
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.failing, r.Failing)
		})
	}
}

func TestReadiness(t *testing.T) {
	resetHealth(t)
	SetVersion("2.0.0")
	RegisterComponent("store", true, "/adcm/data/var/adcm.db")

	r := Readiness()
	assert.Equal(t, StatusNotReady, r.Status)
	assert.Equal(t, []string{"executor", "events"}, r.Failing)
	assert.Equal(t, "not registered", r.Components["events"].Message)
	assert.Equal(t, "2.0.0", r.Version)

	registerCritical()
	// non-critical components do not affect readiness
	UpdateComponent("ansible", false, "missing")
	r = Readiness()
	assert.Equal(t, StatusReady, r.Status)
	assert.Len(t, r.Components, len(CriticalComponents))
}

func serve(t *testing.T, h http.HandlerFunc, path string) (int, Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var r Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return rec.Code, r
}

func TestHealthHandler(t *testing.T) {
	resetHealth(t)
	registerCritical()

	code, r := serve(t, HealthHandler(), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, r.Status)

	UpdateComponent("ansible", false, "missing")
	code, r = serve(t, HealthHandler(), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, r.Status)

	UpdateComponent("executor", false, "shutting down")
	code, r = serve(t, HealthHandler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "shutting down", r.Components["executor"].Message)
}

func TestReadyHandler(t *testing.T) {
	resetHealth(t)

	code, r := serve(t, ReadyHandler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusNotReady, r.Status)

	registerCritical()
	code, r = serve(t, ReadyHandler(), "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusReady, r.Status)
}

func TestLivenessHandler(t *testing.T) {
	resetHealth(t)
	UpdateComponent("store", false, "closed")

	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive"`)
}
