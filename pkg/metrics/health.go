package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Overall states reported by /health and /ready
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// CriticalComponents must be registered and healthy before the daemon
// reports ready. A failing non-critical component only degrades /health.
var CriticalComponents = []string{"store", "executor", "events"}

// ComponentReport is the last state a component reported
type ComponentReport struct {
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Updated time.Time `json:"updated"`
}

// Report is the body of /health and /ready
type Report struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentReport `json:"components,omitempty"`
	Failing    []string                   `json:"failing,omitempty"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
}

type registry struct {
	mu         sync.RWMutex
	components map[string]ComponentReport
	started    time.Time
	version    string
}

var health = newRegistry()

func newRegistry() *registry {
	return &registry{components: map[string]ComponentReport{}, started: time.Now()}
}

// SetVersion sets the version string of health responses
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.components[name] = ComponentReport{Healthy: healthy, Message: message, Updated: time.Now()}
}

// UpdateComponent is RegisterComponent under the name probes report with
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

func isCritical(name string) bool {
	for _, c := range CriticalComponents {
		if c == name {
			return true
		}
	}
	return false
}

// Health reports every registered component. The daemon is unhealthy when
// a critical component fails and degraded when only others do.
func Health() Report {
	health.mu.RLock()
	defer health.mu.RUnlock()

	r := health.report(StatusHealthy)
	for name, c := range health.components {
		if c.Healthy {
			continue
		}
		r.Failing = append(r.Failing, name)
		if isCritical(name) {
			r.Status = StatusUnhealthy
		} else if r.Status == StatusHealthy {
			r.Status = StatusDegraded
		}
	}
	sort.Strings(r.Failing)
	return r
}

// Readiness reports the critical components only; a component that has
// not registered yet is not ready
func Readiness() Report {
	health.mu.RLock()
	defer health.mu.RUnlock()

	r := health.report(StatusReady)
	r.Components = map[string]ComponentReport{}
	for _, name := range CriticalComponents {
		c, ok := health.components[name]
		if !ok {
			c = ComponentReport{Message: "not registered"}
		}
		r.Components[name] = c
		if !c.Healthy {
			r.Status = StatusNotReady
			r.Failing = append(r.Failing, name)
		}
	}
	return r
}

func (h *registry) report(status string) Report {
	components := make(map[string]ComponentReport, len(h.components))
	for k, v := range h.components {
		components[k] = v
	}
	return Report{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	}
}

func writeReport(w http.ResponseWriter, r Report, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(r)
}

// HealthHandler serves /health: 503 only when unhealthy
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r := Health()
		writeReport(w, r, r.Status != StatusUnhealthy)
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r := Readiness()
		writeReport(w, r, r.Status == StatusReady)
	}
}

// LivenessHandler serves /live, 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		health.mu.RLock()
		uptime := time.Since(health.started).Round(time.Second).String()
		health.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive", "uptime": uptime})
	}
}
