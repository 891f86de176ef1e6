package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/rs/zerolog"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP  CheckType = "http"
	CheckTypeExec  CheckType = "exec"
	CheckTypeStore CheckType = "store"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is implemented by every probe
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns the probe schedule of the daemon
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health of one probe
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that is healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= max(config.Retries, 1) {
		s.Healthy = false
	}
}

// StoreChecker verifies that the store answers read transactions
type StoreChecker struct {
	Store *storage.Store
}

// Check opens a read transaction
func (c *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- c.Store.View(func(tx *storage.Tx) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			return finish(start, false, "store unavailable: "+err.Error())
		}
		return finish(start, true, "store open")
	case <-ctx.Done():
		return finish(start, false, "store check timed out")
	}
}

// Type returns the health check type
func (c *StoreChecker) Type() CheckType {
	return CheckTypeStore
}

// Reporter receives the aggregated health of a probe
type Reporter func(name string, healthy bool, message string)

type probe struct {
	name    string
	checker Checker
	status  *Status
}

// Monitor runs a set of named probes on one schedule and reports each
// state change through the reporter
type Monitor struct {
	config Config
	report Reporter
	logger zerolog.Logger

	mu     sync.Mutex
	probes []*probe
}

// NewMonitor creates a monitor
func NewMonitor(config Config, report Reporter) *Monitor {
	return &Monitor{
		config: config,
		report: report,
		logger: log.WithComponent("health"),
	}
}

// Add registers a probe under name
func (m *Monitor) Add(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, &probe{name: name, checker: checker, status: NewStatus()})
}

// CheckAll runs every probe once and reports the outcome
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.Lock()
	probes := append([]*probe(nil), m.probes...)
	m.mu.Unlock()

	for _, p := range probes {
		cctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		result := p.checker.Check(cctx)
		cancel()

		was := p.status.Healthy
		p.status.Update(result, m.config)
		if was != p.status.Healthy {
			m.logger.Warn().
				Str("probe", p.name).
				Str("type", string(p.checker.Type())).
				Bool("healthy", p.status.Healthy).
				Str("message", result.Message).
				Msg("health changed")
		}
		m.report(p.name, p.status.Healthy, result.Message)
	}
}

// Run probes every interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		m.CheckAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
