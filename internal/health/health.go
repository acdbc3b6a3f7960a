// Package health reports the state of the stores a bulk run depends on.
package health

import (
	"context"
	"sync"
	"time"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Checker pings a dependency.
type Checker func(ctx context.Context) error

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  SystemStatus  `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
}

type component struct {
	check    Checker
	critical bool
}

// Monitor runs registered checks on demand.
type Monitor struct {
	mu         sync.RWMutex
	components map[string]component
	timeout    time.Duration
}

// NewMonitor creates a monitor that bounds each check by timeout.
func NewMonitor(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Monitor{components: make(map[string]component), timeout: timeout}
}

// Register adds a check. A failing critical check makes the system critical;
// any other failure only degrades it.
func (m *Monitor) Register(name string, check Checker, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = component{check: check, critical: critical}
}

// CheckHealth runs every check concurrently. The worst component status wins.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.RLock()
	comps := make(map[string]component, len(m.components))
	for name, c := range m.components {
		comps[name] = c
	}
	m.mu.RUnlock()

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(comps)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, c := range comps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := m.run(ctx, name, c)
			mu.Lock()
			report.Components[name] = h
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, h := range report.Components {
		switch {
		case h.Status == StatusCritical:
			report.SystemStatus = StatusCritical
		case h.Status == StatusDegraded && report.SystemStatus == StatusHealthy:
			report.SystemStatus = StatusDegraded
		}
	}
	return report
}

func (m *Monitor) run(ctx context.Context, name string, c component) ComponentHealth {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := c.check(cctx)
	h := ComponentHealth{Name: name, Status: StatusHealthy, Latency: time.Since(start)}
	if err != nil {
		h.Error = err.Error()
		h.Status = StatusDegraded
		if c.critical {
			h.Status = StatusCritical
		}
	}
	return h
}
