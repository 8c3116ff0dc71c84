package observability

import (
	"context"
	"sync"
	"time"
)

// ComponentStatus grades a probed component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// severity ranks statuses so the aggregate can take the worst one.
var severity = map[ComponentStatus]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
}

// HealthCheck probes one component and reports its state.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is one probe result.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ms"`
	Details     map[string]any  `json:"details,omitempty"`
}

// SystemHealth aggregates all component probes; Status is the worst of them.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// Alert is emitted when a component changes status.
type Alert struct {
	Level     string    `json:"level"` // info|warn|critical
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// HealthMonitor probes registered components on an interval and emits an
// Alert whenever a component changes status. Probes also run on demand via
// Check, so the HTTP health handler never serves a stale aggregate.
type HealthMonitor struct {
	mu       sync.RWMutex
	probes   map[string]HealthCheck
	latest   map[string]ComponentHealth
	since    time.Time
	interval time.Duration
	alertCh  chan Alert
	stopCh   chan struct{}
	stopOnce sync.Once

	// probeMu serializes probe passes. Checks arrive from both the ticker
	// loop and HTTP health requests; registered closures may keep state
	// across calls and must never run concurrently with themselves.
	probeMu sync.Mutex
}

// NewHealthMonitor creates a monitor probing at the given interval.
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		probes:   make(map[string]HealthCheck),
		latest:   make(map[string]ComponentHealth),
		since:    time.Now(),
		interval: interval,
		alertCh:  make(chan Alert, 256),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a named probe. Call before Start.
func (m *HealthMonitor) Register(name string, probe HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// Start launches the periodic probe loop. It returns immediately; the loop
// runs until the context is cancelled or Stop is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop ends the periodic loop. Safe to call more than once.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Check probes everything now and returns the aggregate.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.probe(ctx)
	return m.aggregate()
}

// Alerts is the status-transition stream. The channel is bounded; alerts
// nobody reads are dropped.
func (m *HealthMonitor) Alerts() <-chan Alert {
	return m.alertCh
}

// ComponentStatus returns the most recent result for one component.
func (m *HealthMonitor) ComponentStatus(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.latest[name]
	return h, ok
}

// probe runs every registered check, swaps in the new results and emits
// alerts for components whose status changed. One pass at a time.
func (m *HealthMonitor) probe(ctx context.Context) {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	m.mu.RLock()
	probes := make(map[string]HealthCheck, len(m.probes))
	for name, fn := range m.probes {
		probes[name] = fn
	}
	m.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(probes))
	for name, fn := range probes {
		start := time.Now()
		r := fn(ctx)
		r.Name = name
		r.LastChecked = time.Now()
		r.Latency = time.Since(start)
		results[name] = r
	}

	m.mu.Lock()
	previous := m.latest
	m.latest = results
	m.mu.Unlock()

	for name, cur := range results {
		prev, seen := previous[name]
		if !seen || prev.Status != cur.Status {
			m.notify(name, cur)
		}
	}
}

func (m *HealthMonitor) notify(name string, h ComponentHealth) {
	level := "info"
	switch h.Status {
	case StatusUnhealthy:
		level = "critical"
	case StatusDegraded:
		level = "warn"
	}
	msg := h.Message
	if msg == "" {
		msg = "status changed to " + string(h.Status)
	}
	select {
	case m.alertCh <- Alert{Level: level, Component: name, Message: msg, Timestamp: time.Now()}:
	default:
	}
}

func (m *HealthMonitor) aggregate() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.latest))
	worst := StatusHealthy
	for name, h := range m.latest {
		components[name] = h
		if severity[h.Status] > severity[worst] {
			worst = h.Status
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.since),
	}
}
