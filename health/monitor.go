package health

import (
	"sync"
	"time"

	"github.com/c360/photgw/component"
)

type entry struct {
	status   Status
	restarts int
}

// Monitor holds the latest status of every supervised unit. It is safe for
// concurrent use.
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewMonitor() *Monitor {
	return &Monitor{entries: make(map[string]*entry)}
}

// set stores s for name, keeping the restart count in s.Metrics.
func (m *Monitor) set(name string, s Status, restarted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		e = &entry{}
		m.entries[name] = e
	}
	if restarted {
		e.restarts++
	}
	s.Component = name
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	if e.restarts > 0 {
		metrics := Metrics{}
		if s.Metrics != nil {
			metrics = *s.Metrics
		}
		metrics.Restarts = e.restarts
		s.Metrics = &metrics
	}
	e.status = s
}

func (m *Monitor) UpdateHealthy(name, message string) {
	m.set(name, NewHealthy(name, message), false)
}

// UpdateUnhealthy marks name unhealthy with a sanitized message.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.set(name, NewUnhealthy(name, Sanitize(message)), false)
}

// UpdateComponent records what a component reports about itself.
func (m *Monitor) UpdateComponent(name string, ch component.HealthStatus) {
	m.set(name, FromComponentHealth(name, ch), false)
}

// RecordRestart counts a supervisor restart of name and marks it degraded
// until it reports again.
func (m *Monitor) RecordRestart(name, reason string) {
	m.set(name, NewDegraded(name, "restarting: "+Sanitize(reason)), true)
}

// Restarts returns how often name was restarted.
func (m *Monitor) Restarts(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[name]; ok {
		return e.restarts
	}
	return 0
}

func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return Status{}, false
	}
	return e.status, true
}

// GetAll returns a copy of every status keyed by unit name.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.entries))
	for name, e := range m.entries {
		out[name] = e.status
	}
	return out
}

// AggregateHealth rolls every unit into one status named systemName.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.entries))
	for _, e := range m.entries {
		subs = append(subs, e.status)
	}
	m.mu.RUnlock()
	return Aggregate(systemName, subs)
}

// Count returns the number of monitored units.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
