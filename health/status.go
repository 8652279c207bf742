// Package health tracks the health of the gateway's components.
package health

import (
	"cmp"
	"slices"
	"time"

	"github.com/c360/photgw/component"
)

// Health states reported in Status.Status.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health of one component, or of the whole gateway when
// SubStatuses is set.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics are the counters attached to a component's status.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	Restarts     int           `json:"restarts,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

func newStatus(name, state, message string) Status {
	return Status{
		Component: name,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewHealthy(name, message string) Status   { return newStatus(name, StateHealthy, message) }
func NewDegraded(name, message string) Status  { return newStatus(name, StateDegraded, message) }
func NewUnhealthy(name, message string) Status { return newStatus(name, StateUnhealthy, message) }

// Aggregate rolls subs into one status for name. The worst sub-status
// wins; no subs at all counts as healthy. Subs are copied and sorted by
// component name.
func Aggregate(name string, subs []Status) Status {
	worst := StateHealthy
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			worst = StateUnhealthy
		case sub.IsDegraded() && worst == StateHealthy:
			worst = StateDegraded
		}
	}

	var msg string
	switch {
	case len(subs) == 0:
		msg = "No sub-components to aggregate"
	case worst == StateUnhealthy:
		msg = "One or more sub-components are unhealthy"
	case worst == StateDegraded:
		msg = "One or more sub-components are degraded"
	default:
		msg = "All sub-components are healthy"
	}

	s := newStatus(name, worst, msg)
	if len(subs) > 0 {
		s.SubStatuses = slices.Clone(subs)
		slices.SortFunc(s.SubStatuses, func(a, b Status) int { return cmp.Compare(a.Component, b.Component) })
	}
	return s
}

// FromComponentHealth converts what a component reports about itself. A
// component that is unhealthy without any recorded error is reported as
// degraded; it is usually waiting on a link that has not come up yet.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	var s Status
	switch {
	case ch.Healthy:
		s = NewHealthy(name, "Component healthy")
	case ch.LastError == "":
		s = NewDegraded(name, "Component not ready")
	default:
		s = NewUnhealthy(name, Sanitize(ch.LastError))
	}
	s.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return s
}
