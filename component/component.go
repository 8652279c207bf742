// Package component holds the contracts shared by the gateway's
// long-running units: the readers, the publisher, the pipelines and the
// admin server.
package component

import (
	"context"
	"time"
)

// Runnable is a unit of work that blocks until ctx is cancelled or it
// fails. Run returns nil only once ctx is done; any other return, a nil
// one included, counts as an unexpected exit and gets the unit restarted.
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (f RunnableFunc) Name() string                  { return f.TaskName }
func (f RunnableFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// Discoverable units report on themselves. The supervisor polls them into
// the health monitor.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// Metadata names a unit. Type is one of "reader", "publisher", "pipeline"
// or "gateway".
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// HealthStatus is a unit's own view of its health.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes traffic through a unit since it started.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// Rate is count per second over uptime.
func Rate(count int64, uptime time.Duration) float64 {
	if uptime <= 0 {
		return 0
	}
	return float64(count) / uptime.Seconds()
}

// ErrorRate is failed/total, or 0 before anything was seen.
func ErrorRate(failed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
