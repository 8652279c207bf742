package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/c360/photgw/component"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/health"
	"github.com/c360/photgw/metric"
	"github.com/c360/photgw/pkg/retry"
)

// Supervisor defaults.
const (
	DefaultHealthInterval = 5 * time.Second
	DefaultStableAfter    = time.Minute
)

// SupervisorConfig tunes restart behaviour.
type SupervisorConfig struct {
	// Backoff spaces consecutive restarts of one unit.
	Backoff retry.Config
	// StableAfter resets a unit's backoff once it has run that long.
	StableAfter time.Duration
	// HealthInterval is how often Discoverable units are polled into the
	// health monitor.
	HealthInterval time.Duration
}

// Supervisor runs units of work and restarts any that exit while their
// context is still live. A unit may end by returning an error, by returning
// nil early, or by panicking; all three count as an unexpected exit.
type Supervisor struct {
	cfg     SupervisorConfig
	monitor *health.Monitor
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewSupervisor creates a supervisor. monitor may be nil.
func NewSupervisor(cfg SupervisorConfig, monitor *health.Monitor, registry *metric.MetricsRegistry, logger *slog.Logger) *Supervisor {
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = DefaultStableAfter
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if monitor == nil {
		monitor = health.NewMonitor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		monitor: monitor,
		metrics: registry.CoreMetrics(),
		logger:  logger.With("component", "supervisor"),
	}
}

// Monitor returns the health monitor the supervisor reports into.
func (s *Supervisor) Monitor() *health.Monitor {
	return s.monitor
}

// Supervise runs every unit in its own goroutine and blocks until ctx is
// cancelled and all of them have returned.
func (s *Supervisor) Supervise(ctx context.Context, units ...component.Runnable) {
	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.keepAlive(ctx, u)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pollHealth(ctx, units)
	}()

	wg.Wait()
}

func (s *Supervisor) keepAlive(ctx context.Context, u component.Runnable) {
	name := u.Name()
	backoff := retry.NewBackoff(s.cfg.Backoff)
	s.logger.Debug("Starting unit", "unit", name)

	for {
		started := time.Now()
		err := runSafely(ctx, u)
		if ctx.Err() != nil {
			s.logger.Debug("Unit stopped", "unit", name)
			return
		}

		if err == nil {
			err = fmt.Errorf("returned without error")
		}
		if time.Since(started) >= s.cfg.StableAfter {
			backoff.Reset()
		}

		s.monitor.RecordRestart(name, err.Error())
		s.metrics.RecordPipelineRestart(name)
		s.logger.Error("Unit terminated unexpectedly, restarting",
			"unit", name,
			"ran_for", time.Since(started).Round(time.Millisecond),
			"restart_in", backoff.Peek(),
			"error", err,
		)
		if backoff.Wait(ctx) != nil {
			return
		}
	}
}

// runSafely converts a panic in u into an error.
func runSafely(ctx context.Context, u component.Runnable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(fmt.Errorf("panic: %v\n%s", r, debug.Stack()), "supervisor", "runSafely", "run "+u.Name())
		}
	}()
	return u.Run(ctx)
}

func (s *Supervisor) pollHealth(ctx context.Context, units []component.Runnable) {
	var watched []component.Discoverable
	for _, u := range units {
		if d, ok := u.(component.Discoverable); ok {
			watched = append(watched, d)
		}
	}
	if len(watched) == 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		for _, p := range watched {
			s.monitor.UpdateComponent(p.Meta().Name, p.Health())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
