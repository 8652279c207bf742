// Package sampler decouples device cadence from publish cadence. Each device
// has one Sampler holding a single overwrite slot: Offer replaces whatever
// is pending and every period tick hands the pending reading, if any, to the
// outbound queue.
//
// Between two ticks only the last offered reading survives. Every overwritten
// reading is counted as a discard and every empty tick as missing data, so
// no reading disappears without a counter moving.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/metric"
)

// Pusher accepts sampled readings without blocking. The outbound queue
// implements it.
type Pusher interface {
	Push(message.SampledReading) bool
}

// Counters is a snapshot of a sampler's counters.
type Counters struct {
	Offered   int64 `json:"offered"`
	Discarded int64 `json:"discarded"`
	Emitted   int64 `json:"emitted"`
	Rejected  int64 `json:"rejected"`
	Missing   int64 `json:"missing"`
}

// Sampler is the per-device overwrite slot and its period timer.
type Sampler struct {
	device  string
	period  time.Duration
	out     Pusher
	metrics *metric.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	pending message.SampledReading
	has     bool
	seq     uint64

	offered   atomic.Int64
	discarded atomic.Int64
	emitted   atomic.Int64
	rejected  atomic.Int64
	missing   atomic.Int64
}

// New creates a sampler that emits to out every period.
func New(device string, period time.Duration, out Pusher, registry *metric.MetricsRegistry, logger *slog.Logger) (*Sampler, error) {
	if period <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("period %v must be positive", period), "sampler", "New", "config check")
	}
	if out == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil pusher"), "sampler", "New", "dependency check")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		device:  device,
		period:  period,
		out:     out,
		metrics: registry.CoreMetrics(),
		logger:  logger.With("component", "sampler", "device", device),
	}, nil
}

// Offer replaces the pending reading. It never blocks on the queue.
func (s *Sampler) Offer(r message.SampledReading) {
	s.offered.Add(1)

	s.mu.Lock()
	overwrote := s.has
	s.pending = r
	s.has = true
	s.mu.Unlock()

	if overwrote {
		s.discarded.Add(1)
		s.metrics.RecordSamplerDiscard(s.device)
	}
}

// Tick performs one sampling step: the pending reading, if any, is numbered from zero
// and pushed to the queue. It reports whether a reading was emitted.
func (s *Sampler) Tick() bool {
	s.mu.Lock()
	if !s.has {
		s.mu.Unlock()
		s.missing.Add(1)
		s.metrics.RecordSamplerTick(s.device, false)
		s.logger.Warn("Missing data, check device link", "period", s.period)
		return false
	}
	r := s.pending
	s.pending = message.SampledReading{}
	s.has = false
	r.Seq = s.seq
	s.seq++
	s.mu.Unlock()

	r.Device = s.device
	if !s.out.Push(r) {
		s.rejected.Add(1)
		s.logger.Error("Queue rejected sampled reading", "seq", r.Seq)
		return false
	}
	s.emitted.Add(1)
	s.metrics.RecordSamplerTick(s.device, true)
	s.logger.Debug("Sampled reading", "seq", r.Seq, "freqs", r.Reading.Freqs)
	return true
}

// Run ticks every period until ctx is cancelled. The pending slot survives
// a restart of Run.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Name returns the device the sampler belongs to.
func (s *Sampler) Name() string {
	return s.device
}

// Period returns the sampling period.
func (s *Sampler) Period() time.Duration {
	return s.period
}

// Counters returns a snapshot of the sampler's counters.
func (s *Sampler) Counters() Counters {
	return Counters{
		Offered:   s.offered.Load(),
		Discarded: s.discarded.Load(),
		Emitted:   s.emitted.Load(),
		Rejected:  s.rejected.Load(),
		Missing:   s.missing.Load(),
	}
}
