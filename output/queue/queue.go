// Package queue implements the bounded per-device outbound queue between a
// sampler and the publisher.
//
// A Queue has exactly one producer (its device's sampler tick) and one
// consumer (the publisher). Push never blocks: when the queue is full the
// oldest reading is evicted, counted and logged. Eviction never reorders
// the readings that survive.
package queue

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/metric"
	"github.com/c360/photgw/pkg/buffer"
)

// Queue is a bounded FIFO of sampled readings for one device.
type Queue struct {
	device  string
	buf     *buffer.Ring[message.SampledReading]
	ready   chan struct{}
	notify  chan<- struct{}
	metrics *metric.Metrics
	logger  *slog.Logger

	overflows atomic.Int64
	rejected  atomic.Int64
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	notify   chan<- struct{}
	registry *metric.MetricsRegistry
	logger   *slog.Logger
}

// WithNotify makes every accepted Push signal ch without blocking. The
// publisher shares one channel across all queues to wait for work.
func WithNotify(ch chan<- struct{}) Option {
	return func(o *options) { o.notify = ch }
}

// WithMetrics exports queue depth and overflows to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithLogger sets the logger overflow warnings go to.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a queue holding at most capacity readings for device.
func New(device string, capacity int, opts ...Option) (*Queue, error) {
	if capacity < 1 {
		return nil, errors.Config("queue", "qsize", "capacity %d must be at least 1", capacity)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	q := &Queue{
		device:  device,
		ready:   make(chan struct{}, 1),
		notify:  o.notify,
		metrics: o.registry.CoreMetrics(),
		logger:  o.logger.With("component", "queue", "device", device),
	}

	buf, err := buffer.New(capacity, buffer.WithEvict(q.onEvict))
	if err != nil {
		return nil, err
	}
	q.buf = buf
	return q, nil
}

func (q *Queue) onEvict(r message.SampledReading) {
	q.overflows.Add(1)
	q.metrics.RecordQueueOverflow(q.device)
	q.logger.Warn("Queue full, evicted oldest reading", "seq", r.Seq, "capacity", q.buf.Cap())
}

// Push appends r, evicting the oldest reading when full. It returns false
// only when r belongs to another device or the queue is closed.
func (q *Queue) Push(r message.SampledReading) bool {
	if r.Device != q.device {
		q.rejected.Add(1)
		q.logger.Error("Rejected reading for another device", "reading_device", r.Device)
		return false
	}
	if err := q.buf.Push(r); err != nil {
		q.rejected.Add(1)
		return false
	}
	q.metrics.SetQueueDepth(q.device, q.buf.Len())

	signal(q.ready)
	if q.notify != nil {
		signal(q.notify)
	}
	return true
}

// TryPop removes the oldest reading without waiting.
func (q *Queue) TryPop() (message.SampledReading, bool) {
	r, ok := q.buf.Pop()
	if ok {
		q.metrics.SetQueueDepth(q.device, q.buf.Len())
	}
	return r, ok
}

// Pop removes the oldest reading, waiting up to timeout for one to arrive.
func (q *Queue) Pop(timeout time.Duration) (message.SampledReading, bool) {
	if r, ok := q.TryPop(); ok {
		return r, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.ready:
			if r, ok := q.TryPop(); ok {
				return r, true
			}
		case <-timer.C:
			return q.TryPop()
		}
	}
}

// Device returns the device the queue belongs to.
func (q *Queue) Device() string { return q.device }

// Len returns the number of queued readings.
func (q *Queue) Len() int { return q.buf.Len() }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return q.buf.Cap() }

// Overflows returns how many readings were evicted.
func (q *Queue) Overflows() int64 { return q.overflows.Load() }

// Rejected returns how many pushes were refused.
func (q *Queue) Rejected() int64 { return q.rejected.Load() }

// Stats returns the ring counters behind the queue.
func (q *Queue) Stats() buffer.Stats { return q.buf.Stats() }

// Close refuses further pushes. Queued readings can still be popped.
func (q *Queue) Close() error {
	return q.buf.Close()
}

func (q *Queue) String() string {
	return fmt.Sprintf("queue(%s %d/%d)", q.device, q.Len(), q.Cap())
}

func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
