// Package buffer provides Ring, a bounded FIFO that evicts its oldest item
// to make room for a new one. It backs the per-device outbound queues and
// the publisher's control and retry buffers.
package buffer

import (
	"sync"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/metric"
)

// Ring is safe for concurrent use. Evicted items are reported to the evict
// callback after the lock is released, so the callback may inspect the ring.
type Ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int // next pop position
	size   int
	closed bool

	stats   counters
	metrics *ringMetrics
	onEvict func(T)
}

// Option configures a Ring.
type Option[T any] func(*Ring[T], *settings)

type settings struct {
	registry *metric.MetricsRegistry
	name     string
}

// WithEvict registers fn to receive every item pushed out of a full ring.
func WithEvict[T any](fn func(T)) Option[T] {
	return func(r *Ring[T], _ *settings) {
		r.onEvict = fn
	}
}

// WithMetrics exports the ring's counters under the given name. A nil
// registry or an empty name leaves the ring unexported.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(_ *Ring[T], s *settings) {
		s.registry = registry
		s.name = name
	}
}

// New returns a ring holding at most capacity items. Capacities below one
// are raised to one.
func New[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	r := &Ring[T]{items: make([]T, max(capacity, 1))}
	var s settings
	for _, opt := range opts {
		if opt != nil {
			opt(r, &s)
		}
	}
	if s.registry != nil && s.name != "" {
		m, err := newRingMetrics(s.registry, s.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "New", "metrics registration")
		}
		r.metrics = m
	}
	return r, nil
}

// Push appends item. When the ring is full the oldest item is evicted
// first. It fails only once the ring is closed.
func (r *Ring[T]) Push(item T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Push", "ring closed")
	}

	var evicted T
	full := r.size == len(r.items)
	if full {
		evicted = r.items[r.head]
		r.head = r.wrap(r.head + 1)
		r.size--
	}
	r.items[r.wrap(r.head+r.size)] = item
	r.size++
	r.pushed(full)
	r.mu.Unlock()

	if full {
		r.evict(evicted)
	}
	return nil
}

// PushFront puts item back at the head so it is popped next. On a full
// ring item counts as the oldest entry and is the one evicted.
func (r *Ring[T]) PushFront(item T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "PushFront", "ring closed")
	}
	if r.size == len(r.items) {
		r.stats.evicted.Add(1)
		if r.metrics != nil {
			r.metrics.evicted.Inc()
		}
		r.mu.Unlock()
		r.evict(item)
		return nil
	}

	r.head = r.wrap(r.head - 1)
	r.items[r.head] = item
	r.size++
	r.pushed(false)
	r.mu.Unlock()
	return nil
}

// Pop removes the oldest item. It keeps working after Close so buffered
// items can be drained.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = r.wrap(r.head + 1)
	r.size--

	r.stats.popped.Add(1)
	if r.metrics != nil {
		r.metrics.popped.Inc()
		r.metrics.depth.Set(float64(r.size))
	}
	return item, true
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Close rejects further pushes.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the ring's counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	size := r.size
	r.mu.Unlock()
	return Stats{
		Pushed:  r.stats.pushed.Load(),
		Popped:  r.stats.popped.Load(),
		Evicted: r.stats.evicted.Load(),
		Peak:    int(r.stats.peak.Load()),
		Len:     size,
		Cap:     len(r.items),
	}
}

func (r *Ring[T]) wrap(i int) int {
	n := len(r.items)
	return ((i % n) + n) % n
}

// pushed must be called with the lock held.
func (r *Ring[T]) pushed(evicted bool) {
	r.stats.pushed.Add(1)
	if evicted {
		r.stats.evicted.Add(1)
	}
	if int64(r.size) > r.stats.peak.Load() {
		r.stats.peak.Store(int64(r.size))
	}
	if r.metrics != nil {
		r.metrics.pushed.Inc()
		if evicted {
			r.metrics.evicted.Inc()
		}
		r.metrics.depth.Set(float64(r.size))
	}
}

func (r *Ring[T]) evict(item T) {
	if r.onEvict != nil {
		r.onEvict(item)
	}
}
