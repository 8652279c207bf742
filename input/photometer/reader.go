// Package photometer runs the per-device read loop: connect the transport,
// decode lines, hand decoded readings to the sampler and reconnect with
// capped backoff when the link drops.
package photometer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/photgw/component"
	gwerrors "github.com/c360/photgw/errors"
	"github.com/c360/photgw/input/transport"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/metric"
	"github.com/c360/photgw/pkg/retry"
	"github.com/c360/photgw/processor/decoder"
)

// DefaultReadTimeout bounds a single ReadLine so cancellation is noticed
// promptly.
const DefaultReadTimeout = 500 * time.Millisecond

// State is the link state of a Reader.
type State int32

// Reader states.
const (
	StateConnecting State = iota
	StateStreaming
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sink receives decoded readings. Offer must not block.
type Sink interface {
	Offer(message.SampledReading)
}

// Counters is a snapshot of a reader's line counters.
type Counters struct {
	Received   int64 `json:"received"`
	Decoded    int64 `json:"decoded"`
	Dropped    int64 `json:"dropped"`
	Reconnects int64 `json:"reconnects"`
}

// ReaderDeps holds the runtime dependencies of a Reader.
type ReaderDeps struct {
	Device          message.DeviceConfig
	Transport       transport.Transport
	Decoder         *decoder.Decoder
	Sink            Sink
	Backoff         retry.Config
	ReadTimeout     time.Duration
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Now             func() time.Time
}

// Reader owns one device link. Run is its only goroutine.
type Reader struct {
	device    message.DeviceConfig
	channels  []int
	transport transport.Transport
	decoder   *decoder.Decoder
	sink      Sink
	backoff   retry.Config
	timeout   time.Duration
	metrics   *metric.Metrics
	logger    *slog.Logger
	now       func() time.Time

	state     atomic.Int32
	startTime time.Time

	received   atomic.Int64
	decoded    atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
	errorCount atomic.Int64

	mu           sync.RWMutex
	lastError    string
	lastActivity time.Time
}

var _ component.Discoverable = (*Reader)(nil)
var _ component.Runnable = (*Reader)(nil)

// NewReader creates a reader for one device.
func NewReader(deps ReaderDeps) (*Reader, error) {
	if deps.Transport == nil {
		return nil, gwerrors.WrapInvalid(fmt.Errorf("nil transport"), "photometer", "NewReader", "dependency check")
	}
	if deps.Sink == nil {
		return nil, gwerrors.WrapInvalid(fmt.Errorf("nil sink"), "photometer", "NewReader", "dependency check")
	}
	if err := deps.Backoff.Validate(); err != nil {
		return nil, err
	}

	dec := deps.Decoder
	if dec == nil {
		dec = decoder.New()
	}
	timeout := deps.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	r := &Reader{
		device:    deps.Device,
		channels:  deps.Device.Channels(),
		transport: deps.Transport,
		decoder:   dec,
		sink:      deps.Sink,
		backoff:   deps.Backoff,
		timeout:   timeout,
		metrics:   deps.MetricsRegistry.CoreMetrics(),
		logger:    logger.With("component", "reader", "device", deps.Device.Name),
		now:       now,
		startTime: time.Now(),
	}
	r.state.Store(int32(StateStopped))
	return r, nil
}

// Name implements component.Runnable.
func (r *Reader) Name() string {
	return r.device.Name
}

// State returns the current link state.
func (r *Reader) State() State {
	return State(r.state.Load())
}

// Counters returns the current line counters.
func (r *Reader) Counters() Counters {
	return Counters{
		Received:   r.received.Load(),
		Decoded:    r.decoded.Load(),
		Dropped:    r.dropped.Load(),
		Reconnects: r.reconnects.Load(),
	}
}

// Run connects and streams until ctx is cancelled. Link and decode failures
// never end the loop; it returns nil once ctx is done.
func (r *Reader) Run(ctx context.Context) error {
	backoff := retry.NewBackoff(r.backoff)
	r.setState(StateConnecting)
	defer func() {
		_ = r.transport.Close()
		r.setState(StateStopped)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := r.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.recordError(err)
			r.logger.Warn("Device connect failed", "endpoint", r.transport.String(),
				"retry_in", backoff.Peek(), "error", err)
			if r.waitReconnect(ctx, backoff) != nil {
				return nil
			}
			continue
		}

		r.setState(StateStreaming)
		r.logger.Info("Device streaming", "endpoint", r.transport.String())

		err := r.stream(ctx, backoff)
		_ = r.transport.Close()
		if ctx.Err() != nil {
			return nil
		}

		r.recordError(err)
		r.logger.Warn("Device disconnected", "endpoint", r.transport.String(),
			"retry_in", backoff.Peek(), "error", err)
		if r.waitReconnect(ctx, backoff) != nil {
			return nil
		}
	}
}

func (r *Reader) waitReconnect(ctx context.Context, backoff *retry.Backoff) error {
	r.setState(StateReconnecting)
	r.reconnects.Add(1)
	r.metrics.RecordDeviceReconnect(r.device.Name)
	return backoff.Wait(ctx)
}

// stream reads until the link fails or ctx ends.
func (r *Reader) stream(ctx context.Context, backoff *retry.Backoff) error {
	for ctx.Err() == nil {
		line, err := r.transport.ReadLine(r.timeout)
		switch {
		case err == nil:
		case errors.Is(err, gwerrors.ErrReadTimeout):
			continue
		case errors.Is(err, gwerrors.ErrLineTooLong):
			r.received.Add(1)
			r.dropped.Add(1)
			r.metrics.RecordLine(r.device.Name, false)
			r.logger.Debug("Dropped oversized line")
			continue
		default:
			return err
		}

		r.received.Add(1)
		reading, err := r.decoder.Decode(line, r.device.Model, r.channels)
		if err != nil {
			r.dropped.Add(1)
			r.metrics.RecordLine(r.device.Name, false)
			r.logger.Debug("Dropped undecodable line", "line", string(line), "error", err)
			continue
		}

		r.decoded.Add(1)
		r.metrics.RecordLine(r.device.Name, true)
		if backoff.Attempt() > 0 {
			backoff.Reset()
		}

		arrived := r.now()
		r.mu.Lock()
		r.lastActivity = arrived
		r.mu.Unlock()

		r.sink.Offer(message.SampledReading{
			Device:    r.device.Name,
			Reading:   reading,
			ArrivedAt: arrived,
		})
	}
	return ctx.Err()
}

func (r *Reader) setState(s State) {
	r.state.Store(int32(s))
	r.metrics.SetDeviceConnected(r.device.Name, s == StateStreaming)
}

func (r *Reader) recordError(err error) {
	if err == nil {
		return
	}
	r.errorCount.Add(1)
	r.mu.Lock()
	r.lastError = err.Error()
	r.mu.Unlock()
}

// Meta implements component.Discoverable.
func (r *Reader) Meta() component.Metadata {
	return component.Metadata{
		Name:        r.device.Name,
		Type:        "reader",
		Description: fmt.Sprintf("%s photometer on %s", r.device.Model, r.device.Endpoint),
	}
}

// Health implements component.Discoverable. A reader is healthy only while
// streaming.
func (r *Reader) Health() component.HealthStatus {
	r.mu.RLock()
	lastErr := r.lastError
	r.mu.RUnlock()

	healthy := r.State() == StateStreaming
	if healthy {
		lastErr = ""
	}
	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(r.errorCount.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(r.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (r *Reader) DataFlow() component.FlowMetrics {
	r.mu.RLock()
	last := r.lastActivity
	r.mu.RUnlock()

	received := r.received.Load()
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(r.decoded.Load(), time.Since(r.startTime)),
		ErrorRate:         component.ErrorRate(r.dropped.Load(), received),
		LastActivity:      last,
	}
}
