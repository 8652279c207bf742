// Package publisher drains every device queue into one broker session.
//
// The publisher is the only goroutine that touches the session. It pulls one
// reading at a time from the device queues in round-robin order, attaches
// the device's calibration, serializes it and publishes it. While the broker
// is unreachable, drained readings wait in a bounded drop-oldest retry
// buffer and the session is reconnected with capped backoff.
//
// A failed publish puts the message back at the head of the retry buffer
// once. If the same message fails again it is dropped and counted. Because
// the retry buffer is always emptied before the queues are read again, the
// readings of one device reach the broker in the order they were sampled.
//
// Registration messages carry a device's identity and calibration. They are
// sent when the publisher starts and once more after RegisterRepeat, and
// always go out before pending readings.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/photgw/broker"
	"github.com/c360/photgw/calibration"
	"github.com/c360/photgw/component"
	gwerrors "github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/metric"
	"github.com/c360/photgw/output/queue"
	"github.com/c360/photgw/pkg/buffer"
	"github.com/c360/photgw/pkg/retry"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultTopicRoot       = "STARS4ALL"
	DefaultRegisterTopic   = "STARS4ALL/register"
	DefaultAckTimeout      = 10 * time.Second
	DefaultIdleWait        = 250 * time.Millisecond
	DefaultRegisterRepeat  = 5 * time.Second
	DefaultFlushTimeout    = 5 * time.Second
	DefaultStatsInterval   = 30 * time.Minute
	MinRetryBufferSize     = 16
	// MaxLinkLosses is how many publishes of one message may end with the
	// link down before the message is dropped.
	MaxLinkLosses          = 3
	controlBufferPerDevice = 2
)

// Drop reasons reported on the publish_dropped metric.
const (
	DropRetryExhausted = "retry_exhausted"
	DropRetryOverflow  = "retry_overflow"
	DropUnknownDevice  = "unknown_device"
	DropEncode         = "encode"
	DropShutdown       = "shutdown"
)

// Config tunes the publisher. Zero values take defaults, except
// RegisterRepeat and StatsInterval where zero turns the feature off.
type Config struct {
	TopicRoot       string        `yaml:"topic_root"`
	RegisterTopic   string        `yaml:"register_topic"`
	RetryBufferSize int           `yaml:"retry_buffer"`
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	IdleWait        time.Duration `yaml:"idle_wait"`
	RegisterRepeat  time.Duration `yaml:"register_repeat"`
	StatsInterval   time.Duration `yaml:"stats_interval"`
	FlushTimeout    time.Duration `yaml:"flush_timeout"`
	Backoff         retry.Config  `yaml:"-"`
}

func (c Config) withDefaults(devices int) Config {
	if c.TopicRoot == "" {
		c.TopicRoot = DefaultTopicRoot
	}
	if c.RegisterTopic == "" {
		c.RegisterTopic = DefaultRegisterTopic
	}
	if c.RetryBufferSize <= 0 {
		c.RetryBufferSize = max(devices, MinRetryBufferSize)
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.IdleWait <= 0 {
		c.IdleWait = DefaultIdleWait
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}

// Validate rejects settings that cannot work.
func (c Config) Validate() error {
	if c.RetryBufferSize < 0 {
		return gwerrors.Config("publisher", "retry_buffer", "size %d must not be negative", c.RetryBufferSize)
	}
	if c.RegisterRepeat < 0 {
		return gwerrors.Config("publisher", "register_repeat", "%v must not be negative", c.RegisterRepeat)
	}
	if c.StatsInterval < 0 {
		return gwerrors.Config("publisher", "stats_interval", "%v must not be negative", c.StatsInterval)
	}
	if len(message.ParseTopic(c.TopicRoot)) == 0 && c.TopicRoot != "" {
		return gwerrors.Config("publisher", "topic_root", "topic %q has no segments", c.TopicRoot)
	}
	if err := c.Backoff.Validate(); err != nil {
		return gwerrors.Config("publisher", "backoff", "%v", err)
	}
	return nil
}

// Deps holds the runtime dependencies of a Publisher.
type Deps struct {
	Session         broker.Session
	Registry        *calibration.Registry
	Queues          []*queue.Queue
	Wake            <-chan struct{} // signalled by the queues on every push
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Now             func() time.Time
}

// Status is the broker session state as the publisher sees it.
type Status int32

// Session states.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Counters is a snapshot of the publisher's lifetime counters.
type Counters struct {
	Readings       int64 `json:"readings"`
	Registers      int64 `json:"registers"`
	Failures       int64 `json:"failures"`
	Requeued       int64 `json:"requeued"`
	Dropped        int64 `json:"dropped"`
	UnknownDevice  int64 `json:"unknown_device"`
	ConnectAttempt int64 `json:"connect_attempts"`
}

// pending is a serialized message and the number of failed attempts.
type pending struct {
	msg        message.BrokerMessage
	attempts   int
	// publishes that ended with the link down
	linkLosses int
}

// Publisher multiplexes the device queues onto one broker session.
type Publisher struct {
	cfg      Config
	session  broker.Session
	registry *calibration.Registry
	queues   []*queue.Queue
	wake     <-chan struct{}
	root     message.Topic
	register message.Topic
	metrics  *metric.Metrics
	logger   *slog.Logger
	now      func() time.Time

	control *buffer.Ring[pending]
	retry   *buffer.Ring[pending]
	next    int // round-robin cursor into queues

	// reconnect schedule, owned by the Run goroutine
	backoff *retry.Backoff
	retryAt time.Time

	status    atomic.Int32
	paused    atomic.Bool
	resume    chan struct{}
	startTime time.Time

	readings       atomic.Int64
	registers      atomic.Int64
	failures       atomic.Int64
	requeued       atomic.Int64
	dropped        atomic.Int64
	unknown        atomic.Int64
	connectAttempt atomic.Int64

	// interval counters reported and reset by logStats
	window windowStats

	mu           sync.RWMutex
	lastError    string
	lastActivity time.Time
}

var _ component.Discoverable = (*Publisher)(nil)
var _ component.Runnable = (*Publisher)(nil)

// New creates a publisher over the given queues.
func New(cfg Config, deps Deps) (*Publisher, error) {
	if deps.Session == nil {
		return nil, gwerrors.WrapInvalid(fmt.Errorf("nil session"), "publisher", "New", "dependency check")
	}
	if deps.Registry == nil {
		return nil, gwerrors.WrapInvalid(fmt.Errorf("nil calibration registry"), "publisher", "New", "dependency check")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults(len(deps.Queues))

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	p := &Publisher{
		cfg:       cfg,
		session:   deps.Session,
		registry:  deps.Registry,
		queues:    deps.Queues,
		wake:      deps.Wake,
		root:      message.ParseTopic(cfg.TopicRoot),
		register:  message.ParseTopic(cfg.RegisterTopic),
		metrics:   deps.MetricsRegistry.CoreMetrics(),
		logger:    logger.With("component", "publisher", "session", deps.Session.Name()),
		now:       now,
		resume:    make(chan struct{}, 1),
		startTime: time.Now(),
	}

	control, err := buffer.New(deps.Registry.Len()*controlBufferPerDevice, buffer.WithEvict(p.onOverflow))
	if err != nil {
		return nil, err
	}
	retryBuf, err := buffer.New(cfg.RetryBufferSize,
		buffer.WithEvict(p.onOverflow),
		buffer.WithMetrics[pending](deps.MetricsRegistry, "publisher_retry"),
	)
	if err != nil {
		return nil, err
	}
	p.control = control
	p.retry = retryBuf
	p.status.Store(int32(StatusDisconnected))
	return p, nil
}

// Name implements component.Runnable.
func (p *Publisher) Name() string {
	return "publisher"
}

// Status returns the session state.
func (p *Publisher) Status() Status {
	return Status(p.status.Load())
}

// Pending returns how many messages wait in the retry buffer.
func (p *Publisher) Pending() int {
	return p.retry.Len()
}

// Counters returns the lifetime counters.
func (p *Publisher) Counters() Counters {
	return Counters{
		Readings:       p.readings.Load(),
		Registers:      p.registers.Load(),
		Failures:       p.failures.Load(),
		Requeued:       p.requeued.Load(),
		Dropped:        p.dropped.Load(),
		UnknownDevice:  p.unknown.Load(),
		ConnectAttempt: p.connectAttempt.Load(),
	}
}

// Pause stops draining the queues. Readings keep accumulating in the queues,
// which evict their oldest entries when full.
func (p *Publisher) Pause() {
	if !p.paused.Swap(true) {
		p.logger.Info("Publisher paused")
	}
}

// Resume restarts draining after Pause.
func (p *Publisher) Resume() {
	if p.paused.Swap(false) {
		p.logger.Info("Publisher resumed")
		select {
		case p.resume <- struct{}{}:
		default:
		}
	}
}

// Paused reports whether the publisher is paused.
func (p *Publisher) Paused() bool {
	return p.paused.Load()
}

// Run drains and publishes until ctx is cancelled, then flushes what it can
// within FlushTimeout and closes the session.
func (p *Publisher) Run(ctx context.Context) error {
	p.backoff = retry.NewBackoff(p.cfg.Backoff)
	p.retryAt = time.Time{}

	p.enqueueRegistrations()
	var repeat <-chan time.Time
	if p.cfg.RegisterRepeat > 0 {
		t := time.NewTimer(p.cfg.RegisterRepeat)
		defer t.Stop()
		repeat = t.C
	}
	var stats <-chan time.Time
	if p.cfg.StatsInterval > 0 {
		t := time.NewTicker(p.cfg.StatsInterval)
		defer t.Stop()
		stats = t.C
	}

	idle := time.NewTimer(p.cfg.IdleWait)
	defer idle.Stop()

	for ctx.Err() == nil {
		wait := p.cfg.IdleWait

		if !p.session.Connected() {
			p.setStatus(StatusDisconnected)
			p.hold()

			if now := time.Now(); !now.Before(p.retryAt) {
				err := p.connect(ctx)
				if err != nil && ctx.Err() != nil {
					break
				}
				// The schedule advances on a successful connect too and is
				// reset only by a delivered message, so a connection that
				// keeps dropping is retried with backoff.
				delay := p.backoff.Next()
				p.retryAt = time.Now().Add(delay)
				if err != nil {
					p.logger.Warn("Broker connect failed", "retry_in", delay,
						"buffered", p.retry.Len(), "error", err)
				}
			}
			if !p.session.Connected() {
				wait = min(wait, time.Until(p.retryAt))
			}
		}

		if p.session.Connected() && p.publishNext(ctx) {
			continue
		}

		resetTimer(idle, max(wait, time.Millisecond))
		select {
		case <-ctx.Done():
		case <-p.wake:
		case <-p.resume:
		case <-idle.C:
		case <-repeat:
			repeat = nil
			p.enqueueRegistrations()
		case <-stats:
			p.logStats()
		}
	}

	p.shutdown()
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (p *Publisher) connect(ctx context.Context) error {
	p.setStatus(StatusConnecting)
	p.connectAttempt.Add(1)
	p.metrics.RecordBrokerConnectAttempt()

	if err := p.session.Connect(ctx); err != nil {
		p.setStatus(StatusDisconnected)
		p.recordError(err)
		return err
	}
	p.setStatus(StatusConnected)
	p.logger.Info("Broker connected", "buffered", p.retry.Len())
	return nil
}

// hold moves queued readings into the retry buffer while the session is
// down. During an outage that buffer is the only slack; the queues are
// kept empty.
// The publisher is a consumer like any other: paused means nothing moves.
func (p *Publisher) hold() {
	if p.paused.Load() {
		return
	}
	for {
		msg, ok := p.drainOne()
		if !ok {
			return
		}
		_ = p.retry.Push(pending{msg: msg})
	}
}

// publishNext publishes one message: a registration first, then the oldest
// retry entry, then the next queue in round-robin order. It reports whether
// there was anything to do.
func (p *Publisher) publishNext(ctx context.Context) bool {
	if item, ok := p.control.Pop(); ok {
		p.publish(ctx, p.control, item)
		return true
	}
	if p.paused.Load() {
		return false
	}
	if item, ok := p.retry.Pop(); ok {
		p.publish(ctx, p.retry, item)
		return true
	}
	if msg, ok := p.drainOne(); ok {
		p.publish(ctx, p.retry, pending{msg: msg})
		return true
	}
	return false
}

// drainOne pops from the next non-empty queue and serializes the reading.
// Readings that cannot be published at all are counted and skipped.
func (p *Publisher) drainOne() (message.BrokerMessage, bool) {
	for range len(p.queues) * 2 {
		r, ok := p.popRoundRobin()
		if !ok {
			return message.BrokerMessage{}, false
		}
		msg, err := p.encode(r)
		if err == nil {
			return msg, true
		}
	}
	return message.BrokerMessage{}, false
}

func (p *Publisher) popRoundRobin() (message.SampledReading, bool) {
	n := len(p.queues)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		if r, ok := p.queues[idx].TryPop(); ok {
			p.next = (idx + 1) % n
			return r, true
		}
	}
	return message.SampledReading{}, false
}

func (p *Publisher) encode(r message.SampledReading) (message.BrokerMessage, error) {
	entry, ok := p.registry.Lookup(r.Device)
	if !ok {
		p.unknown.Add(1)
		p.dropped.Add(1)
		p.window.filtered.Add(1)
		p.metrics.RecordPublishDropped(r.Device, DropUnknownDevice)
		p.logger.Warn("Skipping reading from unknown device", "device", r.Device, "seq", r.Seq)
		return message.BrokerMessage{}, gwerrors.WrapInvalid(gwerrors.ErrUnknownDevice, "publisher", "encode", "registry lookup")
	}

	now := p.now()
	payload, err := encodeReading(r, entry, now)
	if err != nil {
		p.dropped.Add(1)
		p.window.filtered.Add(1)
		p.metrics.RecordPublishDropped(r.Device, DropEncode)
		p.logger.Error("Dropping unencodable reading", "device", r.Device, "seq", r.Seq, "error", err)
		return message.BrokerMessage{}, err
	}
	return message.BrokerMessage{
		Topic:   message.ReadingTopic(p.root, entry.Name),
		Payload: payload,
		Device:  entry.Name,
		Kind:    message.KindReading,
		Created: now,
	}, nil
}

// enqueueRegistrations queues one registration message per device.
func (p *Publisher) enqueueRegistrations() {
	for _, name := range p.registry.Names() {
		entry, _ := p.registry.Lookup(name)
		payload, err := encodeRegister(entry)
		if err != nil {
			p.logger.Error("Cannot encode registration", "device", name, "error", err)
			continue
		}
		_ = p.control.Push(pending{msg: message.BrokerMessage{
			Topic:   p.register,
			Payload: payload,
			Device:  name,
			Kind:    message.KindRegister,
			Created: p.now(),
		}})
	}
}

// publish sends one message. On failure the message goes back to the head
// of buf once; a second failure drops it. A failure that leaves the link
// down is counted apart, up to MaxLinkLosses, so an outage does not cost a
// message its retry but a message that brings the link down every time is
// still dropped.
func (p *Publisher) publish(ctx context.Context, buf *buffer.Ring[pending], item pending) {
	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.AckTimeout)
	start := time.Now()
	err := p.session.Publish(pubCtx, item.msg)
	cancel()

	if err == nil {
		p.recordPublished(item.msg, time.Since(start))
		return
	}

	if ctx.Err() != nil {
		// Stopping. Keep the message for the shutdown flush.
		_ = buf.PushFront(item)
		return
	}

	p.failures.Add(1)
	p.metrics.RecordPublishFailure(item.msg.Device)
	p.recordError(err)

	linkLost := !p.session.Connected()
	if linkLost {
		p.setStatus(StatusDisconnected)
		item.linkLosses++
	} else {
		item.attempts++
	}

	if item.attempts > 1 || item.linkLosses > MaxLinkLosses {
		p.drop(item, DropRetryExhausted)
		p.logger.Warn("Dropping message after retry", "device", item.msg.Device,
			"topic", item.msg.Topic.String(), "link_losses", item.linkLosses, "error", err)
		return
	}

	p.requeued.Add(1)
	_ = buf.PushFront(item)
	p.logger.Warn("Publish failed, message requeued", "device", item.msg.Device,
		"topic", item.msg.Topic.String(), "link_lost", linkLost, "error", err)
}

func (p *Publisher) recordPublished(msg message.BrokerMessage, latency time.Duration) {
	switch msg.Kind {
	case message.KindRegister:
		p.registers.Add(1)
		p.window.register.Add(1)
	default:
		p.readings.Add(1)
		p.window.readings.Add(1)
	}
	p.window.published.Add(1)
	p.metrics.RecordPublished(msg.Device, string(msg.Kind), latency)

	if p.backoff != nil {
		p.backoff.Reset()
		p.retryAt = time.Time{}
	}

	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
	p.logger.Debug("Published", "device", msg.Device, "kind", msg.Kind, "topic", msg.Topic.String())
}

func (p *Publisher) onOverflow(item pending) {
	p.drop(item, DropRetryOverflow)
	p.logger.Warn("Retry buffer full, dropped oldest message", "device", item.msg.Device,
		"kind", item.msg.Kind)
}

func (p *Publisher) drop(item pending, reason string) {
	p.dropped.Add(1)
	p.window.filtered.Add(1)
	p.metrics.RecordPublishDropped(item.msg.Device, reason)
}

// shutdown publishes what is still buffered or queued while the session is
// up and FlushTimeout allows, then closes the session. Anything left is
// counted as dropped.
func (p *Publisher) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FlushTimeout)
	defer cancel()

	if !p.paused.Load() {
		p.hold()
	}
	before := p.readings.Load() + p.registers.Load()
	for ctx.Err() == nil && p.session.Connected() {
		buf := p.control
		item, ok := buf.Pop()
		if !ok {
			buf = p.retry
			item, ok = buf.Pop()
		}
		if !ok {
			break
		}
		p.publish(ctx, buf, item)
	}
	flushed := p.readings.Load() + p.registers.Load() - before

	left := p.discard(p.control) + p.discard(p.retry)
	if err := p.session.Close(ctx); err != nil {
		p.logger.Warn("Broker session close failed", "error", err)
	}
	p.setStatus(StatusDisconnected)
	p.logStats()
	p.logger.Info("Publisher stopped", "flushed", flushed, "dropped", left)
}

func (p *Publisher) discard(buf *buffer.Ring[pending]) int {
	n := 0
	for {
		item, ok := buf.Pop()
		if !ok {
			return n
		}
		p.drop(item, DropShutdown)
		n++
	}
}

func (p *Publisher) setStatus(s Status) {
	p.status.Store(int32(s))
	p.metrics.SetBrokerConnected(s == StatusConnected)
}

func (p *Publisher) recordError(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.lastError = err.Error()
	p.mu.Unlock()
}

// windowStats are the counters shown by the periodic stats line.
type windowStats struct {
	published atomic.Int64
	readings  atomic.Int64
	register  atomic.Int64
	filtered  atomic.Int64
}

// logStats logs and resets the interval counters.
func (p *Publisher) logStats() {
	p.logger.Info("Publisher stats",
		"published", p.window.published.Swap(0),
		"readings", p.window.readings.Swap(0),
		"register", p.window.register.Swap(0),
		"discarded", p.window.filtered.Swap(0),
		"buffered", p.retry.Len(),
		"status", p.Status().String(),
	)
}

// Meta implements component.Discoverable.
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        "publisher",
		Type:        "publisher",
		Description: "Publishes sampled readings to " + p.session.Name(),
	}
}

// Health implements component.Discoverable. The publisher is healthy while
// the session is connected.
func (p *Publisher) Health() component.HealthStatus {
	p.mu.RLock()
	lastErr := p.lastError
	p.mu.RUnlock()

	healthy := p.Status() == StatusConnected
	if healthy {
		lastErr = ""
	}
	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(p.failures.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (p *Publisher) DataFlow() component.FlowMetrics {
	p.mu.RLock()
	last := p.lastActivity
	p.mu.RUnlock()

	published := p.readings.Load() + p.registers.Load()
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(published, time.Since(p.startTime)),
		ErrorRate:         component.ErrorRate(p.failures.Load(), published+p.failures.Load()),
		LastActivity:      last,
	}
}
