package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/photgw/component"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/input/photometer"
	"github.com/c360/photgw/input/transport"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/metric"
	"github.com/c360/photgw/output/queue"
	"github.com/c360/photgw/pkg/retry"
	"github.com/c360/photgw/processor/decoder"
	"github.com/c360/photgw/processor/sampler"
)

// PipelineDeps holds what one device pipeline is built from.
type PipelineDeps struct {
	Device          message.DeviceConfig
	Transport       transport.Transport
	Queue           *queue.Queue
	Backoff         retry.Config
	ReadTimeout     time.Duration
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Now             func() time.Time
}

// Pipeline is the reader and sampler of one device, supervised as a single
// unit. The sampler, its pending slot and the queue outlive a restart.
type Pipeline struct {
	device  message.DeviceConfig
	reader  *photometer.Reader
	sampler *sampler.Sampler
	queue   *queue.Queue
	logger  *slog.Logger
}

var _ component.Runnable = (*Pipeline)(nil)
var _ component.Discoverable = (*Pipeline)(nil)

// NewPipeline wires a device's transport through a reader and sampler into
// its queue.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Queue == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil queue"), "pipeline", "NewPipeline", "dependency check")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	period := time.Duration(deps.Device.Period) * time.Second
	smp, err := sampler.New(deps.Device.Name, period, deps.Queue, deps.MetricsRegistry, logger)
	if err != nil {
		return nil, err
	}

	rdr, err := photometer.NewReader(photometer.ReaderDeps{
		Device:          deps.Device,
		Transport:       deps.Transport,
		Decoder:         decoder.New(),
		Sink:            smp,
		Backoff:         deps.Backoff,
		ReadTimeout:     deps.ReadTimeout,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          logger,
		Now:             deps.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		device:  deps.Device,
		reader:  rdr,
		sampler: smp,
		queue:   deps.Queue,
		logger:  logger.With("component", "pipeline", "device", deps.Device.Name),
	}, nil
}

// Name implements component.Runnable.
func (p *Pipeline) Name() string {
	return p.device.Name
}

// Run runs the reader and the sampler until ctx is cancelled. If either
// returns first the other is stopped and Run reports the early exit.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- named("reader", runSafely(runCtx, p.reader)) }()
	go func() {
		done <- named("sampler", runSafely(runCtx, component.RunnableFunc{TaskName: p.device.Name, Fn: p.sampler.Run}))
	}()

	first := <-done
	cancel()
	<-done

	if ctx.Err() != nil {
		return nil
	}
	if first == nil {
		first = fmt.Errorf("pipeline stage returned early")
	}
	return first
}

func named(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// Reader returns the device reader.
func (p *Pipeline) Reader() *photometer.Reader { return p.reader }

// Sampler returns the device sampler.
func (p *Pipeline) Sampler() *sampler.Sampler { return p.sampler }

// Queue returns the device's outbound queue.
func (p *Pipeline) Queue() *queue.Queue { return p.queue }

// LogStats logs the device counters at info level.
func (p *Pipeline) LogStats() {
	rc := p.reader.Counters()
	sc := p.sampler.Counters()
	p.logger.Info("Device stats",
		"state", p.reader.State().String(),
		"received", rc.Received,
		"decoded", rc.Decoded,
		"dropped", rc.Dropped,
		"reconnects", rc.Reconnects,
		"sampled", sc.Emitted,
		"discarded", sc.Discarded,
		"missing", sc.Missing,
		"queued", p.queue.Len(),
		"overflows", p.queue.Overflows(),
	)
}

// Meta implements component.Discoverable.
func (p *Pipeline) Meta() component.Metadata {
	m := p.reader.Meta()
	m.Type = "pipeline"
	return m
}

// Health implements component.Discoverable.
func (p *Pipeline) Health() component.HealthStatus {
	return p.reader.Health()
}

// DataFlow implements component.Discoverable.
func (p *Pipeline) DataFlow() component.FlowMetrics {
	return p.reader.DataFlow()
}
