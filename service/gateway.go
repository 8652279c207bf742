package service

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/c360/photgw/broker"
	"github.com/c360/photgw/broker/kafka"
	"github.com/c360/photgw/broker/mqtt"
	"github.com/c360/photgw/broker/nats"
	"github.com/c360/photgw/calibration"
	"github.com/c360/photgw/component"
	"github.com/c360/photgw/config"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/health"
	"github.com/c360/photgw/input/transport"
	"github.com/c360/photgw/logging"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/metric"
	"github.com/c360/photgw/output/publisher"
	"github.com/c360/photgw/output/queue"
)

// SessionFactory opens the broker session for a configuration. subjects
// lists the NATS subjects the gateway publishes under.
type SessionFactory func(cfg broker.Config, subjects []string, logger *slog.Logger) (broker.Session, error)

// NewSession is the default SessionFactory.
func NewSession(cfg broker.Config, subjects []string, logger *slog.Logger) (broker.Session, error) {
	switch cfg.Kind {
	case broker.KindMQTT:
		return mqtt.New(cfg, logger), nil
	case broker.KindNATS:
		return nats.New(cfg, subjects, logger), nil
	case broker.KindKafka:
		return kafka.New(cfg, logger), nil
	default:
		return nil, errors.Config("service", "broker.kind", "unsupported broker kind %q", cfg.Kind)
	}
}

// Options holds the collaborators a Gateway is built with. Zero fields take
// production defaults.
type Options struct {
	Transports      transport.Factory
	Sessions        SessionFactory
	MetricsRegistry *metric.MetricsRegistry
	Levels          *logging.Levels
	Monitor         *health.Monitor
	HealthInterval  time.Duration
	Now             func() time.Time
}

// Gateway is the assembled process: one pipeline per photometer, the
// outbound queues and the publisher, all under one supervisor.
type Gateway struct {
	cfg        *config.Config
	levels     *logging.Levels
	registry   *calibration.Registry
	pipelines  []*Pipeline
	publisher  *publisher.Publisher
	supervisor *Supervisor
	logger     *slog.Logger
}

// NewGateway builds every component from a validated configuration.
// Nothing is started.
func NewGateway(cfg *config.Config, opts Options) (*Gateway, error) {
	if opts.Transports == nil {
		opts.Transports = transport.New
	}
	if opts.Sessions == nil {
		opts.Sessions = NewSession
	}
	if opts.Levels == nil {
		opts.Levels = logging.New(slog.Default().Handler(), slog.LevelInfo)
	}
	levels := opts.Levels
	for _, name := range logging.Components {
		levels.Component(name)
	}
	levels.Apply(logging.SpaceComponent, cfg.ComponentLevels())

	registry, err := calibration.NewRegistry(cfg.Devices)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:      cfg,
		levels:   levels,
		registry: registry,
		logger:   levels.Component(logging.Main).With("component", "gateway"),
	}

	wake := make(chan struct{}, 1)
	deviceLevels := cfg.DeviceLevels()
	queues := make([]*queue.Queue, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		logger := levels.Device(d.Name, deviceLevels[d.Name])

		tr, err := opts.Transports(d.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		q, err := queue.New(d.Name, d.QueueSize,
			queue.WithNotify(wake),
			queue.WithMetrics(opts.MetricsRegistry),
			queue.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		p, err := NewPipeline(PipelineDeps{
			Device:          d,
			Transport:       tr,
			Queue:           q,
			Backoff:         cfg.Backoff,
			MetricsRegistry: opts.MetricsRegistry,
			Logger:          logger,
			Now:             opts.Now,
		})
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
		g.pipelines = append(g.pipelines, p)
	}

	session, err := opts.Sessions(cfg.Broker, natsSubjects(cfg.Gateway), levels.Component(logging.Broker))
	if err != nil {
		return nil, err
	}
	pubCfg := cfg.Gateway
	pubCfg.Backoff = cfg.Backoff
	g.publisher, err = publisher.New(pubCfg, publisher.Deps{
		Session:         session,
		Registry:        registry,
		Queues:          queues,
		Wake:            wake,
		MetricsRegistry: opts.MetricsRegistry,
		Logger:          levels.Component(logging.Publisher),
		Now:             opts.Now,
	})
	if err != nil {
		return nil, err
	}

	g.supervisor = NewSupervisor(SupervisorConfig{
		Backoff:        cfg.Backoff,
		HealthInterval: opts.HealthInterval,
	}, opts.Monitor, opts.MetricsRegistry, levels.Component(logging.Supervisor))
	return g, nil
}

// natsSubjects lists the subject filters a JetStream stream needs to
// capture everything the publisher sends.
func natsSubjects(cfg publisher.Config) []string {
	root := cfg.TopicRoot
	if root == "" {
		root = publisher.DefaultTopicRoot
	}
	register := cfg.RegisterTopic
	if register == "" {
		register = publisher.DefaultRegisterTopic
	}

	rootTopic := message.ParseTopic(root)
	regTopic := message.ParseTopic(register)
	subjects := []string{nats.Subject(rootTopic) + ".>"}
	if len(regTopic) <= len(rootTopic) || !slices.Equal(regTopic[:len(rootTopic)], rootTopic) {
		subjects = append(subjects, nats.Subject(regTopic))
	}
	return subjects
}

// Run starts everything and blocks until ctx is cancelled. Device pipelines
// stop first; the publisher then flushes what they left in the queues and
// closes the broker session.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("Gateway starting",
		"devices", len(g.pipelines),
		"broker", g.cfg.Broker.String(),
	)

	pubCtx, stopPublisher := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPublisher()
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		g.supervisor.Supervise(pubCtx, g.publisher)
	}()

	units := make([]component.Runnable, 0, len(g.pipelines)+1)
	for _, p := range g.pipelines {
		units = append(units, p)
	}
	if g.cfg.Gateway.StatsInterval > 0 {
		units = append(units, component.RunnableFunc{TaskName: "stats", Fn: g.runStats})
	}
	g.supervisor.Supervise(ctx, units...)

	g.logger.Info("Device pipelines stopped, flushing publisher")
	stopPublisher()
	<-pubDone
	g.logger.Info("Gateway stopped")
	return nil
}

func (g *Gateway) runStats(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.Gateway.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.LogStats()
		}
	}
}

// LogStats logs every device's counters.
func (g *Gateway) LogStats() {
	for _, p := range g.pipelines {
		p.LogStats()
	}
}

// ApplyLogLevels sets the component and device levels named in cfg and
// returns the device names that are not running. Only log levels are taken
// from a reloaded configuration.
func (g *Gateway) ApplyLogLevels(cfg *config.Config) []string {
	g.levels.Apply(logging.SpaceComponent, cfg.ComponentLevels())
	unknown := g.levels.Apply(logging.SpaceDevice, cfg.DeviceLevels())
	if len(unknown) > 0 {
		g.logger.Warn("Reloaded configuration names devices that are not running", "devices", unknown)
	}
	return unknown
}

// Publisher returns the publisher, for pause and resume.
func (g *Gateway) Publisher() *publisher.Publisher { return g.publisher }

// Pipelines returns the device pipelines in configuration order.
func (g *Gateway) Pipelines() []*Pipeline { return g.pipelines }

// Registry returns the calibration registry.
func (g *Gateway) Registry() *calibration.Registry { return g.registry }

// Levels returns the log level registry.
func (g *Gateway) Levels() *logging.Levels { return g.levels }

// Monitor returns the health monitor.
func (g *Gateway) Monitor() *health.Monitor { return g.supervisor.Monitor() }
