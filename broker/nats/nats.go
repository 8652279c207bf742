// Package nats implements broker.Session over NATS. Topics become dotted
// subjects. With a stream configured, messages go through JetStream and
// Publish waits for the stream's acknowledgement; otherwise they are core
// NATS publishes followed by a flush.
package nats

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360/photgw/broker"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/natsclient"
)

// Session publishes to a NATS server.
type Session struct {
	cfg      broker.Config
	subjects []string
	logger   *slog.Logger

	mu          sync.Mutex
	client      *natsclient.Client
	streamReady bool
}

var _ broker.Session = (*Session)(nil)

// New creates an unconnected session. subjects are bound to the JetStream
// stream when cfg.Stream is set.
func New(cfg broker.Config, subjects []string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		subjects: subjects,
		logger:   logger.With("component", "nats-session", "broker", cfg.URL()),
	}
}

// Subject renders a topic as a NATS subject.
func Subject(t message.Topic) string {
	segs := make([]string, len(t))
	for i, s := range t {
		segs[i] = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
	}
	return strings.Join(segs, ".")
}

func (s *Session) Name() string {
	return "nats " + s.cfg.URL()
}

func (s *Session) newClient() (*natsclient.Client, error) {
	opts := []natsclient.Option{
		natsclient.WithName(s.cfg.ClientID),
		natsclient.WithLogger(s.logger),
		natsclient.WithPingInterval(s.cfg.KeepAlive),
		natsclient.WithOnDisconnect(func(err error) {
			s.logger.Warn("NATS session lost", "error", err)
		}),
	}
	if s.cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(s.cfg.Username, s.cfg.Password))
	}
	if s.cfg.Secure() {
		tlsCfg, err := s.cfg.TLSConfig()
		if err != nil {
			return nil, errors.WrapFatal(err, "nats-session", "Connect", "build TLS config")
		}
		opts = append(opts, natsclient.WithTLS(tlsCfg))
	}
	return natsclient.NewClient(s.cfg.URL(), opts...), nil
}

// Connect implements broker.Session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		client, err := s.newClient()
		if err != nil {
			return err
		}
		s.client = client
	}
	if err := s.client.Connect(ctx); err != nil {
		return err
	}

	if s.cfg.Stream != "" && !s.streamReady {
		if err := s.client.EnsureStream(ctx, s.cfg.Stream, s.subjects); err != nil {
			return err
		}
		s.streamReady = true
		s.logger.Info("JetStream stream ready", "stream", s.cfg.Stream, "subjects", s.subjects)
	}
	return nil
}

// Publish implements broker.Session.
func (s *Session) Publish(ctx context.Context, msg message.BrokerMessage) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.WrapTransient(errors.ErrConnectionLost, "nats-session", "Publish", "connection check")
	}

	subject := Subject(msg.Topic)
	var err error
	if s.cfg.Stream != "" {
		err = client.PublishToStream(ctx, subject, msg.Payload)
	} else {
		err = client.Publish(ctx, subject, msg.Payload)
	}
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return errors.WrapTransient(errors.ErrAckTimeout, "nats-session", "Publish", "publish "+subject)
	}
	return err
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.Connected()
}

// Close implements broker.Session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.streamReady = false
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close(ctx)
}
