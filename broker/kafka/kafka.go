// Package kafka implements broker.Session over Kafka with segmentio/kafka-go.
// Topics become dotted topic names and the device name is the message key,
// so one device's readings stay on one partition in publish order.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/c360/photgw/broker"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

const dialTimeout = 10 * time.Second

// messageWriter is the part of kafka.Writer the session uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Session publishes to a Kafka cluster.
type Session struct {
	cfg    broker.Config
	addrs  []string
	logger *slog.Logger

	dial      func(ctx context.Context, addr string) error
	newWriter func() messageWriter

	mu        sync.Mutex
	tls       *tls.Config
	writer    messageWriter
	connected atomic.Bool
}

var _ broker.Session = (*Session)(nil)

// New creates an unconnected session.
func New(cfg broker.Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:    cfg,
		addrs:  append([]string{cfg.Address()}, cfg.Brokers...),
		logger: logger.With("component", "kafka-session", "broker", cfg.Address()),
	}
	s.dial = s.dialBroker
	s.newWriter = s.buildWriter
	return s
}

// TopicName renders a topic as a Kafka topic name.
func TopicName(t message.Topic) string {
	var b strings.Builder
	for i, seg := range t {
		if i > 0 {
			b.WriteByte('.')
		}
		for _, r := range seg {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
				b.WriteRune(r)
			default:
				b.WriteByte('_')
			}
		}
	}
	return b.String()
}

// Record converts a broker message to a Kafka record.
func Record(msg message.BrokerMessage) kafkago.Message {
	return kafkago.Message{
		Topic: TopicName(msg.Topic),
		Key:   []byte(msg.Device),
		Value: msg.Payload,
		Time:  msg.Created,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
		},
	}
}

func (s *Session) Name() string {
	return "kafka " + strings.Join(s.addrs, ",")
}

// loadTLS builds the TLS config once. Certificate files are read on the
// first Connect so a rotated file is picked up after a restart.
func (s *Session) loadTLS() error {
	if s.tls != nil || !s.cfg.Secure() {
		return nil
	}
	cfg, err := s.cfg.TLSConfig()
	if err != nil {
		return errors.WrapFatal(err, "kafka-session", "Connect", "build TLS config")
	}
	s.tls = cfg
	return nil
}

func (s *Session) dialBroker(ctx context.Context, addr string) error {
	dialer := &kafkago.Dialer{
		ClientID: s.cfg.ClientID,
		Timeout:  dialTimeout,
		TLS:      s.tls,
	}
	if s.cfg.Username != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: s.cfg.Username, Password: s.cfg.Password}
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (s *Session) buildWriter() messageWriter {
	transport := &kafkago.Transport{
		ClientID:    s.cfg.ClientID,
		DialTimeout: dialTimeout,
		IdleTimeout: s.cfg.KeepAlive,
		TLS:         s.tls,
	}
	if s.cfg.Username != "" {
		transport.SASL = plain.Mechanism{Username: s.cfg.Username, Password: s.cfg.Password}
	}
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(s.addrs...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            1,
		Transport:              transport,
	}
}

// Connect checks that a bootstrap broker answers and prepares the writer.
// kafka-go dials lazily, so the explicit dial is what makes a dead cluster
// visible here.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected.Store(false)
	if err := s.loadTLS(); err != nil {
		return err
	}

	var lastErr error
	for _, addr := range s.addrs {
		if lastErr = s.dial(ctx, addr); lastErr == nil {
			break
		}
		s.logger.Debug("Kafka bootstrap unreachable", "address", addr, "error", lastErr)
	}
	if lastErr != nil {
		return errors.WrapTransient(lastErr, "kafka-session", "Connect", "dial bootstrap")
	}

	if s.writer == nil {
		s.writer = s.newWriter()
	}
	s.connected.Store(true)
	s.logger.Info("Connected to Kafka", "brokers", s.addrs)
	return nil
}

// Publish implements broker.Session. With RequireAll the call returns once
// every in-sync replica has the record.
func (s *Session) Publish(ctx context.Context, msg message.BrokerMessage) error {
	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	if writer == nil || !s.connected.Load() {
		return errors.WrapTransient(errors.ErrConnectionLost, "kafka-session", "Publish", "connection check")
	}

	record := Record(msg)
	err := writer.WriteMessages(ctx, record)
	switch {
	case err == nil:
		return nil
	case ctx.Err() == context.DeadlineExceeded:
		return errors.WrapTransient(errors.ErrAckTimeout, "kafka-session", "Publish", "write "+record.Topic)
	default:
		s.connected.Store(false)
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrPublishFailed, err), "kafka-session", "Publish", "write "+record.Topic)
	}
}

func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Close flushes pending writes and releases the writer.
func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected.Store(false)
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
