// Package mqtt implements broker.Session over MQTT 3.1.1 with the Eclipse
// Paho client.
package mqtt

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/photgw/broker"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

const (
	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250 // milliseconds
	protocolV311    = 4
)

// Session publishes to an MQTT broker. Paho's own reconnect logic is off;
// a lost connection shows up as Connected() == false.
type Session struct {
	cfg       broker.Config
	logger    *slog.Logger
	newClient func(*paho.ClientOptions) paho.Client

	mu        sync.Mutex
	client    paho.Client
	connected atomic.Bool
}

var _ broker.Session = (*Session)(nil)

// New creates an unconnected session. cfg must be normalized.
func New(cfg broker.Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:       cfg,
		logger:    logger.With("component", "mqtt-session", "broker", cfg.URL()),
		newClient: paho.NewClient,
	}
}

func (s *Session) Name() string {
	return "mqtt " + s.cfg.URL()
}

func (s *Session) options() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(s.cfg.URL()).
		SetClientID(s.cfg.ClientID).
		SetProtocolVersion(protocolV311).
		SetKeepAlive(s.cfg.KeepAlive).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	if s.cfg.Secure() {
		tlsCfg, err := s.cfg.TLSConfig()
		if err != nil {
			return nil, errors.WrapFatal(err, "mqtt-session", "Connect", "build TLS config")
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.connected.Store(false)
		s.logger.Warn("MQTT connection lost", "error", err)
	})
	return opts, nil
}

// Connect implements broker.Session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Disconnect(0)
		s.client = nil
	}
	s.connected.Store(false)

	opts, err := s.options()
	if err != nil {
		return err
	}
	client := s.newClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return errors.WrapTransient(err, "mqtt-session", "Connect", "connect "+s.cfg.URL())
	}

	s.client = client
	s.connected.Store(true)
	s.logger.Info("Connected to MQTT broker", "client_id", s.cfg.ClientID)
	return nil
}

// Publish implements broker.Session. With QoS 1 or 2 it returns once the
// broker acknowledged the message.
func (s *Session) Publish(ctx context.Context, msg message.BrokerMessage) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil || !s.connected.Load() {
		return errors.WrapTransient(errors.ErrConnectionLost, "mqtt-session", "Publish", "connection check")
	}

	token := client.Publish(msg.Topic.Join("/"), s.cfg.QoS, false, msg.Payload)
	if err := wait(ctx, token); err != nil {
		if !client.IsConnectionOpen() {
			s.connected.Store(false)
		}
		return errors.WrapTransient(err, "mqtt-session", "Publish", "publish "+msg.Topic.String())
	}
	return nil
}

func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Close implements broker.Session.
func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect(disconnectQuiet)
		s.client = nil
	}
	s.connected.Store(false)
	return nil
}

// wait blocks on a Paho token until it completes or ctx ends. A context
// deadline is reported as an acknowledgement timeout.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errors.ErrAckTimeout
		}
		return ctx.Err()
	}
}
