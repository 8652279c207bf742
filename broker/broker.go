// Package broker defines the session the publisher holds to its message
// broker and the connection parameters shared by every implementation.
//
// A Session is owned by exactly one goroutine, the publisher's drain loop.
// Implementations never reconnect on their own; when Publish fails and
// Connected reports false, the publisher schedules Connect with its backoff.
// Subpackages mqtt, nats and kafka provide the implementations.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
	"github.com/c360/photgw/pkg/security"
	"github.com/c360/photgw/pkg/tlsutil"
)

// Session is one connection to a broker.
type Session interface {
	// Connect opens the connection, replacing any previous one.
	Connect(ctx context.Context) error

	// Publish delivers msg and waits for the broker's acknowledgement where
	// the protocol has one. ctx bounds the wait.
	Publish(ctx context.Context, msg message.BrokerMessage) error

	// Connected reports whether the last known link state is up.
	Connected() bool

	// Close flushes and releases the connection.
	Close(ctx context.Context) error

	// Name identifies the session in logs.
	Name() string
}

// Kind selects the broker protocol.
type Kind string

// Supported broker kinds.
const (
	KindMQTT  Kind = "mqtt"
	KindNATS  Kind = "nats"
	KindKafka Kind = "kafka"
)

// Config holds broker connection parameters. They normally come from the
// deployment environment rather than the config file.
type Config struct {
	Kind      Kind          `yaml:"kind"`
	Transport string        `yaml:"transport"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	ClientID  string        `yaml:"client_id"`
	KeepAlive time.Duration `yaml:"keepalive"`

	// QoS applies to MQTT only.
	QoS byte `yaml:"qos"`

	// Stream switches NATS to JetStream publishing with acks when set.
	Stream string `yaml:"stream"`

	// Brokers lists extra Kafka bootstrap addresses beside Host:Port.
	Brokers []string `yaml:"brokers"`

	// TLS applies when Transport is ssl, tls or wss.
	TLS security.ClientTLSConfig `yaml:"tls"`
}

// Defaults returns an MQTT over TCP config for a local broker.
func Defaults() Config {
	return Config{
		Kind:      KindMQTT,
		Transport: "tcp",
		Host:      "localhost",
		KeepAlive: 60 * time.Second,
		QoS:       1,
	}
}

// DefaultPort returns the well-known port for the kind and transport.
func DefaultPort(kind Kind, transport string) int {
	switch kind {
	case KindNATS:
		return 4222
	case KindKafka:
		return 9092
	}
	switch transport {
	case "ssl", "tls":
		return 8883
	case "ws":
		return 80
	case "wss":
		return 443
	default:
		return 1883
	}
}

// Normalize fills defaults and validates the config.
func (c *Config) Normalize() error {
	c.Kind = Kind(strings.ToLower(string(c.Kind)))
	if c.Kind == "" {
		c.Kind = KindMQTT
	}
	switch c.Kind {
	case KindMQTT, KindNATS, KindKafka:
	default:
		return errors.Config("broker", "broker.kind", "unsupported broker kind %q", c.Kind)
	}

	c.Transport = strings.ToLower(c.Transport)
	if c.Transport == "" {
		c.Transport = "tcp"
	}
	switch c.Transport {
	case "tcp", "ssl", "tls", "ws", "wss":
	default:
		return errors.Config("broker", "broker.transport", "unsupported transport %q", c.Transport)
	}

	if strings.TrimSpace(c.Host) == "" {
		return errors.Config("broker", "broker.host", "host is required")
	}
	if c.Port == 0 {
		c.Port = DefaultPort(c.Kind, c.Transport)
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Config("broker", "broker.port", "port %d out of range", c.Port)
	}
	if c.QoS > 2 {
		return errors.Config("broker", "broker.qos", "qos %d must be 0, 1 or 2", c.QoS)
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ClientID == "" {
		c.ClientID = "photgw-" + uuid.NewString()[:8]
	}
	if c.Secure() {
		if _, err := tlsutil.ClientConfig(c.TLS); err != nil {
			return err
		}
	}
	return nil
}

// Secure reports whether the transport runs over TLS.
func (c Config) Secure() bool {
	switch c.Transport {
	case "ssl", "tls", "wss":
		return true
	}
	return false
}

// TLSConfig builds the client TLS config, or returns nil for plain
// transports.
func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.Secure() {
		return nil, nil
	}
	return tlsutil.ClientConfig(c.TLS)
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL renders the broker address as a URL for clients that take one.
func (c Config) URL() string {
	scheme := c.Transport
	switch c.Kind {
	case KindNATS:
		scheme = "nats"
		if c.Transport == "ssl" || c.Transport == "tls" {
			scheme = "tls"
		}
	case KindKafka:
		return c.Address()
	}
	return fmt.Sprintf("%s://%s", scheme, c.Address())
}

// String describes the broker without credentials.
func (c Config) String() string {
	return fmt.Sprintf("%s %s as %s", c.Kind, c.URL(), c.ClientID)
}
