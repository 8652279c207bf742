package natsclient

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithName sets the connection name shown by the server's monitoring.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithLogger routes connection events to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
	}
}

// WithPingInterval sets how often the server is pinged. Zero keeps the
// nats.go default.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

// WithDialTimeout bounds a single connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithCredentials authenticates with a user name and password.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTLS secures the connection. A nil cfg leaves TLS off.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = cfg }
}

// WithOnDisconnect registers fn to run, on its own goroutine, when the
// current connection drops.
func WithOnDisconnect(fn func(error)) Option {
	return func(c *Client) { c.onDisconnect = fn }
}
