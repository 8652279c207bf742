package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/photgw/errors"
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by publish calls while the link is down.
var ErrNotConnected = stderrors.New("not connected to NATS")

const drainTimeout = 10 * time.Second

// Client owns at most one NATS connection at a time. nats.go's own
// reconnection is disabled: a dropped connection stays down until the
// caller connects again, so every broker session shares one backoff policy.
type Client struct {
	url    string
	logger *slog.Logger

	name         string
	pingInterval time.Duration
	dialTimeout  time.Duration
	username     string
	password     string
	tlsConfig    *tls.Config
	onDisconnect func(error)

	state       atomic.Int32
	failures    atomic.Int32
	lastFailure atomic.Int64 // unix nanoseconds
	closed      atomic.Bool

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient returns an unconnected client for url.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		logger:      slog.Default().With("component", "natsclient"),
		dialTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the server URL.
func (c *Client) URL() string { return c.url }

// State returns the connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Connected reports whether the connection is up.
func (c *Client) Connected() bool { return c.State() == StateConnected }

// Failures counts connect and publish failures since the last success.
func (c *Client) Failures() int32 { return c.failures.Load() }

// LastFailure returns when the latest failure happened, or the zero time.
func (c *Client) LastFailure() time.Time {
	ns := c.lastFailure.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Client) fail() {
	c.failures.Add(1)
	c.lastFailure.Store(time.Now().UnixNano())
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.NoReconnect(),
		nats.Timeout(c.dialTimeout),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(c.onDisconnected),
		nats.ClosedHandler(c.onClosed),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Error("NATS error", "error", err)
		}),
	}
	if c.pingInterval > 0 {
		opts = append(opts, nats.PingInterval(c.pingInterval))
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	return opts
}

// Connect dials the server, replacing any previous connection. A missing
// JetStream is only logged: core publishing still works.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStopped, "natsclient", "Connect", "client closed")
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn, c.js = nil, nil
	}
	c.mu.Unlock()

	c.state.Store(int32(StateConnecting))
	c.logger.Debug("Connecting to NATS", "url", c.url)

	type dialed struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan dialed, 1)
	opts := c.natsOptions()
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- dialed{conn, err}
	}()

	var d dialed
	select {
	case d = <-done:
	case <-ctx.Done():
		// the dial is bounded by dialTimeout; close whatever it produces
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		d.err = ctx.Err()
	}
	if d.err != nil {
		c.fail()
		c.state.Store(int32(StateDisconnected))
		return errors.WrapTransient(d.err, "natsclient", "Connect", "dial "+c.url)
	}

	js, err := jetstream.New(d.conn)
	if err != nil {
		c.logger.Warn("JetStream unavailable", "error", err)
	}

	c.mu.Lock()
	c.conn, c.js = d.conn, js
	c.mu.Unlock()

	c.state.Store(int32(StateConnected))
	c.failures.Store(0)
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// Close drains the connection within ctx and at most drainTimeout. The
// client cannot be reconnected afterwards; later calls are no-ops.
func (c *Client) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn, c.js = nil, nil
	c.username, c.password = "", ""
	c.mu.Unlock()

	defer c.state.Store(int32(StateDisconnected))
	if conn == nil {
		return nil
	}
	defer conn.Close()

	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()

	select {
	case err := <-drained:
		if err != nil {
			return errors.Wrap(err, "natsclient", "Close", "drain")
		}
		return nil
	case <-time.After(drainTimeout):
		return errors.WrapTransient(fmt.Errorf("drain exceeded %v", drainTimeout), "natsclient", "Close", "drain")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "natsclient", "Close", "drain")
	}
}

func (c *Client) connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Publish sends data on a core subject and flushes, so a broken link is
// reported by this call rather than by a later one.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	conn := c.connection()
	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(ErrNotConnected, "natsclient", "Publish", subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		c.fail()
		return errors.WrapTransient(err, "natsclient", "Publish", subject)
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		c.fail()
		return errors.WrapTransient(err, "natsclient", "Publish", "flush "+subject)
	}
	return nil
}

func (c *Client) jetStream(method string) (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "natsclient", method, "connection check")
	}
	if c.js == nil {
		return nil, errors.WrapTransient(fmt.Errorf("JetStream not available"), "natsclient", method, "jetstream check")
	}
	return c.js, nil
}

// EnsureStream creates the stream, or updates its subjects if it exists.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) error {
	js, err := c.jetStream("EnsureStream")
	if err != nil {
		return err
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{Name: name, Subjects: subjects}); err != nil {
		return errors.WrapTransient(err, "natsclient", "EnsureStream", "stream "+name)
	}
	return nil
}

// PublishToStream publishes through JetStream and waits for the stream's
// acknowledgement until ctx ends.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.jetStream("PublishToStream")
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.fail()
		return errors.WrapTransient(err, "natsclient", "PublishToStream", subject)
	}
	c.failures.Store(0)
	return nil
}

// Handlers for a replaced connection are ignored.
func (c *Client) onDisconnected(nc *nats.Conn, err error) {
	if nc != c.connection() {
		return
	}
	c.state.Store(int32(StateDisconnected))
	if err != nil {
		c.logger.Warn("NATS disconnected", "error", err)
	}
	if c.onDisconnect != nil {
		go c.onDisconnect(err)
	}
}

func (c *Client) onClosed(nc *nats.Conn) {
	if nc == c.connection() {
		c.state.Store(int32(StateDisconnected))
	}
}
