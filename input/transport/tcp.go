package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	gwerrors "github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

const dialTimeout = 10 * time.Second

// TCP reads lines from a photometer's telnet-style TCP port.
type TCP struct {
	spec   message.EndpointSpec
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	f    framer
}

func newTCP(spec message.EndpointSpec, logger *slog.Logger) *TCP {
	return &TCP{spec: spec, logger: logger}
}

// Connect dials the device, replacing any previous connection.
func (t *TCP) Connect(ctx context.Context) error {
	_ = t.Close()

	dialer := net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", t.spec.Address())
	if err != nil {
		return gwerrors.WrapTransient(err, "tcp-transport", "Connect", "dial "+t.spec.Address())
	}

	t.mu.Lock()
	t.conn = conn
	t.f.reset()
	t.mu.Unlock()

	t.logger.Info("Opened TCP connection", "address", t.spec.Address())
	return nil
}

// ReadLine implements Transport.
func (t *TCP) ReadLine(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, gwerrors.WrapTransient(gwerrors.ErrDisconnected, "tcp-transport", "ReadLine", "link check")
	}
	return t.f.readLine(tcpSource{conn}, timeout, "tcp-transport")
}

// Close implements Transport.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *TCP) String() string {
	return t.spec.String()
}

type tcpSource struct {
	conn net.Conn
}

func (s tcpSource) read(p []byte, deadline time.Time) (int, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, errTimeout
	}
	return n, err
}
