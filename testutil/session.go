package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

// FakeSession records published messages in memory.
type FakeSession struct {
	name string

	mu          sync.Mutex
	connected   bool
	down        error
	connectErrs []error
	publishErrs []error
	dropOn      func(message.BrokerMessage) bool
	published   []message.BrokerMessage
	connects    int
	attempts    int
	closed      bool
	notify      chan struct{}
}

// NewFakeSession creates a disconnected fake session.
func NewFakeSession(name string) *FakeSession {
	return &FakeSession{name: name, notify: make(chan struct{}, 1)}
}

// FailConnect makes the next len(errs) Connect calls fail.
func (s *FakeSession) FailConnect(errs ...error) {
	s.mu.Lock()
	s.connectErrs = append(s.connectErrs, errs...)
	s.mu.Unlock()
}

// FailPublish makes the next len(errs) Publish calls fail without dropping
// the connection, like an acknowledgement timeout.
func (s *FakeSession) FailPublish(errs ...error) {
	s.mu.Lock()
	s.publishErrs = append(s.publishErrs, errs...)
	s.mu.Unlock()
}

// DropLinkOn makes every Publish of a message matching fn drop the
// connection, like a broker closing the link on an oversized packet.
// Connect keeps succeeding.
func (s *FakeSession) DropLinkOn(fn func(message.BrokerMessage) bool) {
	s.mu.Lock()
	s.dropOn = fn
	s.mu.Unlock()
}

// GoDown drops the connection. Publish and Connect fail with err until Up.
func (s *FakeSession) GoDown(err error) {
	s.mu.Lock()
	s.down = err
	s.connected = false
	s.mu.Unlock()
}

// Up lets the session connect again.
func (s *FakeSession) Up() {
	s.mu.Lock()
	s.down = nil
	s.mu.Unlock()
}

// Published returns a copy of every acknowledged message.
func (s *FakeSession) Published() []message.BrokerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.BrokerMessage(nil), s.published...)
}

// PublishedKind returns the acknowledged messages of one kind.
func (s *FakeSession) PublishedKind(kind message.Kind) []message.BrokerMessage {
	var out []message.BrokerMessage
	for _, m := range s.Published() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Attempts returns how many Publish calls were made.
func (s *FakeSession) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Connects returns how many Connect calls were made.
func (s *FakeSession) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Closed reports whether Close was called.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// WaitPublished blocks until at least n messages were acknowledged or the
// timeout passes.
func (s *FakeSession) WaitPublished(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		got := len(s.published)
		s.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline.C:
			return false
		}
	}
}

func (s *FakeSession) Name() string {
	return s.name
}

func (s *FakeSession) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.down != nil {
		return errors.WrapTransient(s.down, "fake-session", "Connect", "broker connect")
	}
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		return errors.WrapTransient(err, "fake-session", "Connect", "broker connect")
	}
	s.connected = true
	return nil
}

func (s *FakeSession) Publish(ctx context.Context, msg message.BrokerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.attempts++
	if !s.connected {
		s.mu.Unlock()
		return errors.WrapTransient(errors.ErrConnectionLost, "fake-session", "Publish", "publish")
	}
	if s.dropOn != nil && s.dropOn(msg) {
		s.connected = false
		s.mu.Unlock()
		return errors.WrapTransient(errors.ErrConnectionLost, "fake-session", "Publish", "publish")
	}
	if len(s.publishErrs) > 0 {
		err := s.publishErrs[0]
		s.publishErrs = s.publishErrs[1:]
		s.mu.Unlock()
		return errors.WrapTransient(err, "fake-session", "Publish", "publish")
	}
	s.published = append(s.published, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *FakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *FakeSession) Close(_ context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.connected = false
	s.mu.Unlock()
	return nil
}
