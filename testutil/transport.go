package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360/photgw/errors"
)

// FakeTransport is a scripted photometer link. It is safe for concurrent use
// by one reader and the test driving it.
type FakeTransport struct {
	name string

	mu          sync.Mutex
	lines       [][]byte
	connectErrs []error
	cut         bool
	connected   bool
	connects    int
	closes      int
	wake        chan struct{}
}

// NewFakeTransport creates a disconnected fake link.
func NewFakeTransport(name string) *FakeTransport {
	return &FakeTransport{name: name, wake: make(chan struct{}, 1)}
}

// Feed queues lines for ReadLine.
func (f *FakeTransport) Feed(lines ...string) {
	f.mu.Lock()
	for _, l := range lines {
		f.lines = append(f.lines, []byte(l))
	}
	f.mu.Unlock()
	f.signal()
}

// FailConnect makes the next len(errs) Connect calls fail, in order.
func (f *FakeTransport) FailConnect(errs ...error) {
	f.mu.Lock()
	f.connectErrs = append(f.connectErrs, errs...)
	f.mu.Unlock()
}

// Cut drops the link. Queued lines stay queued for the next connection.
func (f *FakeTransport) Cut() {
	f.mu.Lock()
	f.cut = true
	f.mu.Unlock()
	f.signal()
}

// Connects returns how many times Connect succeeded or failed.
func (f *FakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Connected reports whether the link is open.
func (f *FakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Pending returns how many fed lines have not been read.
func (f *FakeTransport) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

func (f *FakeTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return errors.WrapTransient(err, "fake-transport", "Connect", "dial "+f.name)
	}
	f.connected = true
	f.cut = false
	return nil
}

func (f *FakeTransport) ReadLine(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		f.mu.Lock()
		if f.cut {
			f.cut = false
			f.connected = false
		}
		if !f.connected {
			f.mu.Unlock()
			return nil, errors.WrapTransient(errors.ErrDisconnected, "fake-transport", "ReadLine", "link check")
		}
		if len(f.lines) > 0 {
			line := f.lines[0]
			f.lines = f.lines[1:]
			f.mu.Unlock()
			return line, nil
		}
		f.mu.Unlock()

		select {
		case <-f.wake:
		case <-timer.C:
			return nil, errors.WrapTransient(errors.ErrReadTimeout, "fake-transport", "ReadLine", "line read")
		}
	}
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.closes++
	f.mu.Unlock()
	f.signal()
	return nil
}

func (f *FakeTransport) String() string {
	return f.name
}

func (f *FakeTransport) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}
