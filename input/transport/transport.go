// Package transport opens the byte stream to a photometer and frames it into
// lines. Serial devices are opened with go.bug.st/serial; TCP devices with
// the net package.
//
// A Transport reports every I/O failure as errors.ErrDisconnected and never
// retries on its own. The device reader owns reconnection so that serial and
// TCP links follow the same backoff policy.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

// MaxLineLength bounds a single line. Photometer lines are well under 300
// bytes; anything past this is garbage on the link.
const MaxLineLength = 4096

// Transport is a restartable line stream to one device.
type Transport interface {
	// Connect opens the link. Any previous link state is discarded.
	Connect(ctx context.Context) error

	// ReadLine returns the next line without its terminator. It returns an
	// error matching errors.ErrReadTimeout when no full line arrived within
	// timeout, errors.ErrLineTooLong for an oversized line (the link stays
	// usable) and errors.ErrDisconnected when the link is gone.
	ReadLine(timeout time.Duration) ([]byte, error)

	// Close releases the link. It is safe to call more than once.
	Close() error

	// String describes the endpoint for logs.
	String() string
}

// Factory creates a transport for an endpoint.
type Factory func(spec message.EndpointSpec, logger *slog.Logger) (Transport, error)

// New is the default Factory.
func New(spec message.EndpointSpec, logger *slog.Logger) (Transport, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("endpoint", spec.String())

	switch spec.Kind {
	case message.EndpointSerial:
		return newSerial(spec, logger), nil
	case message.EndpointTCP:
		return newTCP(spec, logger), nil
	default:
		return nil, errors.Config("transport", "endpoint", "unsupported kind %q", spec.Kind)
	}
}

// source is the raw byte link under a framer. read returns errTimeout when
// the deadline passes with no data.
type source interface {
	read(p []byte, deadline time.Time) (int, error)
}

var errTimeout = fmt.Errorf("source read timeout")

// framer splits a source into lines. It keeps partial data across timeouts
// so a slow line is not lost. When a read returns data and a link error
// together, the complete lines are handed out before the error.
type framer struct {
	pending    []byte
	discarding bool
	failed     error
	chunk      [512]byte
}

func (f *framer) reset() {
	f.pending = f.pending[:0]
	f.discarding = false
	f.failed = nil
}

func (f *framer) readLine(src source, timeout time.Duration, component string) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if line, ok, tooLong := f.next(); ok {
			if tooLong {
				return nil, errors.WrapInvalid(errors.ErrLineTooLong, component, "ReadLine", "line framing")
			}
			return line, nil
		}
		if err := f.failed; err != nil {
			f.failed = nil
			return nil, err
		}

		if len(f.pending) > MaxLineLength {
			f.pending = f.pending[:0]
			f.discarding = true
		}

		n, err := src.read(f.chunk[:], deadline)
		if n > 0 {
			f.pending = append(f.pending, f.chunk[:n]...)
		}
		switch {
		case err == errTimeout:
			return nil, errors.WrapTransient(errors.ErrReadTimeout, component, "ReadLine", "line read")
		case err != nil:
			f.failed = errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrDisconnected, err), component, "ReadLine", "line read")
		}
	}
}

// next pops one complete line from pending, skipping blank lines. tooLong
// reports that the line was the tail of an oversized line and was dropped.
func (f *framer) next() (line []byte, ok bool, tooLong bool) {
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			return nil, false, false
		}
		raw := bytes.TrimSuffix(f.pending[:i], []byte("\r"))
		out := append([]byte(nil), raw...)
		f.pending = append(f.pending[:0], f.pending[i+1:]...)

		if f.discarding || len(out) > MaxLineLength {
			f.discarding = false
			return nil, true, true
		}
		if len(out) > 0 {
			return out, true, false
		}
	}
}
