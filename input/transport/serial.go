package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

// portOpener matches serial.Open so tests can substitute a fake port.
type portOpener func(name string, mode *serial.Mode) (serial.Port, error)

// Serial reads lines from a photometer on a serial device, 8N1.
type Serial struct {
	spec   message.EndpointSpec
	logger *slog.Logger
	open   portOpener

	mu   sync.Mutex
	port serial.Port
	f    framer
}

func newSerial(spec message.EndpointSpec, logger *slog.Logger) *Serial {
	return &Serial{spec: spec, logger: logger, open: serial.Open}
}

// Connect opens the device at the configured baud rate. Bytes that arrived
// while the port was closed are discarded.
func (s *Serial) Connect(ctx context.Context) error {
	_ = s.Close()
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := s.open(s.spec.Target, &serial.Mode{
		BaudRate: s.spec.Param,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return errors.WrapTransient(err, "serial-transport", "Connect", "open "+s.spec.Target)
	}
	if err := port.ResetInputBuffer(); err != nil {
		s.logger.Debug("Could not flush serial input", "error", err)
	}

	s.mu.Lock()
	s.port = port
	s.f.reset()
	s.mu.Unlock()

	s.logger.Info("Opened serial port", "port", s.spec.Target, "baud", s.spec.Param)
	return nil
}

// ReadLine implements Transport.
func (s *Serial) ReadLine(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, errors.WrapTransient(errors.ErrDisconnected, "serial-transport", "ReadLine", "link check")
	}
	return s.f.readLine(serialSource{port}, timeout, "serial-transport")
}

// Close implements Transport.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) String() string {
	return s.spec.String()
}

type serialSource struct {
	port serial.Port
}

// read maps the library's (0, nil) timeout result to errTimeout. A serial
// read never returns io.EOF while the device is attached.
func (s serialSource) read(p []byte, deadline time.Time) (int, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, errTimeout
	}
	if err := s.port.SetReadTimeout(remaining); err != nil {
		return 0, err
	}
	n, err := s.port.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, errTimeout
	}
	return n, nil
}
