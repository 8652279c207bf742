// Package message defines the data that moves through the gateway, from the
// endpoint a photometer is reached on to the message handed to the broker.
package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/photgw/errors"
)

// EndpointKind selects the transport used to reach a device.
type EndpointKind string

// Supported endpoint kinds.
const (
	EndpointSerial EndpointKind = "serial"
	EndpointTCP    EndpointKind = "tcp"
)

// Default endpoint parameters applied when an endpoint string omits one.
const (
	DefaultBaudRate = 9600
	DefaultTCPPort  = 23
)

// EndpointSpec locates a device: a serial device path at a baud rate, or a
// TCP host and port. It is parsed once at startup and never changes.
type EndpointSpec struct {
	Kind   EndpointKind
	Target string // device path or host
	Param  int    // baud rate or port
}

// ParseEndpoint parses "serial:/dev/ttyUSB0:9600" or "tcp:192.168.4.1:23".
// The trailing parameter is optional. An IPv6 host must be bracketed.
func ParseEndpoint(s string) (EndpointSpec, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || rest == "" {
		return EndpointSpec{}, endpointError(s, "expected kind:target[:param]")
	}

	spec := EndpointSpec{Kind: EndpointKind(strings.ToLower(kind)), Target: rest}
	switch spec.Kind {
	case EndpointSerial:
		spec.Param = DefaultBaudRate
	case EndpointTCP:
		spec.Param = DefaultTCPPort
	default:
		return EndpointSpec{}, endpointError(s, fmt.Sprintf("unknown endpoint kind %q", kind))
	}

	if i := strings.LastIndex(rest, ":"); i >= 0 && !strings.HasSuffix(rest, "]") {
		n, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return EndpointSpec{}, endpointError(s, fmt.Sprintf("bad parameter %q", rest[i+1:]))
		}
		spec.Target = rest[:i]
		spec.Param = n
	}

	if err := spec.Validate(); err != nil {
		return EndpointSpec{}, err
	}
	return spec, nil
}

// Validate checks the endpoint is usable.
func (e EndpointSpec) Validate() error {
	if e.Target == "" {
		return endpointError(e.String(), "empty target")
	}
	switch e.Kind {
	case EndpointSerial:
		if e.Param <= 0 {
			return endpointError(e.String(), fmt.Sprintf("baud rate %d must be positive", e.Param))
		}
	case EndpointTCP:
		if e.Param <= 0 || e.Param > 65535 {
			return endpointError(e.String(), fmt.Sprintf("port %d out of range", e.Param))
		}
	default:
		return endpointError(e.String(), fmt.Sprintf("unknown endpoint kind %q", e.Kind))
	}
	return nil
}

// Address returns host:port for TCP endpoints and the device path for serial.
func (e EndpointSpec) Address() string {
	if e.Kind == EndpointTCP {
		host := strings.TrimSuffix(strings.TrimPrefix(e.Target, "["), "]")
		return fmt.Sprintf("%s:%d", bracketIPv6(host), e.Param)
	}
	return e.Target
}

func bracketIPv6(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// String formats the endpoint the way ParseEndpoint reads it.
func (e EndpointSpec) String() string {
	return fmt.Sprintf("%s:%s:%d", e.Kind, e.Target, e.Param)
}

// UnmarshalText lets EndpointSpec be decoded directly from YAML scalars.
func (e *EndpointSpec) UnmarshalText(b []byte) error {
	spec, err := ParseEndpoint(string(b))
	if err != nil {
		return err
	}
	*e = spec
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (e EndpointSpec) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func endpointError(spec, reason string) error {
	return errors.Config("message", "endpoint", "%q: %s", spec, reason)
}
