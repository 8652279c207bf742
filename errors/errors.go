package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class says how a caller should react to an error.
type Class int

const (
	// Transient errors go away on their own; retry or reconnect.
	Transient Class = iota
	// Invalid errors come from bad input or configuration; retrying the
	// same thing fails the same way.
	Invalid
	// Fatal errors stop the component that hit them.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Lifecycle
var (
	ErrAlreadyStopped = errors.New("component already stopped")
)

// Device and broker links
var (
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrDisconnected      = errors.New("disconnected")
	ErrReadTimeout       = errors.New("read timeout")
)

// Reading decoding
var (
	ErrDecode          = errors.New("reading decode failed")
	ErrLineTooLong     = errors.New("line exceeds maximum length")
	ErrChannelMismatch = errors.New("channel count does not match device model")
)

// Configuration
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Delivery
var (
	ErrPublishFailed = errors.New("publish failed")
	ErrAckTimeout    = errors.New("publish acknowledgement timeout")
	ErrUnknownDevice = errors.New("device not present in calibration registry")
)

// sentinelClass classifies errors that were never wrapped with a class.
var sentinelClass = []struct {
	err   error
	class Class
}{
	{ErrConnectionLost, Transient},
	{ErrConnectionTimeout, Transient},
	{ErrDisconnected, Transient},
	{ErrReadTimeout, Transient},
	{ErrPublishFailed, Transient},
	{ErrAckTimeout, Transient},
	{context.DeadlineExceeded, Transient},
	{context.Canceled, Transient},
	{ErrDecode, Invalid},
	{ErrLineTooLong, Invalid},
	{ErrChannelMismatch, Invalid},
	{ErrUnknownDevice, Invalid},
	{ErrInvalidConfig, Fatal},
	{ErrMissingConfig, Fatal},
}

// Serial and socket drivers rarely return sentinels.
var transientText = []string{
	"timeout", "connection", "network", "temporary",
	"unavailable", "broken pipe", "reset by peer", "eof",
}

// ClassifiedError carries a Class alongside the wrapped error.
type ClassifiedError struct {
	Class     Class
	Component string
	Operation string
	Err       error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify returns the class of err. The outermost ClassifiedError wins,
// then known sentinels, then driver message text. Anything else is
// treated as transient so it gets retried.
func Classify(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	for _, s := range sentinelClass {
		if errors.Is(err, s.err) {
			return s.class
		}
	}
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "fatal") {
		return Fatal
	}
	return Transient
}

func known(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return true
	}
	for _, s := range sentinelClass {
		if errors.Is(err, s.err) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying. Unclassified errors
// qualify only when their text looks like a link failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if known(err) {
		return Classify(err) == Transient
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientText {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool {
	return err != nil && Classify(err) == Invalid
}

// IsFatal reports whether err should stop the component.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == Fatal
}

// IsConfiguration reports whether err is a configuration error. These are
// the only errors that abort startup.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// Wrap adds context in the form "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class Class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Component: component,
		Operation: method,
		Err:       Wrap(err, component, method, action),
	}
}

// WrapTransient wraps err with context and marks it transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(Transient, err, component, method, action)
}

// WrapInvalid wraps err with context and marks it invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(Invalid, err, component, method, action)
}

// WrapFatal wraps err with context and marks it fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(Fatal, err, component, method, action)
}

// Config builds a configuration error for a named field. The result matches
// ErrInvalidConfig with errors.Is and is classified invalid.
func Config(component, field, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	return WrapInvalid(fmt.Errorf("%s: %s: %w", field, reason, ErrInvalidConfig),
		component, "Validate", "configuration check")
}
