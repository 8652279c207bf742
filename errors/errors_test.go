package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassString(t *testing.T) {
	tests := []struct {
		class    Class
		expected string
	}{
		{Transient, "transient"},
		{Invalid, "invalid"},
		{Fatal, "fatal"},
		{Class(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"disconnected", ErrDisconnected, true},
		{"read timeout", ErrReadTimeout, true},
		{"ack timeout", ErrAckTimeout, true},
		{"publish failed", ErrPublishFailed, true},
		{"connection lost", ErrConnectionLost, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"decode", ErrDecode, false},
		{"invalid config", ErrInvalidConfig, false},
		{"reset by peer in message", fmt.Errorf("read tcp: connection reset by peer"), true},
		{"unexpected eof", fmt.Errorf("serial read: unexpected EOF"), true},
		{"plain error", fmt.Errorf("something odd"), false},
		{"wrapped decode with link words", fmt.Errorf("connection 3: %w", ErrDecode), false},
		{"classified transient", &ClassifiedError{Class: Transient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: Fatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err), "error: %v", test.err)
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"disconnected", ErrDisconnected, false},
		{"fatal in message", fmt.Errorf("fatal system error occurred"), true},
		{"classified invalid", &ClassifiedError{Class: Invalid, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsFatal(test.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"decode", ErrDecode, true},
		{"line too long", ErrLineTooLong, true},
		{"channel mismatch", ErrChannelMismatch, true},
		{"wrapped decode", fmt.Errorf("line 3: %w", ErrDecode), true},
		{"unknown device", ErrUnknownDevice, true},
		{"config helper", Config("device", "zp", "out of range"), true},
		{"disconnected", ErrDisconnected, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsInvalid(test.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Transient, Classify(nil))
	assert.Equal(t, Transient, Classify(ErrDisconnected))
	assert.Equal(t, Fatal, Classify(ErrMissingConfig))
	assert.Equal(t, Invalid, Classify(ErrDecode))
	assert.Equal(t, Transient, Classify(errors.New("something odd")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "reader", "Run", "connect"))

	err := Wrap(ErrDisconnected, "reader", "Run", "connect")
	assert.Equal(t, "reader.Run: connect failed: disconnected", err.Error())
	assert.True(t, errors.Is(err, ErrDisconnected))
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class Class
	}{
		{"transient", WrapTransient, Transient},
		{"invalid", WrapInvalid, Invalid},
		{"fatal", WrapFatal, Fatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Nil(t, test.wrap(nil, "c", "m", "a"))

			err := test.wrap(ErrPublishFailed, "publisher", "publish", "broker send")
			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, test.class, ce.Class)
			assert.Equal(t, "publisher", ce.Component)
			assert.Equal(t, "publish", ce.Operation)
			assert.True(t, errors.Is(err, ErrPublishFailed))
			assert.Contains(t, err.Error(), "publisher.publish: broker send failed")
		})
	}
}

func TestClassifiedErrorOutermostWins(t *testing.T) {
	inner := WrapInvalid(ErrDecode, "decoder", "Decode", "parse")
	outer := WrapTransient(inner, "reader", "Run", "decode")

	assert.Equal(t, Transient, Classify(outer))
	assert.True(t, errors.Is(outer, ErrDecode))

	ce := &ClassifiedError{Class: Invalid, Err: ErrDecode}
	assert.Equal(t, ErrDecode.Error(), ce.Error())
}

func TestConfig(t *testing.T) {
	err := Config("device", "period", "must be >= 1, got %d", 0)

	assert.True(t, IsConfiguration(err))
	assert.True(t, IsInvalid(err))
	assert.Contains(t, err.Error(), "period: must be >= 1, got 0")
	assert.False(t, IsConfiguration(ErrDecode))
}

func BenchmarkClassify(b *testing.B) {
	err := WrapTransient(ErrDisconnected, "reader", "Run", "read")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Classify(err)
	}
}
