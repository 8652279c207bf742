// Package errors provides standardized error handling patterns for gateway components.
//
// # Overview
//
// Errors fall into three classes: Transient (retry or reconnect), Invalid
// (bad input, do not retry) and Fatal (stop the component).
//
// The gateway maps its failure modes onto these classes:
//
//   - ConfigurationError: ErrInvalidConfig / ErrMissingConfig, classified invalid.
//     Only these abort startup.
//   - Connection errors: ErrDisconnected, ErrConnectionLost, ErrReadTimeout.
//     Transient, scoped to one device or to the broker session.
//   - Decode errors: ErrDecode, ErrLineTooLong, ErrChannelMismatch. Invalid,
//     scoped to one line, logged and counted.
//   - Delivery errors: ErrPublishFailed, ErrAckTimeout, ErrUnknownDevice.
//     Counted, never escalated.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: underlying error"
//
// Example:
//
//	if err := port.Read(buf); err != nil {
//	    return errors.WrapTransient(err, "transport", "ReadLine", "serial read")
//	}
//
// Configuration checks use Config, which keeps ErrInvalidConfig in the chain:
//
//	if d.Period < 1 {
//	    return errors.Config("device", "period", "must be >= 1, got %d", d.Period)
//	}
//
// # Classification
//
// The outermost ClassifiedError decides, then the sentinel table, then
// message patterns for driver errors that carry no sentinel:
//
//	if errors.IsTransient(err) {
//	    // reconnect with backoff
//	}
//
// All wrapped errors support errors.Is and errors.As through Unwrap.
package errors
