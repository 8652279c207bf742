// Package photgw bridges sky quality photometers to a publish/subscribe
// broker.
//
// Each photometer is reached over a serial port or a TCP socket and prints
// one JSON reading every second or two. The gateway keeps only the newest
// reading per device and publishes it once per configured period, with the
// device's calibration attached, over a single broker session (MQTT by
// default, NATS JetStream or Kafka by configuration).
//
// # Data path
//
//	transport -> reader -> decoder -> sampler -> queue -> publisher -> broker
//
//   - input/transport: serial and TCP line framing
//   - input/photometer: per-device reader with reconnection
//   - processor/decoder: JSON reading decoding per model
//   - processor/sampler: one reading per period, newest wins
//   - output/queue: bounded per-device queue, oldest dropped on overflow
//   - output/publisher: round-robin multiplexer with a retry buffer
//   - broker/mqtt, broker/nats, broker/kafka: broker sessions
//
// A device failing or being slow never blocks another device, and a broker
// outage never blocks any reader: readings pile up in the bounded queues and
// are published in order once the session is back.
//
// # Process
//
// service.Gateway assembles everything from a config.Config and supervises
// every unit, restarting whatever exits unexpectedly. cmd/photgw is the
// launcher; gateway/http is the admin interface for log levels, pause,
// resume, reload, metrics and health.
package photgw
