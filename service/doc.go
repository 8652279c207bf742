// Package service assembles and supervises the gateway.
//
// A Gateway owns one Pipeline per configured photometer (its reader and
// sampler), the per-device outbound queues and the single publisher. Every
// pipeline and the publisher run under a Supervisor, which restarts a unit
// that exits while the gateway is still running. Restarts are spaced by the
// configured backoff and counted in the health monitor and in the
// photgw_supervisor_restarts_total metric, so a failing device never takes
// the others down with it.
//
// Shutdown runs in two phases. Cancelling the context passed to Run stops
// the pipelines first; the publisher keeps running on a detached context
// until they are gone, then drains what it can within its flush timeout
// and closes the broker session.
//
// Tests drive a Gateway end to end by injecting testutil fakes through
// Options.Transports and Options.Sessions.
package service
