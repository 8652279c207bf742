// Package metric provides the gateway's Prometheus registry.
//
// NewMetricsRegistry registers the core gateway metrics (device link, sampler,
// queues, publisher, supervisor) plus the Go runtime and process collectors.
// Components that need metrics of their own, such as the publisher's retry
// ring, add them with Register, which rejects a second registration of the
// same owner and name.
//
// The recording methods on Metrics tolerate a nil receiver, so code paths
// that were built without a registry simply skip metric updates:
//
//	m := registry.CoreMetrics() // nil when registry is nil
//	m.RecordLine("stars1", true)
//
// The registry is exposed over HTTP by the admin server through Handler.
package metric
