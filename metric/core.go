package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric the gateway exports.
const Namespace = "photgw"

// Metrics contains the gateway-wide metrics. All recording methods are safe
// on a nil receiver so components can run without a registry.
type Metrics struct {
	// Device link
	LinesReceived    *prometheus.CounterVec
	LinesDecoded     *prometheus.CounterVec
	LinesDropped     *prometheus.CounterVec
	DeviceReconnects *prometheus.CounterVec
	DeviceConnected  *prometheus.GaugeVec

	// Sampling
	SamplerDiscards *prometheus.CounterVec
	SamplerMissing  *prometheus.CounterVec
	SamplesEmitted  *prometheus.CounterVec

	// Outbound queues
	QueueOverflows *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec

	// Broker session
	MessagesPublished *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	PublishDropped    *prometheus.CounterVec
	PublishLatency    prometheus.Histogram
	BrokerConnected   prometheus.Gauge
	BrokerReconnects  prometheus.Counter

	// Supervision
	PipelineRestarts *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all gateway metrics
func NewMetrics() *Metrics {
	return &Metrics{
		LinesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "lines_received_total",
				Help:      "Total number of lines read from photometers",
			},
			[]string{"device"},
		),

		LinesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "lines_decoded_total",
				Help:      "Total number of lines decoded into readings",
			},
			[]string{"device"},
		),

		LinesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "lines_dropped_total",
				Help:      "Total number of lines that failed to decode",
			},
			[]string{"device"},
		),

		DeviceReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "reconnects_total",
				Help:      "Total number of device link reconnect attempts",
			},
			[]string{"device"},
		),

		DeviceConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "device",
				Name:      "connected",
				Help:      "Device link status (0=down, 1=streaming)",
			},
			[]string{"device"},
		),

		SamplerDiscards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sampler",
				Name:      "overwritten_total",
				Help:      "Total number of readings overwritten before the next tick",
			},
			[]string{"device"},
		),

		SamplerMissing: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sampler",
				Name:      "missing_total",
				Help:      "Total number of ticks with no reading available",
			},
			[]string{"device"},
		),

		SamplesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "sampler",
				Name:      "emitted_total",
				Help:      "Total number of readings handed to the outbound queue",
			},
			[]string{"device"},
		),

		QueueOverflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "queue",
				Name:      "overflows_total",
				Help:      "Total number of readings evicted from a full outbound queue",
			},
			[]string{"device"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current number of readings waiting in the outbound queue",
			},
			[]string{"device"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "publisher",
				Name:      "published_total",
				Help:      "Total number of messages acknowledged by the broker",
			},
			[]string{"device", "kind"},
		),

		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "publisher",
				Name:      "failures_total",
				Help:      "Total number of failed publish attempts",
			},
			[]string{"device"},
		),

		PublishDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "publisher",
				Name:      "dropped_total",
				Help:      "Total number of messages abandoned by the publisher",
			},
			[]string{"device", "reason"},
		),

		PublishLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "publisher",
				Name:      "ack_duration_seconds",
				Help:      "Time from publish to broker acknowledgement",
				Buckets:   prometheus.DefBuckets,
			},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker session status (0=disconnected, 1=connected)",
			},
		),

		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "connect_attempts_total",
				Help:      "Total number of broker connect attempts",
			},
		),

		PipelineRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "supervisor",
				Name:      "restarts_total",
				Help:      "Total number of pipeline restarts after an unexpected exit",
			},
			[]string{"pipeline"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.LinesReceived,
		m.LinesDecoded,
		m.LinesDropped,
		m.DeviceReconnects,
		m.DeviceConnected,
		m.SamplerDiscards,
		m.SamplerMissing,
		m.SamplesEmitted,
		m.QueueOverflows,
		m.QueueDepth,
		m.MessagesPublished,
		m.PublishFailures,
		m.PublishDropped,
		m.PublishLatency,
		m.BrokerConnected,
		m.BrokerReconnects,
		m.PipelineRestarts,
	}
}

// RecordLine records one line read from a device and whether it decoded.
func (m *Metrics) RecordLine(device string, decoded bool) {
	if m == nil {
		return
	}
	m.LinesReceived.WithLabelValues(device).Inc()
	if decoded {
		m.LinesDecoded.WithLabelValues(device).Inc()
	} else {
		m.LinesDropped.WithLabelValues(device).Inc()
	}
}

// RecordDeviceReconnect records a reconnect attempt for a device link.
func (m *Metrics) RecordDeviceReconnect(device string) {
	if m == nil {
		return
	}
	m.DeviceReconnects.WithLabelValues(device).Inc()
}

// SetDeviceConnected updates the link status of a device.
func (m *Metrics) SetDeviceConnected(device string, connected bool) {
	if m == nil {
		return
	}
	m.DeviceConnected.WithLabelValues(device).Set(boolToFloat(connected))
}

// RecordSamplerDiscard records a reading overwritten in the sample slot.
func (m *Metrics) RecordSamplerDiscard(device string) {
	if m == nil {
		return
	}
	m.SamplerDiscards.WithLabelValues(device).Inc()
}

// RecordSamplerTick records the outcome of one sampling period.
func (m *Metrics) RecordSamplerTick(device string, emitted bool) {
	if m == nil {
		return
	}
	if emitted {
		m.SamplesEmitted.WithLabelValues(device).Inc()
	} else {
		m.SamplerMissing.WithLabelValues(device).Inc()
	}
}

// RecordQueueOverflow records a reading evicted from a full queue.
func (m *Metrics) RecordQueueOverflow(device string) {
	if m == nil {
		return
	}
	m.QueueOverflows.WithLabelValues(device).Inc()
}

// SetQueueDepth updates the depth gauge for a device queue.
func (m *Metrics) SetQueueDepth(device string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(device).Set(float64(depth))
}

// RecordPublished records an acknowledged publish.
func (m *Metrics) RecordPublished(device, kind string, latency time.Duration) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(device, kind).Inc()
	m.PublishLatency.Observe(latency.Seconds())
}

// RecordPublishFailure records a failed publish attempt.
func (m *Metrics) RecordPublishFailure(device string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(device).Inc()
}

// RecordPublishDropped records a message the publisher gave up on.
func (m *Metrics) RecordPublishDropped(device, reason string) {
	if m == nil {
		return
	}
	m.PublishDropped.WithLabelValues(device, reason).Inc()
}

// SetBrokerConnected updates the broker session status.
func (m *Metrics) SetBrokerConnected(connected bool) {
	if m == nil {
		return
	}
	m.BrokerConnected.Set(boolToFloat(connected))
}

// RecordBrokerConnectAttempt records one broker connect attempt.
func (m *Metrics) RecordBrokerConnectAttempt() {
	if m == nil {
		return
	}
	m.BrokerReconnects.Inc()
}

// RecordPipelineRestart records a supervisor restart.
func (m *Metrics) RecordPipelineRestart(pipeline string) {
	if m == nil {
		return
	}
	m.PipelineRestarts.WithLabelValues(pipeline).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
