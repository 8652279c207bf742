package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/photgw/metric"
)

type ringMetrics struct {
	pushed  prometheus.Counter
	popped  prometheus.Counter
	evicted prometheus.Counter
	depth   prometheus.Gauge
}

// newRingMetrics registers one set of ring series labelled buffer=name.
func newRingMetrics(registry *metric.MetricsRegistry, name string) (*ringMetrics, error) {
	labels := prometheus.Labels{"buffer": name}
	counter := func(n, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: n, Help: help, ConstLabels: labels,
		})
	}
	m := &ringMetrics{
		pushed:  counter("pushed_total", "Items pushed into the buffer"),
		popped:  counter("popped_total", "Items popped from the buffer"),
		evicted: counter("evicted_total", "Items evicted to make room for newer ones"),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "depth",
			Help: "Items currently buffered", ConstLabels: labels,
		}),
	}

	for key, c := range map[string]prometheus.Collector{
		"buffer_pushed": m.pushed, "buffer_popped": m.popped,
		"buffer_evicted": m.evicted, "buffer_depth": m.depth,
	} {
		if err := registry.Register(name, key, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
