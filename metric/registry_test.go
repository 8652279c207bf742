package metric

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/photgw/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.Gatherer().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.Gatherer())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_Register(t *testing.T) {
	tests := []struct {
		name     string
		metric   string
		register func(r *MetricsRegistry) error
	}{
		{
			name:   "counter",
			metric: "test_counter",
			register: func(r *MetricsRegistry) error {
				c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
				c.Inc()
				return r.Register("svc", "test_counter", c)
			},
		},
		{
			name:   "gauge",
			metric: "test_gauge",
			register: func(r *MetricsRegistry) error {
				g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
				g.Set(42)
				return r.Register("svc", "test_gauge", g)
			},
		},
		{
			name:   "histogram",
			metric: "test_histogram",
			register: func(r *MetricsRegistry) error {
				h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
				h.Observe(1.5)
				return r.Register("svc", "test_histogram", h)
			},
		},
		{
			name:   "counter vec",
			metric: "test_counter_vec",
			register: func(r *MetricsRegistry) error {
				v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"l"})
				v.WithLabelValues("a").Inc()
				return r.Register("svc", "test_counter_vec", v)
			},
		},
		{
			name:   "gauge vec",
			metric: "test_gauge_vec",
			register: func(r *MetricsRegistry) error {
				v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "gv"}, []string{"l"})
				v.WithLabelValues("a").Set(1)
				return r.Register("svc", "test_gauge_vec", v)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewMetricsRegistry()
			require.NoError(t, tt.register(registry))
			assert.True(t, gatheredNames(t, registry)[tt.metric])
		})
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})

	require.NoError(t, registry.Register("svc1", "dup_counter", c1))

	err := registry.Register("svc1", "dup_counter", c2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = registry.Register("svc2", "dup_counter", c2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_counter", Help: "gone"})
	counter.Inc()
	require.NoError(t, registry.Register("svc", "gone_counter", counter))
	assert.True(t, gatheredNames(t, registry)["gone_counter"])

	assert.True(t, registry.Unregister("svc", "gone_counter"))
	assert.False(t, gatheredNames(t, registry)["gone_counter"])
	assert.False(t, registry.Unregister("svc", "gone_counter"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	const n = 10
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			c.Inc()
			assert.NoError(t, registry.Register("svc", name, c))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, n, count)
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordLine("stars1", true)
	m.RecordLine("stars1", false)
	m.RecordDeviceReconnect("stars1")
	m.SetDeviceConnected("stars1", true)
	m.RecordSamplerDiscard("stars1")
	m.RecordSamplerTick("stars1", true)
	m.RecordSamplerTick("stars1", false)
	m.RecordQueueOverflow("stars1")
	m.SetQueueDepth("stars1", 3)
	m.RecordPublished("stars1", "reading", 20*time.Millisecond)
	m.RecordPublishFailure("stars1")
	m.RecordPublishDropped("stars1", "retry_exhausted")
	m.SetBrokerConnected(true)
	m.RecordBrokerConnectAttempt()
	m.RecordPipelineRestart("stars1")

	names := gatheredNames(t, registry)
	for _, expected := range []string{
		"photgw_device_lines_received_total",
		"photgw_device_lines_decoded_total",
		"photgw_device_lines_dropped_total",
		"photgw_device_reconnects_total",
		"photgw_device_connected",
		"photgw_sampler_overwritten_total",
		"photgw_sampler_missing_total",
		"photgw_sampler_emitted_total",
		"photgw_queue_overflows_total",
		"photgw_queue_depth",
		"photgw_publisher_published_total",
		"photgw_publisher_failures_total",
		"photgw_publisher_dropped_total",
		"photgw_publisher_ack_duration_seconds",
		"photgw_broker_connected",
		"photgw_broker_connect_attempts_total",
		"photgw_supervisor_restarts_total",
	} {
		assert.True(t, names[expected], "core metric %s should be gathered", expected)
	}
}

func TestCoreMetrics_NilSafe(t *testing.T) {
	var registry *MetricsRegistry
	m := registry.CoreMetrics()
	require.Nil(t, m)

	assert.NotPanics(t, func() {
		m.RecordLine("stars1", true)
		m.SetDeviceConnected("stars1", false)
		m.RecordSamplerTick("stars1", false)
		m.RecordQueueOverflow("stars1")
		m.RecordPublished("stars1", "reading", time.Millisecond)
		m.RecordPublishDropped("stars1", "unknown_device")
		m.SetBrokerConnected(false)
		m.RecordPipelineRestart("stars1")
	})
}

func TestMetricsRegistry_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordLine("stars7", true)

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `photgw_device_lines_received_total{device="stars7"} 1`)
}
