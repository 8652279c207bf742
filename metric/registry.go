package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/photgw/errors"
)

// MetricsRegistry is the gateway's Prometheus registry: the core metrics,
// Go and process collectors, and whatever components register under an
// owner name. A nil *MetricsRegistry is valid and disables metrics.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu    sync.Mutex
	owned map[string]prometheus.Collector // "owner.name"
}

func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:  prometheus.NewRegistry(),
		core:  NewMetrics(),
		owned: make(map[string]prometheus.Collector),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the registry for scraping and tests.
func (r *MetricsRegistry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// CoreMetrics returns the gateway metrics, or nil on a nil registry. The
// record methods of a nil *Metrics do nothing.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.core
}

// Handler serves the registry in the Prometheus exposition format.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Register adds c under owner and name. Registering the same owner and
// name twice, or a collector whose series clash with an existing one, is
// an invalid error.
func (r *MetricsRegistry) Register(owner, name string, c prometheus.Collector) error {
	key := owner + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.owned[key]; dup {
		return errors.WrapInvalid(fmt.Errorf("%s already registered", key),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}
	if err := r.prom.Register(c); err != nil {
		var clash prometheus.AlreadyRegisteredError
		if stderrors.As(err, &clash) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for "+key)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+key)
	}
	r.owned[key] = c
	return nil
}

// Unregister removes what Register added. It reports whether anything was
// removed.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	key := owner + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.owned[key]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.owned, key)
	return true
}
