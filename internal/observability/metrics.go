// Package observability exposes Prometheus metrics for exports, the
// registry and the HTTP API.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the topo Prometheus metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Exports           *prometheus.CounterVec
	ExportDurations   *prometheus.HistogramVec
	Documents         *prometheus.CounterVec
	SubnetWarnings    prometheus.Counter
	UserDataFallbacks prometheus.Counter

	RegistryDevices     prometheus.Gauge
	RegistryConnections prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice against the same registry
// returns the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	exports, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topo_exports_total",
		Help: "Total number of manifest exports, labeled by mode and result.",
	}, []string{"mode", "result"}), "topo_exports_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topo_export_duration_seconds",
		Help:    "Manifest export latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"mode"}), "topo_export_duration_seconds")
	if err != nil {
		return nil, err
	}

	documents, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topo_export_documents_total",
		Help: "Total number of rendered manifest documents, labeled by kind.",
	}, []string{"kind"}), "topo_export_documents_total")
	if err != nil {
		return nil, err
	}

	warnings, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "topo_subnet_warnings_total",
		Help: "Total number of addresses found outside their segment subnet.",
	}), "topo_subnet_warnings_total")
	if err != nil {
		return nil, err
	}

	fallbacks, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "topo_userdata_fallbacks_total",
		Help: "Total number of machines rendered with the abbreviated first-boot script.",
	}), "topo_userdata_fallbacks_total")
	if err != nil {
		return nil, err
	}

	devices, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topo_registry_devices",
		Help: "Current number of devices in the registry.",
	}), "topo_registry_devices")
	if err != nil {
		return nil, err
	}

	connections, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topo_registry_connections",
		Help: "Current number of connections in the registry.",
	}), "topo_registry_connections")
	if err != nil {
		return nil, err
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topo_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}), "topo_http_requests_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:            gatherer,
		Exports:             exports,
		ExportDurations:     durations,
		Documents:           documents,
		SubnetWarnings:      warnings,
		UserDataFallbacks:   fallbacks,
		RegistryDevices:     devices,
		RegistryConnections: connections,
		HTTPRequests:        requests,
	}, nil
}

// ObserveExport records one export attempt.
func (c *Collector) ObserveExport(mode string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Exports.WithLabelValues(mode, result).Inc()
	c.ExportDurations.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// AddDocuments counts rendered documents of a kind.
func (c *Collector) AddDocuments(kind string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.Documents.WithLabelValues(kind).Add(float64(n))
}

// AddSubnetWarnings counts subnet consistency warnings.
func (c *Collector) AddSubnetWarnings(n int) {
	if c == nil || n == 0 {
		return
	}
	c.SubnetWarnings.Add(float64(n))
}

// IncUserDataFallback counts one abbreviated first-boot script.
func (c *Collector) IncUserDataFallback() {
	if c == nil {
		return
	}
	c.UserDataFallbacks.Inc()
}

// SetRegistryCounts updates the registry size gauges.
func (c *Collector) SetRegistryCounts(devices, connections int) {
	if c == nil {
		return
	}
	c.RegistryDevices.Set(float64(devices))
	c.RegistryConnections.Set(float64(connections))
}

// Middleware counts requests by chi route pattern so path parameters do not
// explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if c == nil {
			return
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
