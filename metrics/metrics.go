// Package metrics provides Prometheus metrics for the request pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipeline"

// Collector holds the pipeline metrics. It implements pipeline.Observer.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Lifecycle metrics
	ShortCircuits      *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	Timeouts           *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a collector on a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		ShortCircuits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "short_circuits_total",
				Help:      "Total number of requests ended early by a hook",
			},
			[]string{"phase"},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of requests rejected with 422",
			},
			[]string{"route"},
		),
		Timeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timeouts_total",
				Help:      "Total number of requests aborted by the request timeout",
			},
			[]string{"route"},
		),
		gatherer: gatherer,
	}
}

// Observe records a finished request.
func (c *Collector) Observe(route, method string, status int, elapsed time.Duration) {
	c.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (c *Collector) ShortCircuit(phase string) {
	c.ShortCircuits.WithLabelValues(phase).Inc()
}

func (c *Collector) ValidationFailure(route string) {
	c.ValidationFailures.WithLabelValues(route).Inc()
}

func (c *Collector) Timeout(route string) {
	c.Timeouts.WithLabelValues(route).Inc()
}

// InFlight is a middleware tracking requests currently in the pipeline.
func (c *Collector) InFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.RequestsInFlight.Inc()
		defer c.RequestsInFlight.Dec()
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
