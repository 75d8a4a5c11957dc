// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/brizzai/token-relay/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Flow stages, in the order the callback runs them
const (
	StageAuthorize = "authorize"
	StageCode      = "code"
	StageSession   = "session"
	StageExchange  = "exchange"
	StagePersist   = "persist"
)

// Flow outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the relay's collectors on their own registry
type Metrics struct {
	registry         *prometheus.Registry
	requestCounter   *prometheus.CounterVec
	latencyHistogram *prometheus.HistogramVec
	flowCounter      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		latencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		flowCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_relay_flow_total",
				Help: "Authorization flow steps by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
	}
	m.registry.MustRegister(
		m.requestCounter,
		m.latencyHistogram,
		m.flowCounter,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one served request. path is the route pattern, not the raw URL,
// so user ids do not end up as label values.
func (m *Metrics) ObserveRequest(path, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.latencyHistogram.WithLabelValues(path, method).Observe(elapsed.Seconds())
}

// ObserveFlow records the outcome of a flow stage
func (m *Metrics) ObserveFlow(stage, outcome string) {
	if m == nil {
		return
	}
	m.flowCounter.WithLabelValues(stage, outcome).Inc()
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewMetrics returns nil when metrics are disabled; a nil *Metrics ignores observations
func NewMetrics(cfg *config.MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return New()
}

// Module provides *Metrics
var Module = fx.Module("metrics",
	fx.Provide(NewMetrics),
)
