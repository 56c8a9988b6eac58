package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets are the histogram buckets for probe latency, in seconds.
var LatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Prometheus is a Sink backed by Prometheus collectors, all labeled by client.
type Prometheus struct {
	registry *prometheus.Registry

	queriesTotal   prometheus.Counter
	queriesSuccess prometheus.Counter
	queriesFailed  prometheus.Counter
	queriesRate    prometheus.Gauge
	queryLatency   prometheus.Observer
	poolSize       prometheus.Gauge
	poolAvailable  prometheus.Gauge
	poolUsed       prometheus.Gauge
}

// NewPrometheus creates the collectors for client and registers them, together with
// the Go runtime and process collectors, on a private registry.
func NewPrometheus(client string) *Prometheus {
	labels := []string{"client"}

	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postgres_queries_total",
		Help: "Total number of PostgreSQL queries attempted",
	}, labels)
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postgres_queries_success",
		Help: "Number of successful PostgreSQL queries",
	}, labels)
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postgres_queries_failed",
		Help: "Number of failed PostgreSQL queries",
	}, labels)
	rate := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "postgres_queries_rate",
		Help: "Current rate of PostgreSQL queries per second",
	}, labels)
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postgres_query_latency_seconds",
		Help:    "PostgreSQL query latency in seconds",
		Buckets: LatencyBuckets,
	}, labels)
	size := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "postgres_connection_pool_size",
		Help: "Size of the PostgreSQL connection pool",
	}, labels)
	available := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "postgres_connection_pool_available",
		Help: "Available connections in the PostgreSQL pool",
	}, labels)
	used := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "postgres_connection_pool_used",
		Help: "Used connections in the PostgreSQL pool",
	}, labels)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		total, success, failed, rate, latency, size, available, used,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Prometheus{
		registry:       registry,
		queriesTotal:   total.WithLabelValues(client),
		queriesSuccess: success.WithLabelValues(client),
		queriesFailed:  failed.WithLabelValues(client),
		queriesRate:    rate.WithLabelValues(client),
		queryLatency:   latency.WithLabelValues(client),
		poolSize:       size.WithLabelValues(client),
		poolAvailable:  available.WithLabelValues(client),
		poolUsed:       used.WithLabelValues(client),
	}
}

// RecordOutcome counts one attempt and observes its latency, failed or not.
func (p *Prometheus) RecordOutcome(o Outcome) {
	p.queriesTotal.Inc()
	if o.Success {
		p.queriesSuccess.Inc()
	} else {
		p.queriesFailed.Inc()
	}
	p.queryLatency.Observe(o.Latency.Seconds())
}

func (p *Prometheus) SetTargetRate(rate int) {
	p.queriesRate.Set(float64(rate))
}

func (p *Prometheus) SetPool(g PoolGauge) {
	p.poolSize.Set(float64(g.Size))
	p.poolUsed.Set(float64(g.Used))
	p.poolAvailable.Set(float64(g.Available))
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
