package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RPCRequests     *prometheus.CounterVec
	RPCLatency      *prometheus.HistogramVec
	ChunksIngested  prometheus.Counter
	ModelsPublished prometheus.Counter
	TrainingSteps   prometheus.Counter
}

// NewMetrics creates and registers the service collectors on a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mimic_rpc_requests_total",
			Help: "RPC requests by method and status code.",
		}, []string{"method", "code"}),
		RPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mimic_rpc_latency_seconds",
			Help:    "RPC handler latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		ChunksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mimic_chunks_ingested_total",
			Help: "Episode chunks accepted by the ingestion path.",
		}),
		ModelsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mimic_models_published_total",
			Help: "Models exported and recorded.",
		}),
		TrainingSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mimic_training_steps_total",
			Help: "Optimizer steps run by this process.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RPCRequests, m.RPCLatency, m.ChunksIngested, m.ModelsPublished, m.TrainingSteps,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
