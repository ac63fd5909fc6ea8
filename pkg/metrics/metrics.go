// Package metrics exposes Prometheus instrumentation for subgraph traffic, batched
// chunk resolution and returns reconstruction.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lpreturns"

// Metrics holds every collector of the process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Batch metrics
	ChunksIssued  *prometheus.CounterVec
	ChunkFailures *prometheus.CounterVec
	ChunkRetries  *prometheus.CounterVec
	ChunkLatency  *prometheus.HistogramVec

	// Subgraph metrics
	SubgraphRequests *prometheus.CounterVec
	SubgraphLatency  *prometheus.HistogramVec

	// Block cache metrics
	BlockCacheHits   prometheus.Counter
	BlockCacheMisses prometheus.Counter

	// Reconstruction metrics
	Reconstructions       *prometheus.CounterVec
	ReconstructedDays     prometheus.Counter
	LiveStateFallbacks    prometheus.Counter
	ReconstructionLatency prometheus.Histogram
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChunksIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "chunks_issued_total",
			Help:      "Chunks issued by the batch executor",
		}, []string{"operation"}),
		ChunkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "chunk_failures_total",
			Help:      "Chunks that failed after exhausting retries",
		}, []string{"operation"}),
		ChunkRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "chunk_retries_total",
			Help:      "Chunk attempts beyond the first",
		}, []string{"operation"}),
		ChunkLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "chunk_duration_seconds",
			Help:      "Wall time of a chunk including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		SubgraphRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subgraph",
			Name:      "requests_total",
			Help:      "GraphQL requests by endpoint and outcome",
		}, []string{"endpoint", "status"}),
		SubgraphLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subgraph",
			Name:      "request_duration_seconds",
			Help:      "GraphQL request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		BlockCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocks",
			Name:      "cache_hits_total",
			Help:      "Timestamps resolved from the block cache",
		}),
		BlockCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocks",
			Name:      "cache_misses_total",
			Help:      "Timestamps that required a block index query",
		}),

		Reconstructions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "returns",
			Name:      "reconstructions_total",
			Help:      "Historical return reconstructions by outcome",
		}, []string{"status"}),
		ReconstructedDays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "returns",
			Name:      "days_total",
			Help:      "Daily return records emitted",
		}),
		LiveStateFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "returns",
			Name:      "live_state_fallbacks_total",
			Help:      "Day tails synthesized from the live pair state",
		}),
		ReconstructionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "returns",
			Name:      "reconstruction_duration_seconds",
			Help:      "End-to-end reconstruction time",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveChunk(operation string, took time.Duration, attempts int, err error) {
	if m == nil {
		return
	}
	m.ChunksIssued.WithLabelValues(operation).Inc()
	m.ChunkLatency.WithLabelValues(operation).Observe(took.Seconds())
	if attempts > 1 {
		m.ChunkRetries.WithLabelValues(operation).Add(float64(attempts - 1))
	}
	if err != nil {
		m.ChunkFailures.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) ObserveRequest(endpoint, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.SubgraphRequests.WithLabelValues(endpoint, status).Inc()
	m.SubgraphLatency.WithLabelValues(endpoint).Observe(took.Seconds())
}

func (m *Metrics) ObserveBlockCache(hits, misses int) {
	if m == nil {
		return
	}
	m.BlockCacheHits.Add(float64(hits))
	m.BlockCacheMisses.Add(float64(misses))
}

func (m *Metrics) ObserveReconstruction(status string, days, fallbacks int, took time.Duration) {
	if m == nil {
		return
	}
	m.Reconstructions.WithLabelValues(status).Inc()
	m.ReconstructedDays.Add(float64(days))
	m.LiveStateFallbacks.Add(float64(fallbacks))
	m.ReconstructionLatency.Observe(took.Seconds())
}
