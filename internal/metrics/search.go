package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Search and rerank Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybridsearch",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"mode", "status"}, // mode: vector/text/hybrid; status: ok/partial/error/timeout
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybridsearch",
			Name:      "search_duration_seconds",
			Help:      "Search request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	BackendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybridsearch",
			Name:      "backend_errors_total",
			Help:      "Backend call failures by side and operation",
		},
		[]string{"side", "op"},
	)

	RerankTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybridsearch",
			Name:      "rerank_total",
			Help:      "Rerank stage outcomes",
		},
		[]string{"outcome"}, // applied / cached / disabled / error / empty
	)

	RerankDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "hybridsearch",
			Name:      "rerank_scoring_duration_seconds",
			Help:      "Cross-encoder scoring duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	RerankCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybridsearch",
			Name:      "rerank_cache_total",
			Help:      "Rerank cache lookups and evictions",
		},
		[]string{"result"}, // hit / miss / eviction
	)
)

var registerSearch sync.Once

// RegisterSearchMetrics registers the search and rerank collectors on the
// default registry. Safe to call more than once.
func RegisterSearchMetrics() {
	registerSearch.Do(func() {
		prometheus.MustRegister(
			SearchRequestsTotal,
			SearchDuration,
			BackendErrorsTotal,
			RerankTotal,
			RerankDuration,
			RerankCacheTotal,
		)
	})
}
