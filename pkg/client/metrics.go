package client

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

type metrics struct {
	queries     *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rateLimited prometheus.Counter

	nQueries     atomic.Uint64
	nHits        atomic.Uint64
	nErrors      atomic.Uint64
	nRateLimited atomic.Uint64
}

func newMetrics() *metrics {
	return &metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queries_total",
			Help: "The total number of queries by type and result",
		}, []string{"type", "result"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "The total number of queries answered from the response cache",
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "query_duration_seconds",
			Help:    "The elapsed time of queries",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "The total number of queries rejected by the rate limiter",
		}),
	}
}

func (m *metrics) register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.queries, m.cacheHits, m.duration, m.rateLimited} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *metrics) incRateLimited() {
	m.rateLimited.Inc()
	m.nRateLimited.Add(1)
}

func (m *metrics) observe(typ string, result string, seconds float64, hit bool) {
	m.queries.WithLabelValues(typ, result).Inc()
	m.duration.WithLabelValues(typ).Observe(seconds)
	m.nQueries.Add(1)
	if hit {
		m.cacheHits.WithLabelValues(typ).Inc()
		m.nHits.Add(1)
	}
	if result == resultError {
		m.nErrors.Add(1)
	}
}

// Stats is a snapshot of the client counters.
type Stats struct {
	Queries     uint64 `json:"queries" yaml:"queries"`
	CacheHits   uint64 `json:"cache_hits" yaml:"cache_hits"`
	Errors      uint64 `json:"errors" yaml:"errors"`
	RateLimited uint64 `json:"rate_limited" yaml:"rate_limited"`
	CacheSize   int    `json:"cache_size" yaml:"cache_size"`
}
