package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photolocator",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by method, route pattern and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photolocator",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"method", "path"})

	// AnalysesTotal counts finished gateway analyses by outcome kind
	// ("success" or an error kind).
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photolocator",
		Subsystem: "gateway",
		Name:      "analyses_total",
		Help:      "Total analyses handled by the gateway, labeled by outcome.",
	}, []string{"outcome"})

	AnalysisDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photolocator",
		Subsystem: "gateway",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end gateway analysis time, labeled by outcome.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"outcome"})

	AnalysesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "photolocator",
		Subsystem: "gateway",
		Name:      "analyses_in_flight",
		Help:      "Analyses currently waiting on the upstream service.",
	})

	UpstreamStatusTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photolocator",
		Subsystem: "upstream",
		Name:      "responses_total",
		Help:      "Upstream inference responses by HTTP status code.",
	}, []string{"status"})

	LocationNotFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "photolocator",
		Subsystem: "upstream",
		Name:      "location_not_found_total",
		Help:      "Successful upstream responses that carried no usable text.",
	})

	NormalizedBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "photolocator",
		Subsystem: "normalizer",
		Name:      "output_bytes",
		Help:      "Size of normalized images produced server-side.",
		Buckets:   prometheus.ExponentialBuckets(16*1024, 2, 10),
	})

	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "photolocator",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	})
)

// Register registers all collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AnalysesTotal,
			AnalysisDuration,
			AnalysesInFlight,
			UpstreamStatusTotal,
			LocationNotFoundTotal,
			NormalizedBytes,
			RateLimitedTotal,
		)
	})
}
