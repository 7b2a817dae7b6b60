package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	uploadBytes       prometheus.Histogram
	rateLimitRejected *prometheus.CounterVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	// The process collectors may already be registered by another component.
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		_ = registry.Register(c)
	}

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artify_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artify_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route", "status"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "artify_api_upload_bytes",
			Help:    "Size of stylize request bodies as declared by Content-Length.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 7),
		}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artify_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.uploadBytes,
		m.rateLimitRejected,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := newStatusRecorder(w)
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		if route == "/stylize" && r.ContentLength > 0 {
			m.uploadBytes.Observe(float64(r.ContentLength))
		}
	})
}

// routeLabel keeps label cardinality bounded for unknown paths.
func routeLabel(path string) string {
	switch path {
	case "/stylize", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}
