package stylize

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	stageNormalizeContent = "normalize_content"
	stageNormalizeStyle   = "normalize_style"
	stageQueueWait        = "queue_wait"
	stageInference        = "inference"
	stageEncode           = "encode"
)

type metrics struct {
	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	stageDuration        *prometheus.HistogramVec
	inflight             prometheus.Gauge
	enginePanics         prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
	outputBytesTotal     prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, engineName string) *metrics {
	constLabels := prometheus.Labels{"engine": engineName}

	m := &metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "artify_stylize_requests_total",
			Help:        "Total stylize requests by outcome and error kind.",
			ConstLabels: constLabels,
		}, []string{"outcome", "error_kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "artify_stylize_duration_seconds",
			Help:        "End-to-end stylize duration including queueing.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "artify_stylize_stage_duration_seconds",
			Help:        "Duration of each stylize stage.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"stage"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "artify_stylize_inflight_inferences",
			Help:        "Engine calls currently holding an inference slot.",
			ConstLabels: constLabels,
		}),
		enginePanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "artify_stylize_engine_panics_total",
			Help:        "Engine calls that panicked and were recovered.",
			ConstLabels: constLabels,
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "artify_usage_pixels_processed_total",
			Help:        "Total normalised content and style pixels sent to the engine.",
			ConstLabels: constLabels,
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "artify_usage_output_bytes_total",
			Help:        "Total base64 image bytes returned to clients.",
			ConstLabels: constLabels,
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "artify_usage_compute_time_ms_total",
			Help:        "Total compute time in milliseconds across successful requests.",
			ConstLabels: constLabels,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.requestsTotal,
			m.requestDuration,
			m.stageDuration,
			m.inflight,
			m.enginePanics,
			m.pixelsProcessedTotal,
			m.outputBytesTotal,
			m.computeTimeMSTotal,
		)
	}
	return m
}
