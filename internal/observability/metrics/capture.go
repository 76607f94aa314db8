package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CaptureMetrics collects extraction, chat and registry metrics. A nil
// *CaptureMetrics is valid and records nothing.
type CaptureMetrics struct {
	registry *prometheus.Registry

	extractionTotal    *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	extractionInFlight prometheus.Gauge
	chatTotal          *prometheus.CounterVec
	processRuns        prometheus.Counter
	uploads            *prometheus.GaugeVec
	exportsTotal       *prometheus.CounterVec
}

func NewCaptureMetrics(service string) *CaptureMetrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	extractionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docscan",
			Subsystem:   "extraction",
			Name:        "requests_total",
			Help:        "Extraction calls by outcome.",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)
	extractionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "docscan",
			Subsystem:   "extraction",
			Name:        "duration_seconds",
			Help:        "Extraction call duration in seconds by outcome.",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)
	extractionInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "docscan",
			Subsystem:   "extraction",
			Name:        "in_flight",
			Help:        "Extraction calls currently waiting on the model.",
			ConstLabels: labels,
		},
	)
	chatTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docscan",
			Subsystem:   "chat",
			Name:        "requests_total",
			Help:        "Chat calls by outcome.",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)
	processRuns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "docscan",
			Subsystem:   "registry",
			Name:        "process_runs_total",
			Help:        "Processing runs started.",
			ConstLabels: labels,
		},
	)
	uploads := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "docscan",
			Subsystem:   "registry",
			Name:        "uploads",
			Help:        "Tracked uploads by status.",
			ConstLabels: labels,
		},
		[]string{"status"},
	)
	exportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docscan",
			Subsystem:   "export",
			Name:        "documents_total",
			Help:        "Rendered exports by kind.",
			ConstLabels: labels,
		},
		[]string{"kind"},
	)

	registry.MustRegister(extractionTotal, extractionDuration, extractionInFlight, chatTotal, processRuns, uploads, exportsTotal)

	return &CaptureMetrics{
		registry:           registry,
		extractionTotal:    extractionTotal,
		extractionDuration: extractionDuration,
		extractionInFlight: extractionInFlight,
		chatTotal:          chatTotal,
		processRuns:        processRuns,
		uploads:            uploads,
		exportsTotal:       exportsTotal,
	}
}

func (m *CaptureMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *CaptureMetrics) StartExtraction() {
	if m == nil {
		return
	}
	m.extractionInFlight.Inc()
}

func (m *CaptureMetrics) FinishExtraction(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.extractionInFlight.Dec()
	outcome := outcomeOf(err)
	m.extractionTotal.WithLabelValues(outcome).Inc()
	m.extractionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *CaptureMetrics) ObserveChat(err error) {
	if m == nil {
		return
	}
	m.chatTotal.WithLabelValues(outcomeOf(err)).Inc()
}

func (m *CaptureMetrics) ProcessRunStarted() {
	if m == nil {
		return
	}
	m.processRuns.Inc()
}

// SetUploads replaces the per-status gauge values.
func (m *CaptureMetrics) SetUploads(counts map[string]int) {
	if m == nil {
		return
	}
	m.uploads.Reset()
	for status, n := range counts {
		m.uploads.WithLabelValues(status).Set(float64(n))
	}
}

func (m *CaptureMetrics) ObserveExport(kind string) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(kind).Inc()
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
