package pagewatch

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/sage/overlay"
)

// Metrics holds the agent's Prometheus collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	analyses       *prometheus.CounterVec
	predictLatency *prometheus.HistogramVec
	overlays       *prometheus.CounterVec
	feedback       *prometheus.CounterVec
	pages          prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg gets a fresh one.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		analyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sage_analyses_total",
				Help: "Analysis cycles by outcome",
			},
			[]string{"outcome"},
		),
		predictLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sage_predict_latency_seconds",
				Help:    "Latency of /predict calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"result"},
		),
		overlays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sage_overlays_total",
				Help: "Overlays shown by mode",
			},
			[]string{"mode"},
		),
		feedback: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sage_feedback_total",
				Help: "Feedback submissions by status",
			},
			[]string{"status"},
		),
		pages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sage_pages",
			Help: "Pages currently supervised",
		}),
	}
}

// Nil-safe recorders; a Pipeline without metrics records nothing.

func (m *Metrics) RecordAnalysis(o Outcome) {
	if m != nil {
		m.analyses.WithLabelValues(string(o)).Inc()
	}
}

func (m *Metrics) RecordPredict(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.predictLatency.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) RecordOverlay(mode overlay.Mode) {
	if m != nil {
		m.overlays.WithLabelValues(string(mode)).Inc()
	}
}

func (m *Metrics) RecordFeedback(status string) {
	if m != nil {
		m.feedback.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SetPages(n int) {
	if m != nil {
		m.pages.Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
