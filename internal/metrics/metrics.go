package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the capture pipeline
type Metrics struct {
	SessionsStarted prometheus.Counter
	Captures        *prometheus.CounterVec
	Predictions     *prometheus.CounterVec
	Reviews         *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	Commits         *prometheus.CounterVec
	PredictLatency  prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "nutritrack_capture_sessions_started_total",
			Help: "Capture sessions that passed name validation",
		}),
		Captures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nutritrack_capture_images_total",
			Help: "Image acquisitions by source and outcome",
		}, []string{"source", "outcome"}),
		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nutritrack_predictions_total",
			Help: "Recognition requests by outcome",
		}, []string{"outcome"}),
		Reviews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nutritrack_reviews_total",
			Help: "Prediction reviews by kind",
		}, []string{"kind"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nutritrack_decisions_total",
			Help: "User decisions taken at review and recovery points",
		}, []string{"decision"}),
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nutritrack_commits_total",
			Help: "Journal writes by outcome",
		}, []string{"outcome"}),
		PredictLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nutritrack_predict_duration_seconds",
			Help:    "Latency of recognition requests",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncSessionsStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) IncCapture(source, outcome string) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObservePrediction(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(outcome).Inc()
	m.PredictLatency.Observe(seconds)
}

func (m *Metrics) IncReview(kind string) {
	if m == nil {
		return
	}
	m.Reviews.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDecision(decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncCommit(outcome string) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(outcome).Inc()
}
