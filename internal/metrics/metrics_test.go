package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRegisterOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncSessionsStarted()
	m.IncCommit("ok")
	m.IncCommit("ok")
	m.IncReview("low_confidence")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reviews.WithLabelValues("low_confidence")))

	// a second set on a fresh registry must not collide
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncSessionsStarted()
		m.IncCapture("camera", "ok")
		m.ObservePrediction("ok", 0.1)
		m.IncReview("normal")
		m.IncDecision("add")
		m.IncCommit("failed")
	})
}
