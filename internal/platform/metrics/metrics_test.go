package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncPipelineStarted()
	m.ObservePipeline("COMPLETED", "VERIFIED", time.Second)
	m.ObserveStep("ISSUER_PORTAL", "COMPLETED", 20*time.Millisecond)
	m.IncReviewCompleted("APPROVED", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelinesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineOutcome.WithLabelValues("COMPLETED", "VERIFIED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepOutcome.WithLabelValues("ISSUER_PORTAL", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReviewsCompleted.WithLabelValues("APPROVED", "true")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncPipelineStarted()
		m.ObserveStep("FORENSIC_ANALYSIS", "FAILED", time.Millisecond)
		m.IncPortalCache("hit")
	})
}
