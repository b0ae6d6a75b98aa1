package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for verification pipelines and the
// review queue. All methods are safe on a nil receiver so metrics stay optional.
type Metrics struct {
	PipelinesStarted  prometheus.Counter
	PipelineOutcome   *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	StepDuration      *prometheus.HistogramVec
	StepOutcome       *prometheus.CounterVec
	ConfidenceScore   prometheus.Histogram
	ReviewsCreated    *prometheus.CounterVec
	ReviewsCompleted  *prometheus.CounterVec
	AuditAppends      prometheus.Counter
	PortalCacheLookup *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PipelinesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "veritas_pipelines_started_total",
			Help: "Verification pipelines started, including retries",
		}),
		PipelineOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_pipeline_outcomes_total",
			Help: "Verification pipeline outcomes by status and result",
		}, []string{"status", "result"}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_pipeline_duration_seconds",
			Help:    "Duration of a full verification pipeline",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veritas_step_duration_seconds",
			Help:    "Duration of individual check steps by type",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"step_type"}),
		StepOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_step_outcomes_total",
			Help: "Check step outcomes by type and status",
		}, []string{"step_type", "status"}),
		ConfidenceScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_confidence_score",
			Help:    "Distribution of computed confidence scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		ReviewsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_reviews_created_total",
			Help: "Manual reviews created by priority",
		}, []string{"priority"}),
		ReviewsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_reviews_completed_total",
			Help: "Manual reviews completed by decision and SLA state",
		}, []string{"decision", "sla_breached"}),
		AuditAppends: f.NewCounter(prometheus.CounterOpts{
			Name: "veritas_audit_appends_total",
			Help: "Audit chain entries appended",
		}),
		PortalCacheLookup: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_portal_cache_lookups_total",
			Help: "Issuer portal cache lookups by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncPipelineStarted() {
	if m != nil {
		m.PipelinesStarted.Inc()
	}
}

func (m *Metrics) ObservePipeline(status, result string, d time.Duration) {
	if m != nil {
		m.PipelineOutcome.WithLabelValues(status, result).Inc()
		m.PipelineDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveStep(stepType, status string, d time.Duration) {
	if m != nil {
		m.StepDuration.WithLabelValues(stepType).Observe(d.Seconds())
		m.StepOutcome.WithLabelValues(stepType, status).Inc()
	}
}

func (m *Metrics) ObserveScore(score float64) {
	if m != nil {
		m.ConfidenceScore.Observe(score)
	}
}

func (m *Metrics) IncReviewCreated(priority string) {
	if m != nil {
		m.ReviewsCreated.WithLabelValues(priority).Inc()
	}
}

func (m *Metrics) IncReviewCompleted(decision string, slaBreached bool) {
	if m != nil {
		breached := "false"
		if slaBreached {
			breached = "true"
		}
		m.ReviewsCompleted.WithLabelValues(decision, breached).Inc()
	}
}

func (m *Metrics) IncAuditAppend() {
	if m != nil {
		m.AuditAppends.Inc()
	}
}

func (m *Metrics) IncPortalCache(outcome string) {
	if m != nil {
		m.PortalCacheLookup.WithLabelValues(outcome).Inc()
	}
}
