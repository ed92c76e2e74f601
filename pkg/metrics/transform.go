package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransformMetrics records dispatch and job-handler outcomes.
type TransformMetrics struct {
	dispatched   *prometheus.CounterVec
	jobOutcome   *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	confirmation *prometheus.CounterVec
}

// NewTransformMetrics registers the pipeline metrics on the provided registerer.
func NewTransformMetrics(reg prometheus.Registerer) *TransformMetrics {
	if reg == nil {
		return &TransformMetrics{}
	}
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transform_jobs_dispatched_total",
		Help: "Transformation jobs published for processing.",
	}, []string{"trigger"})
	jobOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transform_jobs_total",
		Help: "Transformation job handler outcomes.",
	}, []string{"outcome"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transform_job_duration_seconds",
		Help:    "Duration of transformation jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	confirmation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmations_total",
		Help: "Payment confirmation attempts by result.",
	}, []string{"result"})
	reg.MustRegister(dispatched, jobOutcome, jobDuration, confirmation)
	return &TransformMetrics{
		dispatched:   dispatched,
		jobOutcome:   jobOutcome,
		jobDuration:  jobDuration,
		confirmation: confirmation,
	}
}

// ObserveDispatch counts jobs published by the dispatcher.
func (m *TransformMetrics) ObserveDispatch(trigger string, count int) {
	if m == nil || m.dispatched == nil || count <= 0 {
		return
	}
	m.dispatched.WithLabelValues(trigger).Add(float64(count))
}

// ObserveJob records one job handler outcome and its duration.
func (m *TransformMetrics) ObserveJob(outcome string, elapsed time.Duration) {
	if m == nil || m.jobOutcome == nil {
		return
	}
	m.jobOutcome.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveConfirmation counts a payment confirmation attempt.
func (m *TransformMetrics) ObserveConfirmation(result string) {
	if m == nil || m.confirmation == nil {
		return
	}
	m.confirmation.WithLabelValues(result).Inc()
}
