package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *PipelineMetrics
	metricsOnce   sync.Once
)

// PipelineMetrics holds Prometheus metrics for the extraction pipeline.
type PipelineMetrics struct {
	// Per-step control loop
	AttemptsTotal        *prometheus.CounterVec
	AttemptFailuresTotal *prometheus.CounterVec
	DecisionsTotal       *prometheus.CounterVec
	StagnationExitsTotal *prometheus.CounterVec
	StepDuration         *prometheus.HistogramVec

	// Run-level outcomes
	ReviewFlagsTotal  prometheus.Counter
	RunFailuresTotal  prometheus.Counter
	ConfidenceOverall prometheus.Histogram
}

// NewPipelineMetrics creates and registers the pipeline metrics.
//
// Registration happens once per process; subsequent calls return the same
// instance, preventing duplicate-collector panics.
func NewPipelineMetrics() *PipelineMetrics {
	metricsOnce.Do(func() {
		globalMetrics = &PipelineMetrics{
			AttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extractd_step_attempts_total",
					Help: "Total worker attempts per step kind",
				},
				[]string{"step_kind"},
			),
			AttemptFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extractd_step_attempt_failures_total",
					Help: "Worker or judge invocation failures per step kind",
				},
				[]string{"step_kind"},
			),
			DecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extractd_judge_decisions_total",
					Help: "Judge decisions derived from scores",
				},
				[]string{"step_kind", "decision"},
			),
			StagnationExitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "extractd_stagnation_exits_total",
					Help: "Steps terminated early because scores stopped improving",
				},
				[]string{"step_kind"},
			),
			StepDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "extractd_step_duration_seconds",
					Help:    "Wall time to resolve a step including retries",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
				},
				[]string{"step_kind"},
			),
			ReviewFlagsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "extractd_review_flags_total",
					Help: "Resolutions flagged for human review",
				},
			),
			RunFailuresTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "extractd_run_failures_total",
					Help: "Pipeline runs that ended in terminal failure",
				},
			),
			ConfidenceOverall: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "extractd_confidence_overall",
					Help:    "Distribution of aggregated overall confidence",
					Buckets: prometheus.LinearBuckets(0, 0.1, 11),
				},
			),
		}
	})
	return globalMetrics
}
