// Package metrics declares the Prometheus collectors for generation work.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AttemptsTotal counts generation attempts by orchestrator mode and
	// per-node outcome (completed, failed).
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gencanvas_generation_attempts_total",
			Help: "Generation attempts by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// CallsTotal counts generation calls; outcome is ok, partial or error.
	CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gencanvas_generation_calls_total",
			Help: "Generation service calls by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	GenerationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gencanvas_generation_seconds",
			Help:    "Wall time of one generation call",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"mode"},
	)

	// BatchBasesTotal counts batch base nodes by result (succeeded, failed,
	// incomplete, skipped_empty, skipped_missing, errored).
	BatchBasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gencanvas_batch_bases_total",
			Help: "Batch base nodes by result",
		},
		[]string{"result"},
	)

	BatchWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gencanvas_batch_workers",
			Help: "Workers used by the most recent batch run",
		},
	)

	DowngradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gencanvas_multiturn_downgrades_total",
			Help: "Multi-turn continuations retried as single-image after a rejected continuation token",
		},
	)

	// AnalysisTotal counts best-effort annotation tasks by kind (prompt,
	// image) and outcome (ok, error, dropped).
	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gencanvas_analysis_tasks_total",
			Help: "Auto-analysis tasks by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	StalledNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gencanvas_stalled_nodes",
			Help: "Running nodes flagged as possibly interrupted",
		},
	)
)

func init() {
	prometheus.MustRegister(AttemptsTotal)
	prometheus.MustRegister(CallsTotal)
	prometheus.MustRegister(GenerationSeconds)
	prometheus.MustRegister(BatchBasesTotal)
	prometheus.MustRegister(BatchWorkers)
	prometheus.MustRegister(DowngradesTotal)
	prometheus.MustRegister(AnalysisTotal)
	prometheus.MustRegister(StalledNodes)
}
