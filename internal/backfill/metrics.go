package backfill

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts backfill runs.
	// Labels: trigger (manual, scheduled), result (success, partial, error, skipped)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "backfill",
			Name:      "runs_total",
			Help:      "Total number of backfill runs",
		},
		[]string{"trigger", "result"},
	)

	// DocumentsTotal counts documents processed by backfill.
	// Labels: result (indexed, failed)
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "backfill",
			Name:      "documents_total",
			Help:      "Total number of documents processed by backfill",
		},
		[]string{"result"},
	)

	// RunDuration tracks how long a full run takes.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "knowledged",
			Subsystem: "backfill",
			Name:      "run_duration_seconds",
			Help:      "Duration of backfill runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)
)
