// Package metrics exposes the Prometheus instruments for the import
// pipeline. Register is idempotent through promauto's default registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline instruments.
type Metrics struct {
	SessionsCreated  prometheus.Counter
	PreviewsServed   prometheus.Counter
	ImportsEnqueued  prometheus.Counter
	ImportsCompleted prometheus.Counter
	ImportsFailed    prometheus.Counter
	RowsImported     prometheus.Counter
	RowsSkipped      prometheus.Counter
	PreviewDuration  prometheus.Histogram
	ImportDuration   prometheus.Histogram
}

// New registers the instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "import_sessions_created_total",
			Help: "Import sessions created from file uploads.",
		}),
		PreviewsServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "import_previews_served_total",
			Help: "Preview computations served.",
		}),
		ImportsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "imports_enqueued_total",
			Help: "Background imports enqueued.",
		}),
		ImportsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "imports_completed_total",
			Help: "Background imports that reached completed.",
		}),
		ImportsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "imports_failed_total",
			Help: "Background imports that reached failed.",
		}),
		RowsImported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "import_rows_imported_total",
			Help: "Transactions persisted by the import executor.",
		}),
		RowsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "import_rows_skipped_total",
			Help: "Selected rows skipped during import.",
		}),
		PreviewDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "import_preview_duration_seconds",
			Help:    "Time to parse, normalize, deduplicate and verify a preview.",
			Buckets: prometheus.DefBuckets,
		}),
		ImportDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "import_run_duration_seconds",
			Help:    "End-to-end background import duration.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}
