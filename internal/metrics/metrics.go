// Package metrics holds the Prometheus collectors of the document store and
// its sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vdoc"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Document client metrics
	MutationsTotal    *prometheus.CounterVec
	MutationErrors    *prometheus.CounterVec
	TransactionsTotal *prometheus.CounterVec

	// Sync engine metrics
	DrainCycles       *prometheus.CounterVec
	DrainDuration     prometheus.Histogram
	RowsSynced        prometheus.Counter
	EntriesDeduped    prometheus.Counter
	EntriesDropped    prometheus.Counter
	WriteAttempts     prometheus.Counter
	WriteFailures     prometheus.Counter
	OplogBacklog      prometheus.Gauge
	OplogPurged       prometheus.Counter
	StagedRowsCleaned prometheus.Counter
}

// New creates the metrics and registers them with reg. A nil reg builds
// unregistered collectors, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MutationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Total number of document mutations acknowledged locally",
			},
			[]string{"op", "type"},
		),

		MutationErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutation_errors_total",
				Help:      "Total number of failed document mutations",
			},
			[]string{"op", "code"},
		),

		TransactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of transactions by outcome",
			},
			[]string{"outcome"},
		),

		DrainCycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "drain_cycles_total",
				Help:      "Total number of oplog drain cycles by result",
			},
			[]string{"result"},
		),

		DrainDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "drain_duration_seconds",
				Help:      "Duration of oplog drain cycles including backoff",
				Buckets:   prometheus.DefBuckets,
			},
		),

		RowsSynced: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "rows_written_total",
				Help:      "Total number of rows written to the remote store",
			},
		),

		EntriesDeduped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "entries_deduplicated_total",
				Help:      "Total number of oplog entries collapsed by deduplication",
			},
		),

		EntriesDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "entries_dropped_total",
				Help:      "Total number of oplog entries marked synced without a remote write because they could not be transformed",
			},
		),

		WriteAttempts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "write_attempts_total",
				Help:      "Total number of remote bulk write attempts",
			},
		),

		WriteFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "write_failures_total",
				Help:      "Total number of failed remote bulk write attempts",
			},
		),

		OplogBacklog: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oplog",
				Name:      "backlog",
				Help:      "Number of unsynced oplog entries after the last drain cycle",
			},
		),

		OplogPurged: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oplog",
				Name:      "purged_total",
				Help:      "Total number of synced oplog entries purged",
			},
		),

		StagedRowsCleaned: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tx",
				Name:      "staged_rows_cleaned_total",
				Help:      "Total number of expired staged rows removed",
			},
		),
	}
}
