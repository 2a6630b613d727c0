// Package metrics holds the Prometheus collectors shared across the service.
// Collectors register on the default registry; the HTTP server exposes it at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for RollupRunsTotal.
const (
	OutcomeWritten         = "written"
	OutcomeNoData          = "no_data"
	OutcomeBelowCompletion = "below_completion"
	OutcomeSkipped         = "skipped"
	OutcomeFailed          = "failed"
)

var (
	// RollupRunsTotal counts orchestrator executions.
	// Labels:
	//   - level: hour, day, week, month, year
	//   - outcome: written, no_data, below_completion, skipped, failed
	RollupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedroll_rollup_runs_total",
			Help: "Total number of rollup executions by level and outcome",
		},
		[]string{"level", "outcome"},
	)

	// RollupRunDuration measures a full execution: resolve, fetch, compute and write.
	RollupRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speedroll_rollup_run_duration_seconds",
			Help:    "Duration of rollup executions in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"level"},
	)

	// SourceFetchFailures counts source inputs that were skipped.
	// Labels:
	//   - reason: malformed, transient
	SourceFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedroll_source_fetch_failures_total",
			Help: "Source inputs skipped during rollup, by reason",
		},
		[]string{"level", "reason"},
	)

	// StoreRetries counts retried object store calls.
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedroll_store_retries_total",
			Help: "Object store operations retried after a transient failure",
		},
		[]string{"op"},
	)

	// StoreBreakerState reports the object store circuit breaker (0 closed, 1 half-open, 2 open).
	StoreBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speedroll_store_breaker_state",
			Help: "Object store circuit breaker state",
		},
	)

	// QueryCacheRequests counts summary queries by cache result: hit, miss, refresh.
	QueryCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedroll_query_cache_requests_total",
			Help: "Summary queries served by the cache, by result",
		},
		[]string{"result"},
	)

	// QueryPeriodFetches counts per-period summary reads made while filling the cache.
	QueryPeriodFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedroll_query_period_fetches_total",
			Help: "Per-period summary reads made by the query cache",
		},
		[]string{"level", "result"},
	)

	// MeasurementsIngested counts raw records accepted over HTTP.
	MeasurementsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedroll_measurements_ingested_total",
			Help: "Raw measurement records written through the ingestion API",
		},
	)
)
