package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Query cache lookup results.
const (
	CacheResultHit   = "hit"
	CacheResultMiss  = "miss"
	CacheResultError = "error"
	CacheResultShare = "shared"
)

var stageBucketsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var (
	httpRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parseqri_http_requests_in_flight",
		Help: "Requests currently being served.",
	})
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parseqri_http_requests_total",
		Help: "Served requests by method, route pattern and status.",
	}, []string{"method", "route", "status"})
	httpRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parseqri_http_request_duration_seconds",
		Help:    "Request latency by method, route pattern and status.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "route", "status"})

	pipelineRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parseqri_pipeline_runs_total",
		Help: "Completed pipeline runs by outcome (ok or error kind) and intent.",
	}, []string{"outcome", "intent"})
	pipelineStageDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parseqri_pipeline_stage_duration_ms",
		Help:    "Pipeline stage latency in milliseconds.",
		Buckets: stageBucketsMs,
	}, []string{"stage", "outcome"})
	queryCacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parseqri_query_cache_lookups_total",
		Help: "Query cache lookups by result.",
	}, []string{"result"})
	inferenceAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parseqri_inference_attempts_total",
		Help: "Model inference attempts by outcome (ok, retry, failed).",
	}, []string{"outcome"})
	metadataUpsertRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parseqri_metadata_upsert_records_total",
		Help: "Metadata records written to the vector index.",
	})
	executedRowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parseqri_executed_rows_total",
		Help: "Rows returned by executed queries.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequestsInFlight,
		httpRequestsTotal,
		httpRequestDurationSeconds,
		pipelineRunsTotal,
		pipelineStageDurationMs,
		queryCacheLookupsTotal,
		inferenceAttemptsTotal,
		metadataUpsertRecordsTotal,
		executedRowsTotal,
	)
}

func ObservePipelineRun(outcome, intent string) {
	if intent == "" {
		intent = "unknown"
	}
	pipelineRunsTotal.WithLabelValues(outcome, intent).Inc()
}

func ObserveStage(stage, outcome string, elapsed time.Duration) {
	pipelineStageDurationMs.WithLabelValues(stage, outcome).Observe(float64(elapsed.Milliseconds()))
}

func ObserveCacheLookup(result string) {
	queryCacheLookupsTotal.WithLabelValues(result).Inc()
}

func ObserveInferenceAttempt(outcome string) {
	inferenceAttemptsTotal.WithLabelValues(outcome).Inc()
}

func ObserveMetadataUpsert(records int) {
	if records > 0 {
		metadataUpsertRecordsTotal.Add(float64(records))
	}
}

func ObserveExecutedRows(rows int) {
	if rows > 0 {
		executedRowsTotal.Add(float64(rows))
	}
}
