package maintenance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of one catalogued file in an integrity run.
const (
	fileChecked      = "checked"
	fileMissing      = "missing"
	fileSizeMismatch = "size_mismatch"
	fileUnreadable   = "unreadable"
)

var (
	integrityRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parseqri_integrity_runs_total",
		Help: "Integrity check runs by status (completed, failed).",
	}, []string{"status"})
	integrityFilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parseqri_integrity_files_total",
		Help: "Catalogued data files seen by integrity runs, by outcome.",
	}, []string{"result"})
	integrityLastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parseqri_integrity_last_success_timestamp_seconds",
		Help: "Unix time of the last integrity run that found no issues.",
	})
	cacheRowsPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parseqri_query_cache_pruned_total",
		Help: "Expired query cache rows deleted by the maintenance worker.",
	})
)

func init() {
	prometheus.MustRegister(integrityRunsTotal, integrityFilesTotal, integrityLastSuccess, cacheRowsPrunedTotal)
}

func observeIntegrityRun(summary IntegritySummary, failed bool, now time.Time) {
	for result, n := range map[string]int{
		fileChecked:      summary.FilesChecked,
		fileMissing:      summary.MissingFiles,
		fileSizeMismatch: summary.SizeMismatchFiles,
		fileUnreadable:   summary.OperationalFailures,
	} {
		if n > 0 {
			integrityFilesTotal.WithLabelValues(result).Add(float64(n))
		}
	}
	if failed {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	integrityLastSuccess.Set(float64(now.Unix()))
}
