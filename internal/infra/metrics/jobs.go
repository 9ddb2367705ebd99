package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(scanJobsCreatedTotal, scanJobsFinishedTotal, scanJobsRemovedTotal, scanJobDurationSeconds)
}

var (
	scanJobsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scan_jobs_created_total",
			Help: "Total number of accepted scan uploads.",
		},
	)

	scanJobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_finished_total",
			Help: "Scan jobs that reached a terminal state, labeled by status and error code.",
		},
		[]string{"status", "code"}, // 'scanned'|'failed', code '' on success
	)

	scanJobsRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_removed_total",
			Help: "Scan jobs dropped from the store, labeled by reason.",
		},
		[]string{"reason"}, // 'evicted', 'expired'
	)

	scanJobDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scan_job_duration_seconds",
			Help:    "Time from upload to terminal state.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)
)

func IncScanJobCreated() { scanJobsCreatedTotal.Inc() }

func ObserveScanJobFinished(status, code string, seconds float64) {
	scanJobsFinishedTotal.WithLabelValues(norm(status), norm(code)).Inc()
	scanJobDurationSeconds.Observe(seconds)
}

func AddScanJobsRemoved(reason string, n int) {
	if n <= 0 {
		return
	}
	scanJobsRemovedTotal.WithLabelValues(norm(reason)).Add(float64(n))
}
