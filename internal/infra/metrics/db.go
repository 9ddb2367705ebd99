package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolStats, archiveWritesTotal) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	archiveWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_archive_writes_total",
			Help: "Scan outcome archive writes by result.",
		},
		[]string{"result"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func IncArchiveWrite(result string) {
	archiveWritesTotal.WithLabelValues(norm(result)).Inc()
}
