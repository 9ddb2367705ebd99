package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(buildInfo, serviceStartTime) }

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scan_service_build_info",
			Help: "Constant 1, labeled with version, commit and Go runtime.",
		},
		[]string{"version", "commit", "go_version"},
	)

	serviceStartTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scan_service_start_time_seconds",
			Help: "Unix time the service started.",
		},
	)
)

func SetBuildInfo(version, commit string, startedUnix int64) {
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
	serviceStartTime.Set(float64(startedUnix))
}
