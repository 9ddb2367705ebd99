package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(storeOpsTotal) }

var storeOpsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "job_store_ops_total",
		Help: "Job store operations by backend, operation and result.",
	},
	[]string{"backend", "op", "result"}, // e.g., backend="redis", op="get", result="miss"
)

func IncStoreOp(backend, op, result string) {
	storeOpsTotal.WithLabelValues(norm(backend), norm(op), norm(result)).Inc()
}
