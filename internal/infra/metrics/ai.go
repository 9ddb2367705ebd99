package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		extractionCallsTotal,
		extractionLatencyMs,
		extractionRetriesTotal,
	)
}

var (
	extractionCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_calls_total",
			Help: "Vision API calls per provider/model and outcome code.",
		},
		[]string{"provider", "model", "outcome"},
	)

	extractionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_latency_ms",
			Help:    "Vision API call latency distribution in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		},
		[]string{"provider", "model", "success"},
	)

	extractionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_retries_total",
			Help: "Retries scheduled by the extraction client, by error code.",
		},
		[]string{"code"},
	)
)

// ObserveExtraction records one single-attempt call. outcome is "ok" or the
// error code of the attempt.
func ObserveExtraction(provider, model, outcome string, latencyMs int64, success bool) {
	extractionCallsTotal.WithLabelValues(norm(provider), norm(model), norm(outcome)).Inc()
	extractionLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncExtractionRetry(code string) {
	extractionRetriesTotal.WithLabelValues(norm(code)).Inc()
}
