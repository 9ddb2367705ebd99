package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(rateLimitDecisionsTotal, rateLimitFallbacksTotal) }

var (
	rateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limiter decisions by backend and outcome.",
		},
		[]string{"backend", "allowed"},
	)

	rateLimitFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_fallbacks_total",
			Help: "Requests answered by the in-process limiter because the durable store failed.",
		},
	)
)

func IncRateLimitDecision(backend string, allowed bool) {
	rateLimitDecisionsTotal.WithLabelValues(norm(backend), strconv.FormatBool(allowed)).Inc()
}

func IncRateLimitFallback() { rateLimitFallbacksTotal.Inc() }
