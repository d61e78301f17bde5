package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rate limiter metrics
var (
	// RateLimitDecisions counts limiter decisions by outcome
	RateLimitDecisions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Total number of rate limiter decisions",
		},
		[]string{"outcome"}, // outcome: allowed|blocked|fail_open|fail_closed
	)

	// RateLimitStoreErrors counts counter store failures
	RateLimitStoreErrors = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_store_errors_total",
			Help:      "Total number of rate limit counter store failures",
		},
	)

	// RateLimitCountersDeleted tracks stale counter rows removed by cleanup
	RateLimitCountersDeleted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_counters_deleted_total",
			Help:      "Total number of stale rate limit counters deleted by cleanup job",
		},
	)
)
