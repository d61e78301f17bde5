package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all scheduler metrics
const namespace = "scheduler"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

// AppInfo is a gauge that exposes application version information as labels
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// Domain metrics

// UsersRegistered counts new account registrations
var UsersRegistered = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_registered_total",
		Help:      "Total number of user registrations",
	},
)

// UsersVerified counts completed email verifications
var UsersVerified = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_verified_total",
		Help:      "Total number of completed email verifications",
	},
)

// EventsCreated counts events created
var EventsCreated = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_created_total",
		Help:      "Total number of events created",
	},
)

// ParticipationAttempts counts join and withdraw attempts by outcome
var ParticipationAttempts = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "participation_attempts_total",
		Help:      "Total number of join/withdraw attempts",
	},
	[]string{"action", "result"}, // action: join|withdraw, result: ok|full|duplicate|not_participant|error
)

// TokensIssued counts verification tokens issued by purpose
var TokensIssued = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Total number of verification tokens issued",
	},
	[]string{"purpose"}, // purpose: email_verification|password_reset
)

// TokensConsumed counts token consumption attempts by purpose and outcome
var TokensConsumed = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_consumed_total",
		Help:      "Total number of token consumption attempts",
	},
	[]string{"purpose", "result"}, // result: ok|expired|consumed|not_found
)

// TokensDeleted tracks the total number of expired tokens deleted by the cleanup job
var TokensDeleted = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_deleted_total",
		Help:      "Total number of expired verification tokens deleted by cleanup job",
	},
)

// CleanupDuration tracks the duration of periodic cleanup jobs
var CleanupDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cleanup_duration_seconds",
		Help:      "Duration of periodic cleanup job execution in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	},
	[]string{"job"}, // job: token_cleanup|rate_limit_cleanup
)

// CleanupErrors tracks cleanup job failures
var CleanupErrors = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_errors_total",
		Help:      "Total number of cleanup job failures",
	},
	[]string{"job"},
)

// EmailsSent counts outbound emails by kind and outcome
var EmailsSent = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_sent_total",
		Help:      "Total number of outbound emails",
	},
	[]string{"kind", "result"}, // kind: verification|password_reset, result: success|error|skipped
)

// Init initializes the metrics registry and sets version information
func Init(version, commit, buildDate string) {
	// Register default Go metrics (memory, goroutines, GC, etc.)
	Registry.MustRegister(collectors.NewGoCollector())

	// Register process metrics (CPU, memory, file descriptors)
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Set application version info (value is always 1, info is in labels)
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
