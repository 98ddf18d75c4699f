package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translator_sessions_started_total",
		Help: "Total number of listening sessions successfully started",
	})

	sessionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translator_sessions_failed_total",
		Help: "Total number of start sequences that ended in a terminal error",
	}, []string{"category"})

	sessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "translator_session_active",
		Help: "Whether a listening session is currently active (0 or 1)",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "translator_session_duration_seconds",
		Help:    "Duration of listening sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	connectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translator_connection_attempts_total",
		Help: "Total negotiation attempts by outcome",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translator_connection_retries_total",
		Help: "Total retried negotiation attempts",
	})

	cooldownActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "translator_cooldown_active",
		Help: "Whether a start cooldown window is currently in effect (0 or 1)",
	})

	// Transcript metrics
	utterancesCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translator_utterances_committed_total",
		Help: "Finalized transcript lines by commit trigger",
	}, []string{"trigger"}) // trigger: "completed" or "gap_timeout"

	duplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translator_duplicate_completions_dropped_total",
		Help: "Completion events dropped because the utterance was already committed",
	})

	// Translation metrics
	translationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translator_translation_requests_total",
		Help: "Total translation requests",
	}, []string{"status"})

	translationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "translator_translation_latency_seconds",
		Help:    "Translation round-trip latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Usage ledger metrics
	billedSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translator_billed_seconds_total",
		Help: "Total seconds billed through job completion calls",
	})

	ledgerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translator_ledger_requests_total",
		Help: "Usage backend requests by operation and status",
	}, []string{"operation", "status"})
)

// RecordSessionStart marks a session as listening.
func RecordSessionStart() {
	sessionsStarted.Inc()
	sessionActive.Set(1)
}

// RecordSessionEnd marks the session inactive and observes its duration.
func RecordSessionEnd(startedAt time.Time) {
	sessionActive.Set(0)
	if !startedAt.IsZero() {
		sessionDuration.Observe(time.Since(startedAt).Seconds())
	}
}

// RecordSessionFailure counts a terminal start failure by error category.
func RecordSessionFailure(category string) {
	sessionActive.Set(0)
	sessionsFailed.WithLabelValues(category).Inc()
}

// RecordConnectionAttempt counts one negotiation attempt.
func RecordConnectionAttempt(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	connectionAttempts.WithLabelValues(outcome).Inc()
}

// RecordRetry counts one retried negotiation attempt.
func RecordRetry() {
	retriesTotal.Inc()
}

// SetCooldownActive flips the cooldown gauge.
func SetCooldownActive(active bool) {
	if active {
		cooldownActive.Set(1)
	} else {
		cooldownActive.Set(0)
	}
}

// RecordCommit counts a finalized transcript line.
func RecordCommit(trigger string) {
	utterancesCommitted.WithLabelValues(trigger).Inc()
}

// RecordDuplicateDropped counts a suppressed duplicate completion.
func RecordDuplicateDropped() {
	duplicatesDropped.Inc()
}

// RecordTranslation counts one translation call and its latency.
func RecordTranslation(status string, elapsed time.Duration) {
	translationRequests.WithLabelValues(status).Inc()
	translationLatency.Observe(elapsed.Seconds())
}

// RecordBilledSeconds adds to the billed-seconds counter.
func RecordBilledSeconds(seconds int) {
	if seconds > 0 {
		billedSeconds.Add(float64(seconds))
	}
}

// RecordLedgerRequest counts a usage backend call by outcome.
func RecordLedgerRequest(operation, status string) {
	ledgerRequests.WithLabelValues(operation, status).Inc()
}
