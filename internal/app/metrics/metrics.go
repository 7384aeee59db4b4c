package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	entries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "engine",
			Name:      "entries_total",
			Help:      "Total number of accepted raffle entries.",
		},
	)

	entryRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "engine",
			Name:      "entry_rejections_total",
			Help:      "Total number of rejected raffle entries.",
		},
		[]string{"reason"},
	)

	upkeepChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "engine",
			Name:      "upkeep_checks_total",
			Help:      "Total number of upkeep eligibility checks.",
		},
		[]string{"eligible"},
	)

	upkeepsPerformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "engine",
			Name:      "upkeeps_performed_total",
			Help:      "Total number of upkeeps that requested a winner.",
		},
	)

	randomnessRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "vrf",
			Name:      "requests_total",
			Help:      "Total number of randomness requests issued.",
		},
	)

	randomnessFulfilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "vrf",
			Name:      "deliveries_total",
			Help:      "Total number of randomness deliveries attempted by the coordinator.",
		},
		[]string{"success"},
	)

	callbacksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "engine",
			Name:      "callbacks_rejected_total",
			Help:      "Total number of rejected randomness callbacks.",
		},
		[]string{"reason"},
	)

	winners = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "engine",
			Name:      "winners_total",
			Help:      "Total number of rounds resolved with a payout.",
		},
	)

	payoutAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "engine",
			Name:      "payout_amount_total",
			Help:      "Sum of all paid prizes in the smallest unit.",
		},
	)

	payoutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "engine",
			Name:      "payout_failures_total",
			Help:      "Total number of payouts that failed and were rolled back.",
		},
	)

	roundParticipants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle",
			Subsystem: "round",
			Name:      "participants",
			Help:      "Participants in the current round.",
		},
	)

	roundBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle",
			Subsystem: "round",
			Name:      "balance",
			Help:      "Balance held for the current round.",
		},
	)

	roundState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle",
			Subsystem: "round",
			Name:      "state",
			Help:      "Current raffle state (0=open, 1=calculating).",
		},
	)

	keeperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "keeper",
			Name:      "runs_total",
			Help:      "Total number of keeper ticks.",
		},
		[]string{"upkeep", "performed"},
	)

	keeperDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle",
			Subsystem: "keeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of keeper ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"upkeep"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		entries,
		entryRejections,
		upkeepChecks,
		upkeepsPerformed,
		randomnessRequests,
		randomnessFulfilled,
		callbacksRejected,
		winners,
		payoutAmount,
		payoutFailures,
		roundParticipants,
		roundBalance,
		roundState,
		keeperRuns,
		keeperDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// TrackInFlight increments the in-flight gauge and returns its release.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// RecordHTTPRequest records a served request under its route template.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEntry records an accepted entry.
func RecordEntry() {
	entries.Inc()
}

// RecordEntryRejected records a rejected entry by reason.
func RecordEntryRejected(reason string) {
	entryRejections.WithLabelValues(reason).Inc()
}

// RecordUpkeepCheck records the outcome of an eligibility check.
func RecordUpkeepCheck(eligible bool) {
	upkeepChecks.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}

// RecordUpkeepPerformed records a round moving to calculating.
func RecordUpkeepPerformed() {
	upkeepsPerformed.Inc()
	randomnessRequests.Inc()
}

// RecordRandomnessDelivery records a coordinator delivery attempt.
func RecordRandomnessDelivery(success bool) {
	randomnessFulfilled.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordCallbackRejected records a rejected randomness callback by reason.
func RecordCallbackRejected(reason string) {
	callbacksRejected.WithLabelValues(reason).Inc()
}

// RecordWinner records a settled round.
func RecordWinner(amount int64) {
	winners.Inc()
	if amount > 0 {
		payoutAmount.Add(float64(amount))
	}
}

// RecordPayoutFailure records a rolled-back payout.
func RecordPayoutFailure() {
	payoutFailures.Inc()
}

// SetRound publishes the current round gauges.
func SetRound(state int, participants int, balance int64) {
	roundState.Set(float64(state))
	roundParticipants.Set(float64(participants))
	roundBalance.Set(float64(balance))
}

// RecordKeeperRun records metrics for a keeper tick.
func RecordKeeperRun(upkeep string, duration time.Duration, performed bool) {
	if upkeep == "" {
		upkeep = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	keeperRuns.WithLabelValues(upkeep, strconv.FormatBool(performed)).Inc()
	keeperDuration.WithLabelValues(upkeep).Observe(duration.Seconds())
}
