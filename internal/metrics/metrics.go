// Package metrics declares the prometheus instrumentation of the daemon.
// Repeated token or restore failures are otherwise only visible in logs;
// the counters give them a scrapeable surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by the outcome-labelled counters.
const (
	// OutcomeSuccess labels a successful operation.
	OutcomeSuccess = "success"
	// OutcomeFailure labels a failed operation.
	OutcomeFailure = "failure"
)

// Outcome values specific to sample cycles.
const (
	// CycleOutcomeOK labels a cycle that read and decided normally.
	CycleOutcomeOK = "ok"
	// CycleOutcomeNoData labels a cycle aborted by a sensor read failure.
	CycleOutcomeNoData = "no_data"
	// CycleOutcomeOutOfWindow labels a tick outside the daily active window.
	CycleOutcomeOutOfWindow = "out_of_window"
	// CycleOutcomeSkipped labels a tick dropped because the previous cycle still ran.
	CycleOutcomeSkipped = "skipped"
)

//nolint:gochecknoglobals // Prometheus collectors are registered once at init.
var (
	// TokenExchanges counts authorization-code exchanges per vendor and outcome.
	TokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "co2light",
		Subsystem: "oauth",
		Name:      "token_exchanges_total",
		Help:      "Authorization-code token exchanges by vendor and outcome.",
	}, []string{"vendor", "outcome"})

	// TokenRefreshes counts token refreshes per vendor and outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "co2light",
		Subsystem: "oauth",
		Name:      "token_refreshes_total",
		Help:      "Token refresh attempts by vendor and outcome.",
	}, []string{"vendor", "outcome"})

	// SampleCycles counts sample-decide-act cycles by outcome.
	SampleCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "co2light",
		Subsystem: "watcher",
		Name:      "sample_cycles_total",
		Help:      "Sample cycles by outcome.",
	}, []string{"outcome"})

	// AlertSequences counts executed alert sequences by level.
	AlertSequences = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "co2light",
		Subsystem: "actuator",
		Name:      "alert_sequences_total",
		Help:      "Executed alert sequences by level.",
	}, []string{"level"})

	// AlertSequencesDropped counts sequences dropped by the single-flight guard.
	AlertSequencesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "co2light",
		Subsystem: "actuator",
		Name:      "alert_sequences_dropped_total",
		Help:      "Alert sequences dropped because one was already in flight.",
	})

	// RestoreRetries counts baseline restore retries after a first failure.
	RestoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "co2light",
		Subsystem: "actuator",
		Name:      "restore_retries_total",
		Help:      "Baseline restore retries after a failed activation.",
	})

	// RestoreFailures counts alert sequences that ended without a restored baseline.
	RestoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "co2light",
		Subsystem: "actuator",
		Name:      "restore_failures_total",
		Help:      "Alert sequences that left the room in the alert color.",
	})
)
