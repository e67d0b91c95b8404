package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quiz_proctor"

var (
	// FlagsTotal counts integrity events by kind.
	FlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "proctoring",
		Name:      "flags_total",
		Help:      "Integrity events recorded, by kind",
	}, []string{"kind"})

	// TerminationsTotal counts completed sessions by termination reason.
	TerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "terminations_total",
		Help:      "Sessions completed, by termination reason",
	}, []string{"reason"})

	SyncReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "replayed_total",
		Help:      "Buffered answers replayed into the persistence sink",
	})

	SyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "failures_total",
		Help:      "Session drains that failed and were kept for retry",
	})

	ActivityLogFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "proctoring",
		Name:      "activity_log_failures_total",
		Help:      "Activity log writes that failed and were queued for retry",
	})
)
