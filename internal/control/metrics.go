package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sheetmail/internal/dispatch"
)

var (
	// outcomesTotal counts per-recipient outcomes.
	// Labels:
	// - outcome: sent | rejected | auth_failure
	// - cause:   personalization | invalid_address | transient | permanent | none
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sheetmail",
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Per-recipient dispatch outcomes.",
		},
		[]string{"outcome", "cause"},
	)

	// runsTotal counts finished runs.
	// Labels:
	// - state:  completed | failed
	// - reason: auth | cancelled | panic | none
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sheetmail",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Finished dispatch runs.",
		},
		[]string{"state", "reason"},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sheetmail",
			Subsystem: "dispatch",
			Name:      "active_runs",
			Help:      "Runs currently in progress.",
		},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sheetmail",
			Subsystem: "dispatch",
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		},
	)
)

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// MetricsHooks records run lifecycle events as Prometheus metrics.
func MetricsHooks() dispatch.Hooks {
	return dispatch.Hooks{
		OnStart: func(dispatch.Status) { activeRuns.Inc() },
		OnOutcome: func(_, _ string, o dispatch.Outcome) {
			cause := string(o.Cause)
			if o.Kind == dispatch.OutcomeAuthFailure {
				cause = ""
			}
			outcomesTotal.WithLabelValues(string(o.Kind), orNone(cause)).Inc()
		},
		OnFinish: func(st dispatch.Status) {
			activeRuns.Dec()
			runsTotal.WithLabelValues(string(st.State), orNone(string(st.Reason))).Inc()
			if !st.StartedAt.IsZero() && !st.FinishedAt.IsZero() {
				runDurationSeconds.Observe(st.FinishedAt.Sub(st.StartedAt).Seconds())
			}
		},
	}
}
