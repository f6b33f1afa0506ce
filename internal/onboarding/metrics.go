package onboarding

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_transitions_total",
		Help: "Count of onboarding transitions by operation and result",
	}, []string{"operation", "result"})

	transitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "onboarding_transition_duration_seconds",
		Help:    "Duration of onboarding transitions including store round trips",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	sideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_side_effect_failures_total",
		Help: "Count of best-effort side effects that failed",
	}, []string{"kind"})

	completionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_completions_total",
		Help: "Count of companies that reached the terminal onboarding step",
	})

	guardRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_guard_rejections_total",
		Help: "Count of orchestrator actions rejected because a transition was in flight",
	})
)

// observeTransition records the outcome of a Transition Service operation
func observeTransition(operation string, started time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	transitionsTotal.WithLabelValues(operation, result).Inc()
	transitionDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func observeSideEffectFailure(kind string) {
	sideEffectFailures.WithLabelValues(kind).Inc()
}
