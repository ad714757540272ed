package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// actionsTotal counts action outcomes by kind and result.
	actionsTotal *prometheus.CounterVec

	// runDuration tracks wall-clock time of full runs.
	runDuration prometheus.Histogram

	// metricsOnce ensures metrics are only registered once.
	metricsOnce sync.Once

	// metricsRegistered indicates if metrics have been registered.
	metricsRegistered bool
)

// InitMetrics initializes the Prometheus metrics for the engine. Call once
// at startup when metrics are wanted; the engine works without them.
func InitMetrics() {
	metricsOnce.Do(func() {
		actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "costguardian_actions_total",
			Help: "Total action outcomes by kind and result",
		}, []string{"kind", "result"})
		runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "costguardian_run_duration_seconds",
			Help:    "Wall-clock duration of full runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		})
		metricsRegistered = true
	})
}

// recordOutcome increments the action counter. Safe to call when metrics
// have not been initialized.
func recordOutcome(o ActionOutcome) {
	if metricsRegistered && actionsTotal != nil {
		actionsTotal.WithLabelValues(string(o.Kind), string(o.Result)).Inc()
	}
}

// observeRunDuration records a run's duration. Safe to call when metrics
// have not been initialized.
func observeRunDuration(d time.Duration) {
	if metricsRegistered && runDuration != nil {
		runDuration.Observe(d.Seconds())
	}
}
