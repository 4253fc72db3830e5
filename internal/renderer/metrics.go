package renderer

import "github.com/prometheus/client_golang/prometheus"

var (
	renderSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scoreforge_render_seconds",
			Help:    "Wall-clock duration of one engine invocation, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreforge_renders_total",
			Help: "Total engine invocations by raw outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(renderSeconds)
	prometheus.MustRegister(rendersTotal)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, kind := range []OutcomeKind{OutcomeCompleted, OutcomeTimedOut, OutcomeSpawnFailed} {
		rendersTotal.WithLabelValues(kind.String())
	}
}
