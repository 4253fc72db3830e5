package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"scoreforge/internal/model"
)

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scoreforge_queue_depth",
			Help: "Number of jobs waiting for a worker slot.",
		},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreforge_jobs_total",
			Help: "Total number of jobs by output format and terminal status.",
		},
		[]string{"output_format", "status"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(jobsTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, format := range model.OutputFormats(model.FormatMusicXML) {
		for _, status := range []string{model.StatusSucceeded, model.StatusFailed, model.StatusTimedOut, model.StatusCanceled} {
			jobsTotal.WithLabelValues(format, status)
		}
	}
}
