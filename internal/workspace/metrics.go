package workspace

import "github.com/prometheus/client_golang/prometheus"

var (
	activeWorkspaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scoreforge_active_workspaces",
			Help: "Number of currently allocated job workspaces.",
		},
	)

	releaseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scoreforge_workspace_release_failures_total",
			Help: "Total number of workspace removals that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(activeWorkspaces)
	prometheus.MustRegister(releaseFailures)
}
