package results

import "github.com/prometheus/client_golang/prometheus"

var storedResults = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "scoreforge_stored_results",
		Help: "Number of results currently held in the in-memory store.",
	},
)

func init() {
	prometheus.MustRegister(storedResults)
}
