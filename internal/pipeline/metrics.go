package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moran_analysis_runs_total",
			Help: "Total number of analysis pipeline runs by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "moran_analysis_run_duration_seconds",
			Help: "End-to-end analysis pipeline duration in seconds.",
			// Engine runs range from seconds to the hour-scale MGWR ceiling.
			Buckets: prometheus.ExponentialBuckets(1, 2, 13),
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
}
