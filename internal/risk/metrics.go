package risk

import "github.com/prometheus/client_golang/prometheus"

var (
	evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "risk",
		Name:      "evaluations_total",
		Help:      "Screened transactions by resulting label.",
	}, []string{"label"})

	reconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "risk",
		Name:      "reconciliations_total",
		Help:      "Reconciliation outcomes by chosen source and reason.",
	}, []string{"source", "reason"})

	boostsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "risk",
		Name:      "boosts_total",
		Help:      "Corroboration boosts applied to the aggregate.",
	}, []string{"kind"})

	screenDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "payguard",
		Subsystem: "risk",
		Name:      "screen_duration_seconds",
		Help:      "End-to-end screening latency including collaborators.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	collaboratorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "risk",
		Name:      "collaborator_errors_total",
		Help:      "Degraded screenings by failing collaborator.",
	}, []string{"collaborator"})
)

func init() {
	prometheus.MustRegister(
		evaluationsTotal,
		reconciliationsTotal,
		boostsTotal,
		screenDuration,
		collaboratorErrors,
	)
}

func observeVerdict(v *RiskVerdict) {
	evaluationsTotal.WithLabelValues(string(v.OverallLabel)).Inc()
	reconciliationsTotal.WithLabelValues(string(v.Reconciliation.Source), v.Reconciliation.Reason).Inc()
	switch v.Aggregation.Boost {
	case boostCorroborated:
		boostsTotal.WithLabelValues("corroborated").Inc()
	case boostBorderline:
		boostsTotal.WithLabelValues("borderline").Inc()
	}
}
