package authority

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "authority",
		Name:      "requests_total",
		Help:      "Authority score requests by outcome.",
	}, []string{"outcome"})

	requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "payguard",
		Subsystem: "authority",
		Name:      "request_duration_seconds",
		Help:      "Authority score latency including retries.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}
