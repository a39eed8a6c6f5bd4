package reputation

import "github.com/prometheus/client_golang/prometheus"

var (
	reportsFiled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "reputation",
		Name:      "reports_total",
		Help:      "Scam reports filed, by origin.",
	}, []string{"origin"}) // report, feedback, admin

	cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "reputation",
		Name:      "cache_requests_total",
		Help:      "Reputation cache lookups by result.",
	}, []string{"result"})

	suspiciousReceivers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "payguard",
		Subsystem: "reputation",
		Name:      "suspicious_receivers",
		Help:      "Suspicious receivers among the most reported, as of the last refresh.",
	})
)

func init() {
	prometheus.MustRegister(reportsFiled, cacheRequests, suspiciousReceivers)
}
