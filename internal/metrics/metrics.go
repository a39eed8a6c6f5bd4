// Package metrics holds PayGuard's HTTP and storage-pool instrumentation.
// Domain metrics live next to the code that records them (risk, reputation,
// authority, events).
package metrics

import (
	"database/sql"
	"errors"
	"runtime"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const namespace = "payguard"

var (
	// HTTPRequestsTotal counts requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route template and status class.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .15, .25, .5, 1, 2.5},
	}, []string{"method", "path"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Always 1; labels carry the running version.",
	}, []string{"version", "go_version"})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration, buildInfo)
}

// SetBuildInfo records the running version.
func SetBuildInfo(version string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// Track registers a collector with the default registry and returns a
// function that unregisters it. Registering an equal collector twice
// replaces the earlier one.
func Track(c prometheus.Collector) (untrack func(), err error) {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		prometheus.Unregister(are.ExistingCollector)
		if err := prometheus.Register(c); err != nil {
			return nil, err
		}
	}
	return func() { prometheus.Unregister(c) }, nil
}

// DBCollector reports the Postgres pool, sampled at scrape time.
func DBCollector(db *sql.DB) prometheus.Collector {
	return collectors.NewDBStatsCollector(db, namespace)
}

// PoolStatser is satisfied by *redis.Client.
type PoolStatser interface {
	PoolStats() *redis.PoolStats
}

type redisPoolCollector struct {
	client   PoolStatser
	conns    *prometheus.Desc
	hits     *prometheus.Desc
	misses   *prometheus.Desc
	timeouts *prometheus.Desc
}

// RedisCollector reports the reputation cache's connection pool, sampled at
// scrape time.
func RedisCollector(client PoolStatser) prometheus.Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "redis_pool", name), help, labels, nil)
	}
	return &redisPoolCollector{
		client:   client,
		conns:    desc("connections", "Pool connections by state.", "state"),
		hits:     desc("hits_total", "Times a free connection was found in the pool."),
		misses:   desc("misses_total", "Times a free connection was not found in the pool."),
		timeouts: desc("timeouts_total", "Times a connection could not be obtained in time."),
	}
}

func (c *redisPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.hits
	ch <- c.misses
	ch <- c.timeouts
}

func (c *redisPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.client.PoolStats()
	if s == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.TotalConns), "total")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.IdleConns), "idle")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.StaleConns), "stale")
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts))
}

// Middleware records request count and latency by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusClass maps 404 to "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
