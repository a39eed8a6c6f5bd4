// Package ratelimit provides per-client token bucket rate limiting for the
// PayGuard API.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "payguard",
	Subsystem: "ratelimit",
	Name:      "rejected_total",
	Help:      "Requests rejected by the rate limiter, by limiter scope.",
}, []string{"scope"})

func init() {
	prometheus.MustRegister(rejectedTotal)
}

// Config configures rate limiting
type Config struct {
	// Scope names the limiter in metrics and responses. Defaults to "api".
	Scope string
	// RequestsPerMinute is the max requests per client per minute
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Scope:             "api",
		RequestsPerMinute: 60, // 1 req/sec average
		BurstSize:         10, // Allow bursts of 10
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*clientState
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a new rate limiter
func New(cfg Config) *Limiter {
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Scope == "" {
		cfg.Scope = "api"
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes stale entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evict(l.now().Add(-2 * time.Minute))
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evict(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, state := range l.clients {
		if state.lastCheck.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow checks if a request should be allowed
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.take(key)
	return ok
}

// take consumes a token for key. When none is available it returns how long
// until one will be.
func (l *Limiter) take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, exists := l.clients[key]
	if !exists {
		l.clients[key] = &clientState{
			tokens:    float64(l.cfg.BurstSize - 1),
			lastCheck: now,
		}
		return true, 0
	}

	// Token bucket algorithm
	tokensPerSecond := float64(l.cfg.RequestsPerMinute) / 60.0
	state.tokens += now.Sub(state.lastCheck).Seconds() * tokensPerSecond
	if state.tokens > float64(l.cfg.BurstSize) {
		state.tokens = float64(l.cfg.BurstSize)
	}
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true, 0
	}
	if tokensPerSecond <= 0 {
		return false, time.Minute
	}
	wait := (1 - state.tokens) / tokensPerSecond
	return false, time.Duration(wait * float64(time.Second))
}

// Middleware returns a Gin middleware that rate limits by client IP
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.take(c.ClientIP())
		if !ok {
			rejectedTotal.WithLabelValues(l.cfg.Scope).Inc()
			retryAfter := int(math.Ceil(wait.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"scope":       l.cfg.Scope,
				"message":     "Too many requests. Please slow down.",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
