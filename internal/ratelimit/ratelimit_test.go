package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := New(cfg)
	l.now = clock.Now
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("test-ip"), "request %d should be allowed (within burst)", i)
	}
	assert.False(t, l.Allow("test-ip"), "request after burst should be denied")

	clock.Advance(time.Second) // 1 token at 60/min
	assert.True(t, l.Allow("test-ip"))
	assert.False(t, l.Allow("test-ip"))
}

func TestLimiterMultipleClients(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		l.Allow("client-a")
	}
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestLimiterBurstCap(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 600, BurstSize: 2})

	l.Allow("k")
	clock.Advance(time.Hour)
	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"), "idle time must not accumulate beyond the burst")
}

func TestLimiterRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 30, BurstSize: 1})

	ok, _ := l.take("k")
	require.True(t, ok)
	ok, wait := l.take("k")
	require.False(t, ok)
	assert.Equal(t, 2*time.Second, wait) // one token every 2s
}

func TestLimiterEvict(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})
	l.Allow("old")
	clock.Advance(5 * time.Minute)
	l.Allow("new")

	l.evict(clock.Now().Add(-2 * time.Minute))
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "old")
	assert.Contains(t, l.clients, "new")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/v1/receivers/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/receivers/a@upi", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)
	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.Contains(t, w.Body.String(), `"scope":"api"`)
}

func TestMiddleware_ScopedLimiterCountsSeparately(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reports, _ := newTestLimiter(t, Config{Scope: "reports", RequestsPerMinute: 10, BurstSize: 1})

	r := gin.New()
	r.POST("/v1/reports", reports.Middleware(), func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/v1/reports/top", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.2:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	before := testutil.ToFloat64(rejectedTotal.WithLabelValues("reports"))
	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "/v1/reports"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, "/v1/reports"))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/v1/reports/top"))
	assert.Equal(t, before+1, testutil.ToFloat64(rejectedTotal.WithLabelValues("reports")))
}

func TestNew_NormalizesConfig(t *testing.T) {
	l := New(Config{RequestsPerMinute: 10})
	defer l.Stop()
	assert.Equal(t, 1, l.cfg.BurstSize)
	assert.Equal(t, "api", l.cfg.Scope)
	assert.Equal(t, time.Minute, l.cfg.CleanupInterval)
	l.Stop() // idempotent
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}
