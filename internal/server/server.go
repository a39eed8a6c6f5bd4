// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/payguard/internal/auth"
	"github.com/mbd888/payguard/internal/authority"
	"github.com/mbd888/payguard/internal/config"
	"github.com/mbd888/payguard/internal/events"
	"github.com/mbd888/payguard/internal/health"
	"github.com/mbd888/payguard/internal/idgen"
	"github.com/mbd888/payguard/internal/logging"
	"github.com/mbd888/payguard/internal/metrics"
	"github.com/mbd888/payguard/internal/ratelimit"
	"github.com/mbd888/payguard/internal/reputation"
	"github.com/mbd888/payguard/internal/risk"
	"github.com/mbd888/payguard/internal/security"
	"github.com/mbd888/payguard/internal/traces"
	"github.com/mbd888/payguard/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// reportBurst lets a client file a few reports back to back.
const reportBurst = 3

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg              *config.Config
	version          string
	db               *sql.DB       // nil if using in-memory
	redis            *redis.Client // nil when REDIS_URL is unset
	reputation       *reputation.Service
	reputationCache  *reputation.CachedStore
	reputationWorker *reputation.Worker
	risk             *risk.Service
	publisher        events.Publisher
	kafka            *events.KafkaPublisher
	rateLimiter      *ratelimit.Limiter
	reportLimiter    *ratelimit.Limiter // nil when REPORT_RATE_LIMIT_RPM is 0
	health           *health.Registry
	router           *gin.Engine
	httpSrv          *http.Server
	logger           *slog.Logger
	drainDelay       time.Duration
	cancelRunCtx     context.CancelFunc // cancels background goroutines started in Run
	untrack          []func()

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health and build info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithPublisher replaces the verdict event publisher (for testing)
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		reputationStore reputation.Store
		riskStore       risk.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		reputationStore = reputation.NewPostgresStore(db)
		riskStore = risk.NewPostgresStore(db)
		s.health.Register("database", health.Ping("database", db.PingContext))
		s.track(metrics.DBCollector(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		reputationStore = reputation.NewMemoryStore()
		riskStore = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Reputation cache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.closeStorage()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opt)
		s.reputationCache = reputation.NewCachedStore(reputationStore, s.redis, cfg.RedisCacheTTL, s.logger)
		reputationStore = s.reputationCache
		s.health.RegisterOptional("redis", health.Ping("redis", s.reputationCache.Ping))
		s.track(metrics.RedisCollector(s.redis))
		s.logger.Info("reputation cache enabled", "ttl", cfg.RedisCacheTTL)
	}

	denylist := append(risk.DefaultDenylist(), cfg.ExtraDenylist...)
	s.reputation = reputation.NewService(reputationStore, denylist, cfg.ReportThreshold, s.logger)
	var primer reputation.Primer
	if s.reputationCache != nil {
		primer = s.reputationCache
	}
	s.reputationWorker = reputation.NewWorker(s.reputation, primer, cfg.ReputationRefreshInterval, s.logger)

	// Risk engine
	policy := risk.DefaultPolicy()
	policy.HighAmountThreshold = cfg.HighAmountThreshold
	policy.Denylist = denylist
	policy.Location = cfg.Location()
	policy.Reconcile.Sentinels = cfg.SuspectSentinels
	engine := risk.NewEngine(policy)

	s.risk = risk.NewService(engine, riskStore, s.logger).
		WithReputation(reputationLookup{svc: s.reputation})

	if cfg.AuthorityURL != "" {
		ac := authority.New(cfg.AuthorityURL, cfg.AuthorityTimeout, authority.WithLogger(s.logger))
		s.risk = s.risk.WithAuthority(ac)
		s.health.RegisterOptional("authority", health.Ping("authority", ac.Check))
		s.logger.Info("external risk authority enabled", "url", cfg.AuthorityURL)
	}

	// Verdict events
	if s.publisher == nil {
		if len(cfg.KafkaBrokers) > 0 {
			kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, s.logger)
			if err != nil {
				s.closeStorage()
				return nil, err
			}
			s.kafka = kp
			s.publisher = kp
			s.health.RegisterOptional("kafka", health.Ping("kafka", kp.Ping))
			s.logger.Info("verdict events enabled", "topic", cfg.KafkaTopic)
		} else {
			s.publisher = events.NopPublisher{}
		}
	}
	s.risk = s.risk.WithPublisher(s.publisher)

	metrics.SetBuildInfo(s.version)

	// Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).ErrorContext(c.Request.Context(), "panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.Headers(s.cfg.IsProduction()))
	s.router.Use(security.NewCORS(s.cfg.CORSOrigins).Middleware())

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.Request()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		ctx := c.Request.Context()
		logger := logging.L(ctx)

		// Log level based on status code
		switch {
		case status >= 500:
			logger.ErrorContext(ctx, "request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.WarnContext(ctx, "request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.InfoContext(ctx, "request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.GET("/info", s.infoHandler)

	risk.NewHandler(s.risk).RegisterRoutes(v1)

	var reportGuards []gin.HandlerFunc
	if s.cfg.ReportRateLimitRPM > 0 {
		s.reportLimiter = ratelimit.New(ratelimit.Config{
			Scope:             "reports",
			RequestsPerMinute: s.cfg.ReportRateLimitRPM,
			BurstSize:         reportBurst,
		})
		reportGuards = append(reportGuards, s.reportLimiter.Middleware())
	}
	reputationHandler := reputation.NewHandler(s.reputation)
	reputationHandler.RegisterRoutes(v1, reportGuards...)

	admin := v1.Group("/admin", auth.RequireAdmin(s.cfg.AdminSecret))
	reputationHandler.RegisterAdminRoutes(admin)
}

// HealthResponse is the response for health checks
type HealthResponse struct {
	Status    health.Overall  `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	rep := s.health.Run(c.Request.Context())

	httpStatus := http.StatusOK
	if rep.Overall == health.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:    rep.Overall,
		Version:   s.version,
		Checks:    rep.Checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if rep := s.health.Critical(c.Request.Context()); rep.Overall == health.Unhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": rep.Checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	policy := s.risk.Engine().Policy()
	c.JSON(http.StatusOK, gin.H{
		"name":                "PayGuard",
		"description":         "Transaction risk scoring and reconciliation",
		"version":             s.version,
		"storage":             s.storageKind(),
		"authority":           s.cfg.AuthorityURL != "",
		"events":              s.kafka != nil,
		"highAmountThreshold": policy.HighAmountThreshold,
		"reportThreshold":     s.reputation.Threshold(),
	})
}

func (s *Server) storageKind() string {
	if s.db != nil {
		return "postgres"
	}
	return "memory"
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"storage", s.storageKind(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.reputationWorker.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (worker, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.reputationWorker != nil {
		s.reputationWorker.Stop()
		s.logger.Info("reputation worker stopped")
	}

	// Stop rate limiter cleanup goroutines
	for _, l := range []*ratelimit.Limiter{s.rateLimiter, s.reportLimiter} {
		if l != nil {
			l.Stop()
		}
	}

	if s.kafka != nil {
		s.kafka.Close()
		s.logger.Info("event publisher closed")
	}

	s.closeStorage()

	s.logger.Info("server stopped")
	return nil
}

// track registers a pool collector for the lifetime of the server.
func (s *Server) track(c prometheus.Collector) {
	untrack, err := metrics.Track(c)
	if err != nil {
		s.logger.Warn("pool metrics unavailable", "error", err)
		return
	}
	s.untrack = append(s.untrack, untrack)
}

func (s *Server) closeStorage() {
	for _, untrack := range s.untrack {
		untrack()
	}
	s.untrack = nil
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// reputationLookup adapts reputation.Service to risk.ReputationLookup
type reputationLookup struct {
	svc *reputation.Service
}

func (a reputationLookup) Lookup(ctx context.Context, receiverID string) (risk.ReputationSource, error) {
	v, err := a.svc.Lookup(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	return v, nil
}
