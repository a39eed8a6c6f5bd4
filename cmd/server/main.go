// PayGuard - transaction risk scoring and reconciliation
package main

import (
	"context"
	"os"
	"time"

	"github.com/mbd888/payguard/internal/config"
	"github.com/mbd888/payguard/internal/logging"
	"github.com/mbd888/payguard/internal/server"
	"github.com/mbd888/payguard/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured one is available
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting payguard",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"kafka", len(cfg.KafkaBrokers) > 0,
		"authority", cfg.AuthorityURL != "",
	)

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, traces.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     Version,
		SampleRatio: cfg.TraceSampleRatio,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
