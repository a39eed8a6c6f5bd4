// PayGuard MCP Server - exposes transaction screening as MCP tools for LLMs
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/payguard/internal/mcpserver"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:      envOrDefault("PAYGUARD_API_URL", "http://localhost:8080"),
		AdminSecret: os.Getenv("PAYGUARD_ADMIN_SECRET"),
	}
	if v := os.Getenv("PAYGUARD_API_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "PAYGUARD_API_TIMEOUT: %v\n", err)
			os.Exit(1)
		}
		cfg.Timeout = d
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
