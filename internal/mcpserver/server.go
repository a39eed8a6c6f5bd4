package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all PayGuard tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("payguard", version)
	s.AddTools(serverTools(cfg)...)
	return s
}

// serverTools pairs each tool with its handler. flag_receiver is only
// offered when an admin secret is configured.
func serverTools(cfg Config) []server.ServerTool {
	h := NewHandlers(NewPayGuardClient(cfg))
	tools := []server.ServerTool{
		{Tool: ToolAnalyzeTransaction, Handler: h.HandleAnalyzeTransaction},
		{Tool: ToolCheckReceiver, Handler: h.HandleCheckReceiver},
		{Tool: ToolReportReceiver, Handler: h.HandleReportReceiver},
		{Tool: ToolListReported, Handler: h.HandleListReported},
	}
	if cfg.AdminSecret != "" {
		tools = append(tools, server.ServerTool{Tool: ToolFlagReceiver, Handler: h.HandleFlagReceiver})
	}
	return tools
}
