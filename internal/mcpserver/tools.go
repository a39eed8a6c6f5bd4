package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the PayGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	mcp.WithDescription(
		"Screen a payment before it is sent. Returns a risk score from 0 to 100, "+
			"a label (low/medium/high), a decision (allow/warn/block) and the findings "+
			"of each risk agent. Call this before paying an unfamiliar receiver."),
	mcp.WithString("receiver",
		mcp.Required(),
		mcp.Description("Receiver payment address, e.g. 'shop@okaxis'")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Payment amount in rupees. Must be positive.")),
	mcp.WithString("note",
		mcp.Description("Free-text reason or message attached to the payment")),
	mcp.WithString("timestamp",
		mcp.Description("RFC 3339 time of the payment. Defaults to now.")),
	mcp.WithNumber("typing_speed_cpm",
		mcp.Description("Typing speed while entering the payment, in characters per minute")),
	mcp.WithNumber("hesitation_count",
		mcp.Description("Number of pauses longer than two seconds while typing")),
)

var ToolCheckReceiver = mcp.NewTool("check_receiver",
	mcp.WithDescription(
		"Look up a receiver's standing: whether it is on the denylist, how many scam "+
			"reports it has and whether those make it suspicious. Also lists recent screenings."),
	mcp.WithString("receiver",
		mcp.Required(),
		mcp.Description("Receiver payment address, e.g. 'shop@okaxis'")),
	mcp.WithNumber("history",
		mcp.Description("How many recent screenings to include (default 5, 0 for none)")),
)

var ToolReportReceiver = mcp.NewTool("report_receiver",
	mcp.WithDescription(
		"File a community scam report against a receiver. Receivers with enough reports "+
			"are treated as suspicious in later screenings."),
	mcp.WithString("receiver",
		mcp.Required(),
		mcp.Description("Receiver payment address being reported")),
	mcp.WithString("reason",
		mcp.Description("What happened, e.g. 'asked for OTP over phone'")),
)

var ToolListReported = mcp.NewTool("list_reported",
	mcp.WithDescription(
		"List the most reported receivers, most reports first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of receivers to return (default 10)")),
)

var ToolFlagReceiver = mcp.NewTool("flag_receiver",
	mcp.WithDescription(
		"Operator only. Add a receiver to the runtime denylist so every screening treats it as suspicious."),
	mcp.WithString("receiver",
		mcp.Required(),
		mcp.Description("Receiver payment address to flag")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Why the receiver is being flagged")),
)
