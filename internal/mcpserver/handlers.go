package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/payguard/internal/reputation"
	"github.com/mbd888/payguard/internal/risk"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *PayGuardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *PayGuardClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeTransaction screens a payment.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	receiver := strings.TrimSpace(req.GetString("receiver", ""))
	if receiver == "" {
		return mcp.NewToolResultError("receiver is required"), nil
	}
	amount := req.GetFloat("amount", 0)
	if amount <= 0 {
		return mcp.NewToolResultError("amount must be positive"), nil
	}

	params := AnalyzeParams{
		Receiver: receiver,
		Amount:   amount,
		Note:     req.GetString("note", ""),
	}
	if ts := req.GetString("timestamp", ""); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("timestamp must be RFC 3339: %v", err)), nil
		}
		params.Timestamp = &t
	}
	params.TypingSpeedCPM = optionalInt(req, "typing_speed_cpm")
	params.HesitationCount = optionalInt(req, "hesitation_count")

	assessment, err := h.client.Analyze(ctx, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze transaction: %v", err)), nil
	}
	if assessment.Verdict == nil {
		return mcp.NewToolResultError("Failed to analyze transaction: response has no verdict"), nil
	}

	return mcp.NewToolResultText(formatAssessment(assessment)), nil
}

// HandleCheckReceiver reports a receiver's standing and recent screenings.
func (h *Handlers) HandleCheckReceiver(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	receiver := strings.TrimSpace(req.GetString("receiver", ""))
	if receiver == "" {
		return mcp.NewToolResultError("receiver is required"), nil
	}
	history := req.GetInt("history", 5)

	status, err := h.client.Receiver(ctx, receiver)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check receiver: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(formatStatus(status))

	if history > 0 {
		page, err := h.client.Verdicts(ctx, receiver, history)
		if err != nil {
			fmt.Fprintf(&sb, "\nRecent screenings unavailable: %v\n", err)
		} else {
			sb.WriteString(formatHistory(page.Assessments))
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleReportReceiver files a scam report.
func (h *Handlers) HandleReportReceiver(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	receiver := strings.TrimSpace(req.GetString("receiver", ""))
	if receiver == "" {
		return mcp.NewToolResultError("receiver is required"), nil
	}

	res, err := h.client.Report(ctx, receiver, req.GetString("reason", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to file report: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Report filed against %s.\n", receiver)
	if res.Record != nil {
		fmt.Fprintf(&sb, "Total reports: %d\n", res.Record.Count)
	}
	if res.Suspicious {
		sb.WriteString("The receiver is now treated as suspicious.")
	} else {
		sb.WriteString("The receiver is not yet treated as suspicious.")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListReported lists the most reported receivers.
func (h *Handlers) HandleListReported(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)

	top, err := h.client.Top(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list reported receivers: %v", err)), nil
	}
	if len(top.Receivers) == 0 {
		return mcp.NewToolResultText("No receivers have been reported."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d reported receiver(s) (suspicious at %d reports):\n\n", len(top.Receivers), top.Threshold)
	for i, rec := range top.Receivers {
		fmt.Fprintf(&sb, "%d. %s | %d report(s)", i+1, rec.ReceiverID, rec.Count)
		if rec.Flagged {
			sb.WriteString(" | flagged")
		}
		sb.WriteString("\n")
		if n := len(rec.Reasons); n > 0 {
			fmt.Fprintf(&sb, "   Latest: %s\n", rec.Reasons[n-1])
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleFlagReceiver adds a receiver to the runtime denylist.
func (h *Handlers) HandleFlagReceiver(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	receiver := strings.TrimSpace(req.GetString("receiver", ""))
	if receiver == "" {
		return mcp.NewToolResultError("receiver is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	if err := h.client.Flag(ctx, receiver, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to flag receiver: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s flagged.\nReason: %s", receiver, reason)), nil
}

// --- Formatting helpers ---

func optionalInt(req mcp.CallToolRequest, key string) *int {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetInt(key, 0)
	return &v
}

func formatAssessment(a *risk.RiskAssessment) string {
	v := a.Verdict
	var sb strings.Builder
	fmt.Fprintf(&sb, "Receiver: %s\n", a.ReceiverID)
	fmt.Fprintf(&sb, "Amount: %.2f\n", a.Amount)
	fmt.Fprintf(&sb, "Risk: %.1f (%s)\n", v.OverallScore, v.OverallLabel)
	fmt.Fprintf(&sb, "Decision: %s\n", strings.ToUpper(string(v.Decision)))

	rec := v.Reconciliation
	switch rec.Source {
	case risk.SourceExternal:
		fmt.Fprintf(&sb, "Score source: external authority (local %.1f)\n", v.LocalScore)
	default:
		sb.WriteString("Score source: local agents")
		if rec.Reason != "" {
			fmt.Fprintf(&sb, " (%s)", rec.Reason)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nFindings:\n")
	for _, f := range v.AgentFindings {
		fmt.Fprintf(&sb, "- %s: %d (%s) %s\n", f.Agent, f.RiskScore, f.Severity(), f.Message)
		for _, e := range f.Evidence {
			fmt.Fprintf(&sb, "    %s\n", e)
		}
	}
	fmt.Fprintf(&sb, "\nAssessment ID: %s", a.ID)
	return sb.String()
}

func formatStatus(s *reputation.Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Receiver: %s\n", s.ReceiverID)
	fmt.Fprintf(&sb, "Standing: %s\n", s.Standing)
	fmt.Fprintf(&sb, "Suspicious: %s\n", yesNo(s.Suspicious))
	if s.OnDenylist {
		sb.WriteString("On denylist: yes\n")
	}
	if r := s.Record; r != nil {
		fmt.Fprintf(&sb, "Reports: %d (suspicious at %d)\n", r.Count, s.Threshold)
		if !r.LastReported.IsZero() {
			fmt.Fprintf(&sb, "Last reported: %s\n", r.LastReported.UTC().Format(time.RFC3339))
		}
		if r.Flagged {
			fmt.Fprintf(&sb, "Flagged: %s\n", r.FlagReason)
		}
		for _, reason := range r.Reasons {
			fmt.Fprintf(&sb, "  - %s\n", reason)
		}
	} else {
		fmt.Fprintf(&sb, "Reports: 0 (suspicious at %d)\n", s.Threshold)
	}
	return sb.String()
}

func formatHistory(list []*risk.RiskAssessment) string {
	if len(list) == 0 {
		return "\nNo previous screenings.\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nRecent screenings (%d):\n", len(list))
	for _, a := range list {
		if a.Verdict == nil {
			continue
		}
		fmt.Fprintf(&sb, "  %s  %.2f  %.1f %s %s\n",
			a.CreatedAt.UTC().Format(time.RFC3339), a.Amount,
			a.Verdict.OverallScore, a.Verdict.OverallLabel, a.Verdict.Decision)
	}
	return sb.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
