package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/payguard/internal/reputation"
	"github.com/mbd888/payguard/internal/risk"
)

// Config holds the configuration for connecting to the PayGuard API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Optional; enables flag_receiver
	Timeout     time.Duration
}

// PayGuardClient is a pure HTTP client for the PayGuard API.
type PayGuardClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewPayGuardClient creates a new client for the PayGuard API.
func NewPayGuardClient(cfg Config) *PayGuardClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &PayGuardClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and decodes the response into out.
func (c *PayGuardClient) doRequest(ctx context.Context, method, path string, query url.Values, body, out any, headers map[string]string) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AnalyzeParams is the subset of POST /v1/analyze the tools send.
type AnalyzeParams struct {
	Receiver        string     `json:"receiver"`
	Amount          float64    `json:"amount"`
	Note            string     `json:"note,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	TypingSpeedCPM  *int       `json:"typingSpeedCpm,omitempty"`
	HesitationCount *int       `json:"hesitationCount,omitempty"`
}

// Analyze screens a transaction.
func (c *PayGuardClient) Analyze(ctx context.Context, p AnalyzeParams) (*risk.RiskAssessment, error) {
	var out risk.RiskAssessment
	if err := c.doRequest(ctx, http.MethodPost, "/v1/analyze", nil, p, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Receiver returns the receiver's reputation standing.
func (c *PayGuardClient) Receiver(ctx context.Context, receiverID string) (*reputation.Status, error) {
	var out reputation.Status
	path := "/v1/receivers/" + url.PathEscape(receiverID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerdictPage is one page of a receiver's screening history.
type VerdictPage struct {
	Assessments []*risk.RiskAssessment `json:"assessments"`
	NextCursor  string                 `json:"nextCursor"`
	HasMore     bool                   `json:"hasMore"`
}

// Verdicts lists the receiver's most recent assessments.
func (c *PayGuardClient) Verdicts(ctx context.Context, receiverID string, limit int) (*VerdictPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out VerdictPage
	path := "/v1/receivers/" + url.PathEscape(receiverID) + "/verdicts"
	if err := c.doRequest(ctx, http.MethodGet, path, q, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportResult is the API's answer to a scam report.
type ReportResult struct {
	Record     *reputation.Record `json:"record"`
	Suspicious bool               `json:"suspicious"`
}

// Report files a community scam report.
func (c *PayGuardClient) Report(ctx context.Context, receiverID, reason string) (*ReportResult, error) {
	body := map[string]string{"receiver": receiverID, "reason": reason}
	var out ReportResult
	if err := c.doRequest(ctx, http.MethodPost, "/v1/reports", nil, body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// TopReported is the most reported receivers.
type TopReported struct {
	Receivers []*reputation.Record `json:"receivers"`
	Threshold int                  `json:"threshold"`
}

// Top lists the most reported receivers.
func (c *PayGuardClient) Top(ctx context.Context, limit int) (*TopReported, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out TopReported
	if err := c.doRequest(ctx, http.MethodGet, "/v1/reports/top", q, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Flag adds a receiver to the runtime denylist. Requires AdminSecret.
func (c *PayGuardClient) Flag(ctx context.Context, receiverID, reason string) error {
	if c.cfg.AdminSecret == "" {
		return fmt.Errorf("admin secret not configured")
	}
	body := map[string]string{"receiver": receiverID, "reason": reason}
	headers := map[string]string{"X-Admin-Secret": c.cfg.AdminSecret}
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/denylist", nil, body, nil, headers)
}
