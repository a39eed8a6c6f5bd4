// Package authority fetches risk scores from the external scoring authority.
//
// The authority's score is only ever a second opinion: any failure, timeout
// or malformed reply yields an absent score and the local verdict stands.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/payguard/internal/circuitbreaker"
	"github.com/mbd888/payguard/internal/retry"
	"github.com/mbd888/payguard/internal/risk"
	"github.com/mbd888/payguard/internal/traces"
)

// ErrUnavailable is returned when the authority cannot produce a score.
var ErrUnavailable = errors.New("authority unavailable")

// errRejected marks a 4xx reply. It says nothing about the authority's
// health, so it never trips the breaker.
var errRejected = errors.New("authority rejected request")

// maxResponseSize bounds the reply body that is read.
const maxResponseSize = 1 << 20

// Client calls POST {baseURL}/analyze.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	retry   retry.Policy
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithRetry replaces the default retry policy.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates an authority client. timeout bounds each attempt.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New("authority", BreakerConfig()),
		retry:   retry.Policy{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerConfig is the default breaker tuning for the authority.
func BreakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, errRejected)
	}
	return cfg
}

// Check reports whether the authority is currently being called. It fails
// while the circuit is open.
func (c *Client) Check(ctx context.Context) error {
	return c.breaker.Check(ctx)
}

// analyzeRequest is the authority's wire format.
type analyzeRequest struct {
	Receiver        string  `json:"receiver"`
	Amount          float64 `json:"amount"`
	Reason          string  `json:"reason,omitempty"`
	Time            string  `json:"time,omitempty"`
	TypingSpeed     *int    `json:"typing_speed,omitempty"`
	HesitationCount *int    `json:"hesitation_count,omitempty"`
}

type analyzeResponse struct {
	OverallRisk json.RawMessage `json:"overallRisk"`
}

// Score asks the authority for its opinion of req. On error the returned
// score is absent.
func (c *Client) Score(ctx context.Context, req risk.TransactionRequest) (_ risk.ExternalScore, retErr error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "authority.Score", traces.ReceiverID(req.ReceiverID))
	defer func() {
		outcome := "ok"
		if retErr != nil {
			outcome = "error"
			if errors.Is(retErr, circuitbreaker.ErrOpen) {
				outcome = "circuit_open"
			}
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		requestsTotal.WithLabelValues(outcome).Inc()
		requestDuration.Observe(time.Since(start).Seconds())
		span.End()
	}()

	body := analyzeRequest{
		Receiver:        req.ReceiverID,
		Amount:          req.Amount,
		Reason:          req.Note,
		TypingSpeed:     req.TypingSpeedCPM,
		HesitationCount: req.HesitationCount,
	}
	if !req.Timestamp.IsZero() {
		body.Time = req.Timestamp.Format(time.RFC3339)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return risk.NoExternalScore(), fmt.Errorf("marshal authority request: %w", err)
	}

	var score risk.ExternalScore
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
			s, err := c.post(ctx, payload)
			if err != nil {
				c.logger.DebugContext(ctx, "authority attempt failed", "attempt", attempt+1, "error", err)
				return err
			}
			score = s
			return nil
		})
	})
	if err != nil {
		return risk.NoExternalScore(), fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return score, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (risk.ExternalScore, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return risk.NoExternalScore(), retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return risk.NoExternalScore(), err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return risk.NoExternalScore(), err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		err := fmt.Errorf("authority returned %d", resp.StatusCode)
		if wait, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			return risk.NoExternalScore(), retry.After(err, wait)
		}
		return risk.NoExternalScore(), err
	case resp.StatusCode >= 500:
		return risk.NoExternalScore(), fmt.Errorf("authority returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return risk.NoExternalScore(), retry.Permanent(fmt.Errorf("%w: %d", errRejected, resp.StatusCode))
	}

	var out analyzeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return risk.NoExternalScore(), retry.Permanent(fmt.Errorf("decode authority response: %w", err))
	}
	return risk.ParseExternalScore(out.OverallRisk), nil
}

// retryAfter parses the delay-seconds form of Retry-After.
func retryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
