package risk

import (
	"strings"
	"time"
)

// Clock supplies wall-clock time. Inject a FixedClock in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// ReputationSource answers whether a receiver is known to be suspicious.
// Lookups are case-insensitive.
type ReputationSource interface {
	IsSuspicious(identifier string) bool
}

// ReportHistory is optionally implemented by a ReputationSource that knows
// how often, and why, a receiver was reported.
type ReportHistory interface {
	Reports(identifier string) (count int, lastReported time.Time, reasons []string)
}

// Signals are the features the agents score.
type Signals struct {
	HasScamKeyword    bool     `json:"hasScamKeyword"`
	MatchedKeywords   []string `json:"matchedKeywords,omitempty"`
	IsKnownSuspicious bool     `json:"isKnownSuspicious"`
	OnDenylist        bool     `json:"onDenylist"`
	IsHighAmount      bool     `json:"isHighAmount"`
	IsLateNight       bool     `json:"isLateNight"`
	Hour              int      `json:"hour"`

	TypingSpeedCPM  *int `json:"typingSpeedCpm,omitempty"`
	HesitationCount *int `json:"hesitationCount,omitempty"`

	ReportCount   int           `json:"reportCount,omitempty"`
	ReportAge     time.Duration `json:"reportAge,omitempty"`
	ReportReasons []string      `json:"reportReasons,omitempty"`
}

// HasTelemetry reports whether any behavioral telemetry was supplied.
func (s Signals) HasTelemetry() bool {
	return s.TypingSpeedCPM != nil || s.HesitationCount != nil
}

// maxEvidenceReasons caps how many report reasons are cited.
const maxEvidenceReasons = 3

// Extractor derives Signals from a request. It performs no I/O.
type Extractor struct {
	keywords   []string
	denylist   map[string]struct{}
	source     ReputationSource
	clock      Clock
	highAmount float64
	lateStart  int
	lateEnd    int
	location   *time.Location
}

// NewExtractor builds an extractor from a policy. source may be nil.
func NewExtractor(p Policy, source ReputationSource, clock Clock) *Extractor {
	p = p.clone()
	deny := make(map[string]struct{}, len(p.Denylist))
	for _, id := range p.Denylist {
		deny[normalizeID(id)] = struct{}{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Extractor{
		keywords:   p.Keywords,
		denylist:   deny,
		source:     source,
		clock:      clock,
		highAmount: p.HighAmountThreshold,
		lateStart:  p.LateNightStartHour,
		lateEnd:    p.LateNightEndHour,
		location:   p.Location,
	}
}

// Extract computes the signal set for req.
func (x *Extractor) Extract(req TransactionRequest) Signals {
	now := x.clock.Now()
	ts := req.Timestamp
	if ts.IsZero() {
		ts = now
	}
	if x.location != nil {
		ts = ts.In(x.location)
	}

	id := normalizeID(req.ReceiverID)
	matched := x.matchKeywords(id, strings.ToLower(req.Note))
	_, onDeny := x.denylist[id]

	sig := Signals{
		HasScamKeyword:  len(matched) > 0,
		MatchedKeywords: matched,
		OnDenylist:      onDeny,
		IsHighAmount:    req.Amount > x.highAmount,
		Hour:            ts.Hour(),
		TypingSpeedCPM:  copyInt(req.TypingSpeedCPM),
		HesitationCount: copyInt(req.HesitationCount),
	}
	sig.IsLateNight = sig.Hour >= x.lateStart || sig.Hour <= x.lateEnd
	sig.IsKnownSuspicious = onDeny

	if x.source != nil {
		if x.source.IsSuspicious(id) {
			sig.IsKnownSuspicious = true
		}
		if h, ok := x.source.(ReportHistory); ok {
			count, last, reasons := h.Reports(id)
			sig.ReportCount = count
			if count > 0 && !last.IsZero() && now.After(last) {
				sig.ReportAge = now.Sub(last)
			}
			if len(reasons) > maxEvidenceReasons {
				reasons = reasons[:maxEvidenceReasons]
			}
			sig.ReportReasons = append([]string(nil), reasons...)
		}
	}
	return sig
}

// matchKeywords returns the configured keywords found in the receiver id or
// note, in policy order.
func (x *Extractor) matchKeywords(id, note string) []string {
	var matched []string
	for _, kw := range x.keywords {
		if strings.Contains(id, kw) || strings.Contains(note, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
