// Package reputation tracks community scam reports against payment receivers.
//
// Payers report receivers that defrauded them; once a receiver collects
// enough reports (or an operator flags it) the network agent treats it as
// known-suspicious. Records are keyed by the normalized receiver id.
package reputation

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxReasons bounds how many distinct reasons a record keeps.
const MaxReasons = 10

// DefaultReportThreshold is the report count at which a receiver becomes
// suspicious.
const DefaultReportThreshold = 2

// ConfirmedReason is filed when a payer confirms a screened payment was a scam.
const ConfirmedReason = "confirmed by payer"

var (
	ErrNotFound        = errors.New("reputation: receiver not found")
	ErrInvalidReceiver = errors.New("reputation: invalid receiver id")
)

// Record aggregates the reports filed against one receiver.
type Record struct {
	ReceiverID    string    `json:"receiverId"`
	Count         int       `json:"count"`
	Reasons       []string  `json:"reasons"`
	FirstReported time.Time `json:"firstReported"`
	LastReported  time.Time `json:"lastReported"`
	Flagged       bool      `json:"flagged"`
	FlagReason    string    `json:"flagReason,omitempty"`
}

// Store persists report records.
type Store interface {
	// Report adds one report and returns the updated record.
	Report(ctx context.Context, receiverID, reason string, at time.Time) (*Record, error)
	// Flag marks the receiver suspicious regardless of its report count.
	Flag(ctx context.Context, receiverID, reason string, at time.Time) (*Record, error)
	// Get returns ErrNotFound for receivers nobody reported.
	Get(ctx context.Context, receiverID string) (*Record, error)
	// ListTop returns the most reported receivers first.
	ListTop(ctx context.Context, limit int) ([]*Record, error)
}

// Normalize trims and lowercases a receiver id.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (r *Record) addReport(reason string, at time.Time) {
	r.Count++
	r.touch(at)
	r.Reasons = appendReason(r.Reasons, reason)
}

func (r *Record) flag(reason string, at time.Time) {
	r.Flagged = true
	if reason = strings.TrimSpace(reason); reason != "" {
		r.FlagReason = reason
	}
	r.touch(at)
}

func (r *Record) touch(at time.Time) {
	if r.FirstReported.IsZero() || at.Before(r.FirstReported) {
		r.FirstReported = at
	}
	if at.After(r.LastReported) {
		r.LastReported = at
	}
}

// appendReason keeps reasons unique (case-insensitive) in the order they were
// last seen, dropping the oldest beyond MaxReasons.
func appendReason(reasons []string, reason string) []string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return reasons
	}
	out := make([]string, 0, len(reasons)+1)
	for _, r := range reasons {
		if !strings.EqualFold(r, reason) {
			out = append(out, r)
		}
	}
	out = append(out, reason)
	if len(out) > MaxReasons {
		out = out[len(out)-MaxReasons:]
	}
	return out
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Reasons = append([]string(nil), r.Reasons...)
	return &cp
}

// Standing summarizes how a receiver is regarded.
type Standing string

const (
	StandingClean      Standing = "clean"
	StandingReported   Standing = "reported"
	StandingSuspicious Standing = "suspicious"
	StandingDenylisted Standing = "denylisted"
)

// StandingOf classifies a receiver. rec may be nil.
func StandingOf(rec *Record, onDenylist bool, threshold int) Standing {
	switch {
	case onDenylist || (rec != nil && rec.Flagged):
		return StandingDenylisted
	case rec != nil && rec.Count >= threshold:
		return StandingSuspicious
	case rec != nil && rec.Count > 0:
		return StandingReported
	default:
		return StandingClean
	}
}

// View is a per-request snapshot of what is known about one receiver.
// It answers the risk engine's reputation questions without further I/O.
type View struct {
	receiverID string
	record     *Record
	denylist   map[string]struct{}
	threshold  int
}

// IsSuspicious reports whether identifier is denylisted, flagged, or has
// reached the report threshold.
func (v *View) IsSuspicious(identifier string) bool {
	id := Normalize(identifier)
	if _, ok := v.denylist[id]; ok {
		return true
	}
	if id != v.receiverID || v.record == nil {
		return false
	}
	return v.record.Flagged || v.record.Count >= v.threshold
}

// Reports returns the report history, newest reason first.
func (v *View) Reports(identifier string) (int, time.Time, []string) {
	if v.record == nil || Normalize(identifier) != v.receiverID {
		return 0, time.Time{}, nil
	}
	reasons := make([]string, 0, len(v.record.Reasons))
	for i := len(v.record.Reasons) - 1; i >= 0; i-- {
		reasons = append(reasons, v.record.Reasons[i])
	}
	return v.record.Count, v.record.LastReported, reasons
}

// Record returns a copy of the underlying record, or nil.
func (v *View) Record() *Record {
	return v.record.clone()
}
