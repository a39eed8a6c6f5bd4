// Package risk implements rule-based fraud scoring for money-transfer requests.
//
// A request is turned into a set of signals, scored by four independent
// agents (pattern, network, behavior, biometric), combined into a weighted
// aggregate with a corroboration boost, reconciled against an externally
// supplied score, and classified as low, medium or high. The Engine is a pure
// function of its inputs; Service wraps it with the collaborators that do I/O.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mbd888/payguard/internal/pagination"
)

// ErrInvalidRequest is returned when a transaction request violates the
// caller contract. Use errors.Is to test for it.
var ErrInvalidRequest = errors.New("invalid transaction request")

// Label is the discrete risk classification of a score.
type Label string

const (
	LabelLow    Label = "low"
	LabelMedium Label = "medium"
	LabelHigh   Label = "high"
)

// Decision is the action a label drives downstream.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionBlock Decision = "block"
)

// Severity is the presentation band of a single agent score.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityElevated Severity = "elevated"
	SeveritySevere   Severity = "severe"
)

// AgentName identifies one of the independent scorers.
type AgentName string

const (
	AgentPattern   AgentName = "Pattern"
	AgentNetwork   AgentName = "Network"
	AgentBehavior  AgentName = "Behavior"
	AgentBiometric AgentName = "Biometric"
)

// TransactionRequest is a proposed transfer submitted for screening.
type TransactionRequest struct {
	ReceiverID string    `json:"receiverId"`
	Amount     float64   `json:"amount"`
	Note       string    `json:"note"`
	Timestamp  time.Time `json:"timestamp"`

	// Optional telemetry captured while the note was typed.
	TypingSpeedCPM  *int `json:"typingSpeedCpm,omitempty"`
	HesitationCount *int `json:"hesitationCount,omitempty"`
}

// Validate checks the caller contract. It never coerces a bad value.
func (r TransactionRequest) Validate() error {
	if strings.TrimSpace(r.ReceiverID) == "" {
		return fmt.Errorf("%w: receiver identifier is required", ErrInvalidRequest)
	}
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) {
		return fmt.Errorf("%w: amount must be a finite number", ErrInvalidRequest)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.HesitationCount != nil && *r.HesitationCount < 0 {
		return fmt.Errorf("%w: hesitation count must not be negative", ErrInvalidRequest)
	}
	if r.TypingSpeedCPM != nil && *r.TypingSpeedCPM < 0 {
		return fmt.Errorf("%w: typing speed must not be negative", ErrInvalidRequest)
	}
	return nil
}

// AgentFinding is the output of one agent.
type AgentFinding struct {
	Agent     AgentName `json:"agent"`
	RiskScore int       `json:"riskScore"`
	Message   string    `json:"message"`
	Evidence  []string  `json:"evidence"`
}

// Label classifies the finding's score with the overall thresholds.
func (f AgentFinding) Label() Label {
	return Classify(float64(f.RiskScore))
}

// Severity returns the presentation band of the finding's score.
func (f AgentFinding) Severity() Severity {
	return SeverityOf(float64(f.RiskScore))
}

// MarshalJSON adds the derived label and severity to the wire form.
func (f AgentFinding) MarshalJSON() ([]byte, error) {
	type plain AgentFinding
	return json.Marshal(struct {
		plain
		Label    Label    `json:"label"`
		Severity Severity `json:"severity"`
	}{plain(f), f.Label(), f.Severity()})
}

// RiskVerdict is the engine's final output.
type RiskVerdict struct {
	// OverallScore is rounded to one decimal. OverallLabel is classified
	// from the score before rounding.
	OverallScore   float64        `json:"overallScore"`
	OverallLabel   Label          `json:"overallLabel"`
	Decision       Decision       `json:"decision"`
	LocalScore     float64        `json:"localScore"`
	Aggregation    Aggregation    `json:"aggregation"`
	Reconciliation Reconciliation `json:"reconciliation"`
	AgentFindings  []AgentFinding `json:"agentFindings"`
	Signals        Signals        `json:"signals"`
	EvaluatedAt    time.Time      `json:"evaluatedAt"`
}

// Finding returns the finding produced by the named agent.
func (v *RiskVerdict) Finding(name AgentName) (AgentFinding, bool) {
	for _, f := range v.AgentFindings {
		if f.Agent == name {
			return f, true
		}
	}
	return AgentFinding{}, false
}

// RiskAssessment is a screened request as recorded in the audit trail.
type RiskAssessment struct {
	ID         string       `json:"id"`
	ReceiverID string       `json:"receiverId"`
	Amount     float64      `json:"amount"`
	Verdict    *RiskVerdict `json:"verdict"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Store persists risk assessments for audit.
type Store interface {
	Record(ctx context.Context, assessment *RiskAssessment) error
	// ListByReceiver returns assessments newest first. A nil cursor starts
	// from the most recent.
	ListByReceiver(ctx context.Context, receiverID string, limit int, cursor *pagination.Cursor) ([]*RiskAssessment, error)
}
