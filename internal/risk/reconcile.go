package risk

import (
	"bytes"
	"encoding/json"
	"math"
)

// ScoreSource names which score a verdict was classified from.
type ScoreSource string

const (
	SourceLocal    ScoreSource = "local"
	SourceExternal ScoreSource = "external"
)

// Reconciliation reasons.
const (
	ReasonNoExternal       = "no_external"
	ReasonSentinel         = "sentinel"
	ReasonDegenerateAgents = "degenerate_agents"
	ReasonDivergent        = "divergent"
	ReasonLargeDivergence  = "large_divergence"
	ReasonAgreed           = "agreed"
)

// ExternalScore is a score supplied by the external authority. The zero
// value means no score was supplied.
type ExternalScore struct {
	Value   float64
	Present bool
}

// NoExternalScore returns an absent external score.
func NoExternalScore() ExternalScore { return ExternalScore{} }

// ExternalScoreOf wraps a numeric external score.
func ExternalScoreOf(v float64) ExternalScore {
	return ExternalScore{Value: v, Present: true}
}

func (e ExternalScore) finite() bool {
	return e.Present && !math.IsNaN(e.Value) && !math.IsInf(e.Value, 0)
}

// externalObject is the structured form some authorities return.
type externalObject struct {
	Score *float64 `json:"score"`
	Label string   `json:"label"`
	Valid *bool    `json:"valid"`
}

// ParseExternalScore normalizes an external score that arrives either as a
// bare number or as {"score": n, "label": "...", "valid": bool}. Anything
// else, including an explicit valid=false, yields an absent score.
func ParseExternalScore(raw json.RawMessage) ExternalScore {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NoExternalScore()
	}
	switch raw[0] {
	case '{':
		var obj externalObject
		if err := json.Unmarshal(raw, &obj); err != nil || obj.Score == nil {
			return NoExternalScore()
		}
		if obj.Valid != nil && !*obj.Valid {
			return NoExternalScore()
		}
		return ExternalScoreOf(*obj.Score)
	case '"', '[', 't', 'f':
		return NoExternalScore()
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return NoExternalScore()
	}
	return ExternalScoreOf(v)
}

// Reconciliation records which score was chosen and why.
type Reconciliation struct {
	Source   ScoreSource `json:"source"`
	Reason   string      `json:"reason"`
	Score    float64     `json:"score"`
	External *float64    `json:"external,omitempty"`
	Delta    float64     `json:"delta,omitempty"`
}

// Reconcile chooses between the locally aggregated score and an external
// one. The external score wins only when it is numeric, not a known
// sentinel, the agents are informative, and it is close to local.
func Reconcile(local float64, external ExternalScore, findings []AgentFinding, p ReconcilePolicy) Reconciliation {
	useLocal := func(reason string) Reconciliation {
		r := Reconciliation{Source: SourceLocal, Reason: reason, Score: local}
		if external.Present {
			v := external.Value
			r.External = &v
			if external.finite() {
				r.Delta = math.Abs(v - local)
			}
		}
		return r
	}

	if !external.finite() {
		return useLocal(ReasonNoExternal)
	}

	delta := math.Abs(external.Value - local)
	switch {
	case isSentinel(external.Value, p.Sentinels):
		return useLocal(ReasonSentinel)
	case allScoresEqual(findings, p.EqualityTolerance):
		return useLocal(ReasonDegenerateAgents)
	case delta > p.AgreementTolerance:
		return useLocal(ReasonDivergent)
	case delta > p.OverrideTolerance:
		return useLocal(ReasonLargeDivergence)
	}

	v := external.Value
	return Reconciliation{
		Source:   SourceExternal,
		Reason:   ReasonAgreed,
		Score:    v,
		External: &v,
		Delta:    delta,
	}
}

func isSentinel(v float64, sentinels []float64) bool {
	for _, s := range sentinels {
		if v == s {
			return true
		}
	}
	return false
}

// allScoresEqual reports whether at least two findings exist and every score
// differs from the first by strictly less than tol.
func allScoresEqual(findings []AgentFinding, tol float64) bool {
	if len(findings) < 2 {
		return false
	}
	first := float64(findings[0].RiskScore)
	for _, f := range findings[1:] {
		if math.Abs(float64(f.RiskScore)-first) >= tol {
			return false
		}
	}
	return true
}
