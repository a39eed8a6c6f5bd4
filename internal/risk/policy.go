package risk

import (
	"strings"
	"time"
)

// Weights maps agent names to their share of the aggregate.
type Weights map[AgentName]float64

// DefaultWeights favors the crowd-sourced network signal.
func DefaultWeights() Weights {
	return Weights{
		AgentPattern:   0.30,
		AgentNetwork:   0.35,
		AgentBehavior:  0.25,
		AgentBiometric: 0.10,
	}
}

// ReconcilePolicy controls when an external score is trusted.
type ReconcilePolicy struct {
	// Sentinels are external values known to be defaults rather than scores.
	Sentinels []float64
	// EqualityTolerance decides whether all agent scores are the same.
	EqualityTolerance float64
	// AgreementTolerance is the largest distance at which the external score wins.
	AgreementTolerance float64
	// OverrideTolerance is the distance beyond which local always wins.
	OverrideTolerance float64
}

// DefaultReconcilePolicy returns the production trust policy.
func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{
		Sentinels:          []float64{42},
		EqualityTolerance:  0.01,
		AgreementTolerance: 5,
		OverrideTolerance:  20,
	}
}

// Policy is the immutable configuration of an Engine.
type Policy struct {
	Keywords            []string
	Denylist            []string
	HighAmountThreshold float64
	LateNightStartHour  int // inclusive
	LateNightEndHour    int // inclusive
	// Location used for the hour-of-day rule. Nil keeps the timestamp's own zone.
	Location  *time.Location
	Weights   Weights
	Reconcile ReconcilePolicy
}

// DefaultKeywords are substrings that commonly appear in payment scams.
func DefaultKeywords() []string {
	return []string{"kyc", "verification", "fee", "suspend", "urgent", "update", "prize", "won", "lottery"}
}

// DefaultDenylist is the baseline set of known scam receivers.
func DefaultDenylist() []string {
	return []string{"kycupdate@okaxis", "verification@paytm", "prize@bank", "urgent@upi"}
}

// DefaultPolicy returns the baseline rule configuration.
func DefaultPolicy() Policy {
	return Policy{
		Keywords:            DefaultKeywords(),
		Denylist:            DefaultDenylist(),
		HighAmountThreshold: 5000,
		LateNightStartHour:  22,
		LateNightEndHour:    6,
		Weights:             DefaultWeights(),
		Reconcile:           DefaultReconcilePolicy(),
	}
}

// clone deep-copies every table so the caller can't mutate an engine's policy.
func (p Policy) clone() Policy {
	out := p
	out.Keywords = make([]string, 0, len(p.Keywords))
	for _, k := range p.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out.Keywords = append(out.Keywords, k)
		}
	}
	out.Denylist = append([]string(nil), p.Denylist...)
	out.Weights = make(Weights, len(p.Weights))
	for k, v := range p.Weights {
		out.Weights[k] = v
	}
	out.Reconcile.Sentinels = append([]float64(nil), p.Reconcile.Sentinels...)
	return out
}
