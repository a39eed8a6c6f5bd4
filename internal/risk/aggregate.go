package risk

import "math"

const (
	highRiskScore = 70

	// Corroboration boosts applied after the weighted mean.
	boostCorroborated = 1.15
	boostBorderline   = 1.10
	borderlineMean    = 50
)

// Aggregation is the result of combining agent findings.
type Aggregation struct {
	Mean          float64 `json:"mean"`
	HighRiskCount int     `json:"highRiskCount"`
	Boost         float64 `json:"boost"`
	Score         float64 `json:"score"`
}

// Aggregate combines findings into one score in [0, 100], rounded to one
// decimal place. Agents missing from weights get an equal 1/N share.
func Aggregate(findings []AgentFinding, weights Weights) Aggregation {
	if len(findings) == 0 {
		return Aggregation{Boost: 1}
	}

	defaultWeight := 1.0 / float64(len(findings))
	var weightedSum, totalWeight, plainSum float64
	highRisk := 0
	for _, f := range findings {
		w, ok := weights[f.Agent]
		if !ok {
			w = defaultWeight
		}
		score := float64(f.RiskScore)
		weightedSum += score * w
		totalWeight += w
		plainSum += score
		if f.RiskScore >= highRiskScore {
			highRisk++
		}
	}

	var mean float64
	if totalWeight > 0 {
		mean = weightedSum / totalWeight
	} else {
		mean = plainSum / float64(len(findings))
	}

	boost := 1.0
	switch {
	case highRisk >= 2:
		boost = boostCorroborated
	case highRisk == 1 && mean >= borderlineMean:
		boost = boostBorderline
	}
	score := math.Min(mean*boost, 100)

	return Aggregation{
		Mean:          mean,
		HighRiskCount: highRisk,
		Boost:         boost,
		Score:         clampScore(roundTenth(score)),
	}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
