package risk

// Label thresholds. Boundaries are half-open: 70.00 is high, 69.99 is medium.
const (
	thresholdHigh   = 70
	thresholdMedium = 40
)

// Classify maps a score to a label.
func Classify(score float64) Label {
	switch {
	case score >= thresholdHigh:
		return LabelHigh
	case score >= thresholdMedium:
		return LabelMedium
	default:
		return LabelLow
	}
}

// SeverityOf bands a score for display using the same thresholds.
func SeverityOf(score float64) Severity {
	switch Classify(score) {
	case LabelHigh:
		return SeveritySevere
	case LabelMedium:
		return SeverityElevated
	default:
		return SeverityMild
	}
}

// Decision returns the downstream action for a label.
func (l Label) Decision() Decision {
	switch l {
	case LabelHigh:
		return DecisionBlock
	case LabelMedium:
		return DecisionWarn
	default:
		return DecisionAllow
	}
}
