package risk

import (
	"fmt"
	"strings"
	"time"
)

// Agent scores. Each agent maps its signals to one of a fixed set of values.
const (
	patternHigh = 95
	patternLow  = 15

	networkHigh = 99
	networkLow  = 20

	behaviorBase       = 10
	behaviorHighAmount = 30
	behaviorLateNight  = 40

	biometricHigh = 85
	biometricLow  = 25
)

// Agent is an independent scorer.
type Agent func(Signals) AgentFinding

// Agents returns the scorers in verdict order.
func Agents() []Agent {
	return []Agent{PatternAgent, NetworkAgent, BehaviorAgent, BiometricAgent}
}

// PatternAgent flags text that matches known scam phrasing.
func PatternAgent(s Signals) AgentFinding {
	if !s.HasScamKeyword {
		return AgentFinding{
			Agent:     AgentPattern,
			RiskScore: patternLow,
			Message:   "No suspicious patterns detected",
			Evidence:  []string{"Clean transaction pattern", "No red flags detected"},
		}
	}
	evidence := []string{"Contains scam-related keywords: " + strings.Join(s.MatchedKeywords, ", ")}
	if hasUrgency(s.MatchedKeywords) {
		evidence = append(evidence, "Urgency language detected")
	}
	evidence = append(evidence, "Similar pattern to previously reported scams")
	return AgentFinding{
		Agent:     AgentPattern,
		RiskScore: patternHigh,
		Message:   "Matches known scam pattern",
		Evidence:  evidence,
	}
}

// NetworkAgent flags receivers the community or the denylist knows about.
func NetworkAgent(s Signals) AgentFinding {
	if !s.IsKnownSuspicious {
		evidence := []string{"No reports found", "Clean transaction history"}
		if s.ReportCount > 0 {
			evidence = []string{
				fmt.Sprintf("Reported %s, below the flagging threshold", times(s.ReportCount)),
				"No confirmed scam activity",
			}
		}
		return AgentFinding{
			Agent:     AgentNetwork,
			RiskScore: networkLow,
			Message:   "Receiver has clean record",
			Evidence:  evidence,
		}
	}

	var evidence []string
	if s.OnDenylist {
		evidence = append(evidence, "Receiver is on the known scam list")
	}
	if s.ReportCount > 0 {
		evidence = append(evidence, fmt.Sprintf("Reported %s by other users", times(s.ReportCount)))
		if s.ReportAge > 0 {
			evidence = append(evidence, "Last reported "+ago(s.ReportAge))
		}
		if len(s.ReportReasons) > 0 {
			evidence = append(evidence, "Report reasons: "+strings.Join(s.ReportReasons, ", "))
		}
	} else {
		evidence = append(evidence, "Multiple similar complaints")
	}
	return AgentFinding{
		Agent:     AgentNetwork,
		RiskScore: networkHigh,
		Message:   "Receiver flagged multiple times",
		Evidence:  evidence,
	}
}

// BehaviorAgent scores amount and timing. Its score is one of 10, 30, 50 or 70.
func BehaviorAgent(s Signals) AgentFinding {
	score := behaviorBase
	if s.IsHighAmount {
		score = behaviorHighAmount
	}
	if s.IsLateNight {
		score += behaviorLateNight
	}

	f := AgentFinding{Agent: AgentBehavior, RiskScore: score}
	if s.IsLateNight {
		f.Message = "Unusual transaction time"
		f.Evidence = append(f.Evidence, fmt.Sprintf("Late night transaction at %02d:00 (high risk period)", s.Hour))
	} else {
		f.Message = "Normal transaction behavior"
		f.Evidence = append(f.Evidence, "Normal transaction hours")
	}
	if s.IsHighAmount {
		f.Evidence = append(f.Evidence, "Above typical transaction amount")
	} else {
		f.Evidence = append(f.Evidence, "Amount within typical range")
	}
	return f
}

// BiometricAgent looks for signs the payer is being rushed. Typing
// telemetry is cited but does not move the score.
func BiometricAgent(s Signals) AgentFinding {
	f := AgentFinding{Agent: AgentBiometric}
	if s.HasScamKeyword || s.IsKnownSuspicious {
		f.RiskScore = biometricHigh
		f.Message = "Signs of rushed decision"
		if s.HasScamKeyword {
			f.Evidence = append(f.Evidence, "Urgency keywords present")
		}
		if s.IsKnownSuspicious {
			f.Evidence = append(f.Evidence, "Paying a receiver others reported")
		}
		f.Evidence = append(f.Evidence, "Pressure tactic detected", "Quick decision prompted")
	} else {
		f.RiskScore = biometricLow
		f.Message = "Normal decision pattern"
		f.Evidence = append(f.Evidence, "Calm decision environment", "No rush detected")
	}

	if s.TypingSpeedCPM != nil {
		f.Evidence = append(f.Evidence, fmt.Sprintf("Typing speed %d CPM recorded", *s.TypingSpeedCPM))
	}
	if s.HesitationCount != nil {
		f.Evidence = append(f.Evidence, fmt.Sprintf("%d hesitation(s) while writing the note", *s.HesitationCount))
	}
	if !s.HasTelemetry() {
		f.Evidence = append(f.Evidence, "No typing telemetry supplied")
	}
	return f
}

func hasUrgency(keywords []string) bool {
	for _, k := range keywords {
		switch k {
		case "urgent", "suspend", "update":
			return true
		}
	}
	return false
}

func times(n int) string {
	if n == 1 {
		return "1 time"
	}
	return fmt.Sprintf("%d times", n)
}

// ago renders a coarse relative duration ("3 hours ago").
func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	default:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
