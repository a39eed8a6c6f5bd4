package risk

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var daytime = time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

func at(hour int) time.Time {
	return time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
}

func newTestEngine(opts ...EngineOption) *Engine {
	opts = append([]EngineOption{WithClock(FixedClock{T: daytime})}, opts...)
	return NewEngine(DefaultPolicy(), opts...)
}

func scores(v *RiskVerdict) map[AgentName]int {
	out := make(map[AgentName]int, len(v.AgentFindings))
	for _, f := range v.AgentFindings {
		out[f.Agent] = f.RiskScore
	}
	return out
}

func TestEvaluate_ScamPattern(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "kycupdate@okaxis",
		Amount:     500,
		Note:       "KYC verification fee",
		Timestamp:  daytime,
	}, NoExternalScore())
	require.NoError(t, err)

	assert.Equal(t, map[AgentName]int{
		AgentPattern:   95,
		AgentNetwork:   99,
		AgentBehavior:  10,
		AgentBiometric: 85,
	}, scores(v))
	assert.Equal(t, 3, v.Aggregation.HighRiskCount)
	assert.Equal(t, boostCorroborated, v.Aggregation.Boost)
	assert.InDelta(t, 74.15, v.Aggregation.Mean, 1e-9)
	assert.Equal(t, 85.3, v.OverallScore)
	assert.Equal(t, LabelHigh, v.OverallLabel)
	assert.Equal(t, DecisionBlock, v.Decision)
	assert.Equal(t, SourceLocal, v.Reconciliation.Source)
	assert.Equal(t, ReasonNoExternal, v.Reconciliation.Reason)

	pattern, ok := v.Finding(AgentPattern)
	require.True(t, ok)
	assert.Equal(t, "Contains scam-related keywords: kyc, verification, fee, update", pattern.Evidence[0])
	assert.Contains(t, pattern.Evidence, "Urgency language detected")

	network, _ := v.Finding(AgentNetwork)
	assert.Contains(t, network.Evidence, "Receiver is on the known scam list")
}

func TestEvaluate_CleanTransfer(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "friend@paytm",
		Amount:     200,
		Note:       "Lunch split",
		Timestamp:  daytime,
	}, NoExternalScore())
	require.NoError(t, err)

	assert.Equal(t, map[AgentName]int{
		AgentPattern:   15,
		AgentNetwork:   20,
		AgentBehavior:  10,
		AgentBiometric: 25,
	}, scores(v))
	assert.Equal(t, 1.0, v.Aggregation.Boost)
	assert.Equal(t, 16.5, v.OverallScore)
	assert.Equal(t, LabelLow, v.OverallLabel)
	assert.Equal(t, DecisionAllow, v.Decision)
}

func TestEvaluate_LateNightHighAmount(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "landlord@hdfc",
		Amount:     6000,
		Note:       "March rent",
		Timestamp:  at(23),
	}, NoExternalScore())
	require.NoError(t, err)

	behavior, ok := v.Finding(AgentBehavior)
	require.True(t, ok)
	assert.Equal(t, 70, behavior.RiskScore)
	assert.Equal(t, "Unusual transaction time", behavior.Message)
	assert.Equal(t, []string{
		"Late night transaction at 23:00 (high risk period)",
		"Above typical transaction amount",
	}, behavior.Evidence)

	// One agent at 70 but the mean is below 50, so no boost.
	assert.Equal(t, 1, v.Aggregation.HighRiskCount)
	assert.Equal(t, 1.0, v.Aggregation.Boost)
	assert.Equal(t, 31.5, v.OverallScore)
	assert.Equal(t, LabelLow, v.OverallLabel)
}

func TestEvaluate_ScoreCappedAt100(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "prize@bank",
		Amount:     9000,
		Note:       "You won the lottery, pay the fee",
		Timestamp:  at(2),
	}, NoExternalScore())
	require.NoError(t, err)

	// 89.15 * 1.15 > 100
	assert.Equal(t, 100.0, v.OverallScore)
	assert.Equal(t, LabelHigh, v.OverallLabel)
}

func TestEvaluate_ExternalScoreAgrees(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "friend@paytm",
		Amount:     200,
		Note:       "Lunch split",
		Timestamp:  daytime,
	}, ExternalScoreOf(18))
	require.NoError(t, err)

	assert.Equal(t, 18.0, v.OverallScore)
	assert.Equal(t, 16.5, v.LocalScore)
	assert.Equal(t, SourceExternal, v.Reconciliation.Source)
	assert.Equal(t, ReasonAgreed, v.Reconciliation.Reason)
	assert.InDelta(t, 1.5, v.Reconciliation.Delta, 1e-9)
}

func TestEvaluate_ExternalScoreClamped(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "prize@bank",
		Amount:     9000,
		Note:       "lottery",
		Timestamp:  at(2),
	}, ExternalScoreOf(103))
	require.NoError(t, err)

	assert.Equal(t, SourceExternal, v.Reconciliation.Source)
	assert.Equal(t, 100.0, v.OverallScore)
}

func TestEvaluate_ExternalScoreClassifiedBeforeRounding(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "someone@upi",
		Amount:     9000,
		Note:       "urgent",
		Timestamp:  at(23),
	}, ExternalScoreOf(69.96))
	require.NoError(t, err)

	assert.Equal(t, 70.7, v.LocalScore)
	assert.Equal(t, SourceExternal, v.Reconciliation.Source)
	assert.Equal(t, 69.96, v.Reconciliation.Score)
	assert.Equal(t, LabelMedium, v.OverallLabel)
	assert.Equal(t, DecisionWarn, v.Decision)
	assert.Equal(t, 70.0, v.OverallScore)
}

func TestEvaluate_SentinelIgnored(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "landlord@hdfc",
		Amount:     40000,
		Note:       "",
		Timestamp:  at(23),
	}, ExternalScoreOf(42))
	require.NoError(t, err)

	assert.Equal(t, SourceLocal, v.Reconciliation.Source)
	assert.Equal(t, ReasonSentinel, v.Reconciliation.Reason)
	assert.Equal(t, 31.5, v.OverallScore)
}

func TestEvaluate_DivergentExternal(t *testing.T) {
	e := newTestEngine()
	v, err := e.Evaluate(TransactionRequest{
		ReceiverID: "kycupdate@okaxis",
		Amount:     500,
		Note:       "KYC verification fee",
		Timestamp:  daytime,
	}, ExternalScoreOf(12))
	require.NoError(t, err)

	assert.Equal(t, ReasonDivergent, v.Reconciliation.Reason)
	assert.Equal(t, 85.3, v.OverallScore)
	require.NotNil(t, v.Reconciliation.External)
	assert.Equal(t, 12.0, *v.Reconciliation.External)
}

func TestEvaluate_NonFiniteExternal(t *testing.T) {
	e := newTestEngine()
	for _, ext := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		v, err := e.Evaluate(TransactionRequest{
			ReceiverID: "friend@paytm",
			Amount:     200,
			Timestamp:  daytime,
		}, ExternalScoreOf(ext))
		require.NoError(t, err)
		assert.Equal(t, ReasonNoExternal, v.Reconciliation.Reason)
		assert.Equal(t, 16.5, v.OverallScore)
	}
}

func TestEvaluate_InvalidRequests(t *testing.T) {
	neg := -1
	tests := []struct {
		name string
		req  TransactionRequest
	}{
		{"missing receiver", TransactionRequest{Amount: 10}},
		{"blank receiver", TransactionRequest{ReceiverID: "   ", Amount: 10}},
		{"zero amount", TransactionRequest{ReceiverID: "a@upi"}},
		{"negative amount", TransactionRequest{ReceiverID: "a@upi", Amount: -5}},
		{"nan amount", TransactionRequest{ReceiverID: "a@upi", Amount: math.NaN()}},
		{"infinite amount", TransactionRequest{ReceiverID: "a@upi", Amount: math.Inf(1)}},
		{"negative hesitations", TransactionRequest{ReceiverID: "a@upi", Amount: 10, HesitationCount: &neg}},
		{"negative typing speed", TransactionRequest{ReceiverID: "a@upi", Amount: 10, TypingSpeedCPM: &neg}},
	}

	e := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.Evaluate(tt.req, NoExternalScore())
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Nil(t, v)
		})
	}
}

func TestEvaluate_TelemetryDoesNotMoveScore(t *testing.T) {
	e := newTestEngine()
	req := TransactionRequest{ReceiverID: "friend@paytm", Amount: 200, Note: "Lunch split", Timestamp: daytime}
	without, err := e.Evaluate(req, NoExternalScore())
	require.NoError(t, err)

	speed, hes := 420, 6
	req.TypingSpeedCPM = &speed
	req.HesitationCount = &hes
	with, err := e.Evaluate(req, NoExternalScore())
	require.NoError(t, err)

	assert.Equal(t, without.OverallScore, with.OverallScore)
	bio, _ := with.Finding(AgentBiometric)
	assert.Contains(t, bio.Evidence, "Typing speed 420 CPM recorded")
	assert.Contains(t, bio.Evidence, "6 hesitation(s) while writing the note")

	bio, _ = without.Finding(AgentBiometric)
	assert.Contains(t, bio.Evidence, "No typing telemetry supplied")
}

func TestEvaluate_ZeroTimestampUsesClock(t *testing.T) {
	e := NewEngine(DefaultPolicy(), WithClock(FixedClock{T: at(23)}))
	v, err := e.Evaluate(TransactionRequest{ReceiverID: "friend@paytm", Amount: 200}, NoExternalScore())
	require.NoError(t, err)
	assert.True(t, v.Signals.IsLateNight)
	assert.Equal(t, at(23), v.EvaluatedAt)
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := newTestEngine()
	req := TransactionRequest{
		ReceiverID: "kycupdate@okaxis",
		Amount:     500,
		Note:       "KYC verification fee",
		Timestamp:  daytime,
	}
	first, err := e.Evaluate(req, ExternalScoreOf(84))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := e.Evaluate(req, ExternalScoreOf(84))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluate_ScoreAlwaysInRange(t *testing.T) {
	e := newTestEngine()
	receivers := []string{"friend@paytm", "prize@bank", "urgent@upi", "x@y"}
	notes := []string{"", "lunch", "urgent kyc update", "you won a prize"}
	amounts := []float64{0.01, 100, 5000, 5000.01, 1e9}
	externals := []ExternalScore{NoExternalScore(), ExternalScoreOf(-50), ExternalScoreOf(0), ExternalScoreOf(99), ExternalScoreOf(500)}

	for _, r := range receivers {
		for _, n := range notes {
			for _, a := range amounts {
				for h := 0; h < 24; h += 5 {
					for _, ext := range externals {
						v, err := e.Evaluate(TransactionRequest{ReceiverID: r, Note: n, Amount: a, Timestamp: at(h)}, ext)
						require.NoError(t, err)
						assert.GreaterOrEqual(t, v.OverallScore, 0.0)
						assert.LessOrEqual(t, v.OverallScore, 100.0)
						assert.Equal(t, Classify(v.OverallScore), v.OverallLabel)
					}
				}
			}
		}
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	e := newTestEngine()
	req := TransactionRequest{ReceiverID: "kycupdate@okaxis", Amount: 500, Note: "KYC verification fee", Timestamp: daytime}

	var wg sync.WaitGroup
	results := make([]float64, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := e.Evaluate(req, NoExternalScore())
			if err == nil {
				results[i] = v.OverallScore
			}
		}(i)
	}
	wg.Wait()
	for _, s := range results {
		assert.Equal(t, 85.3, s)
	}
}

type fakeSource struct {
	suspicious map[string]bool
	count      int
	last       time.Time
	reasons    []string
}

func (f fakeSource) IsSuspicious(id string) bool { return f.suspicious[id] }

func (f fakeSource) Reports(string) (int, time.Time, []string) {
	return f.count, f.last, f.reasons
}

func TestEvaluate_ReputationSource(t *testing.T) {
	src := fakeSource{
		suspicious: map[string]bool{"shady@ybl": true},
		count:      3,
		last:       daytime.Add(-2 * time.Hour),
		reasons:    []string{"fake refund", "impersonation", "otp request", "extra"},
	}
	e := newTestEngine(WithReputation(src))

	v, err := e.Evaluate(TransactionRequest{ReceiverID: "Shady@YBL", Amount: 100, Note: "refund", Timestamp: daytime}, NoExternalScore())
	require.NoError(t, err)

	network, _ := v.Finding(AgentNetwork)
	assert.Equal(t, 99, network.RiskScore)
	assert.Equal(t, []string{
		"Reported 3 times by other users",
		"Last reported 2 hours ago",
		"Report reasons: fake refund, impersonation, otp request",
	}, network.Evidence)
	assert.False(t, v.Signals.OnDenylist)

	bio, _ := v.Finding(AgentBiometric)
	assert.Equal(t, 85, bio.RiskScore)
}

func TestEngine_WithSourceDoesNotMutate(t *testing.T) {
	e := newTestEngine()
	bound := e.WithSource(fakeSource{suspicious: map[string]bool{"friend@paytm": true}})

	req := TransactionRequest{ReceiverID: "friend@paytm", Amount: 200, Note: "Lunch split", Timestamp: daytime}
	plain, err := e.Evaluate(req, NoExternalScore())
	require.NoError(t, err)
	flagged, err := bound.Evaluate(req, NoExternalScore())
	require.NoError(t, err)

	assert.Equal(t, 16.5, plain.OverallScore)
	assert.Greater(t, flagged.OverallScore, plain.OverallScore)
}

func TestEngine_PolicyIsCopied(t *testing.T) {
	p := DefaultPolicy()
	e := NewEngine(p, WithClock(FixedClock{T: daytime}))

	p.Keywords[0] = "lunch"
	p.Weights[AgentNetwork] = 0

	v, err := e.Evaluate(TransactionRequest{ReceiverID: "friend@paytm", Amount: 200, Note: "Lunch split", Timestamp: daytime}, NoExternalScore())
	require.NoError(t, err)
	assert.False(t, v.Signals.HasScamKeyword)
	assert.Equal(t, 16.5, v.OverallScore)

	got := e.Policy()
	got.Denylist[0] = "changed"
	assert.Equal(t, "kycupdate@okaxis", e.Policy().Denylist[0])
}
