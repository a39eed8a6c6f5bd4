package risk

// Engine turns a transaction request into a RiskVerdict. It holds only
// immutable configuration and is safe for concurrent use.
type Engine struct {
	policy    Policy
	clock     Clock
	source    ReputationSource
	extractor *Extractor
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock injects the clock used for the late-night rule.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithReputation sets the reputation source consulted in addition to the
// policy denylist.
func WithReputation(src ReputationSource) EngineOption {
	return func(e *Engine) {
		e.source = src
	}
}

// NewEngine creates an engine from policy. The policy's tables are copied.
func NewEngine(policy Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		policy: policy.clone(),
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.extractor = NewExtractor(e.policy, e.source, e.clock)
	return e
}

// Policy returns a copy of the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy.clone()
}

// WithSource returns a copy of the engine bound to src for a single
// evaluation. The receiver is not modified.
func (e *Engine) WithSource(src ReputationSource) *Engine {
	cp := *e
	cp.source = src
	cp.extractor = NewExtractor(cp.policy, src, cp.clock)
	return &cp
}

// Evaluate scores req and reconciles the result against external.
// It fails only when req violates the caller contract.
func (e *Engine) Evaluate(req TransactionRequest, external ExternalScore) (*RiskVerdict, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sig := e.extractor.Extract(req)

	agents := Agents()
	findings := make([]AgentFinding, 0, len(agents))
	for _, agent := range agents {
		findings = append(findings, agent(sig))
	}

	agg := Aggregate(findings, e.policy.Weights)
	rec := Reconcile(agg.Score, external, findings, e.policy.Reconcile)

	// Classify before rounding: an external 69.96 is medium.
	label := Classify(clampScore(rec.Score))

	return &RiskVerdict{
		OverallScore:   clampScore(roundTenth(rec.Score)),
		OverallLabel:   label,
		Decision:       label.Decision(),
		LocalScore:     agg.Score,
		Aggregation:    agg,
		Reconciliation: rec,
		AgentFindings:  findings,
		Signals:        sig,
		EvaluatedAt:    e.clock.Now(),
	}, nil
}
