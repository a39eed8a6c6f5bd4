package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/payguard/internal/idgen"
	"github.com/mbd888/payguard/internal/pagination"
	"github.com/mbd888/payguard/internal/traces"
)

// ReputationLookup resolves the reputation view of one receiver.
type ReputationLookup interface {
	Lookup(ctx context.Context, receiverID string) (ReputationSource, error)
}

// ExternalScorer fetches a score from the external authority.
type ExternalScorer interface {
	Score(ctx context.Context, req TransactionRequest) (ExternalScore, error)
}

// Publisher emits verdict events.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// VerdictEvent is the payload published for every screened transaction.
type VerdictEvent struct {
	AssessmentID string      `json:"assessmentId"`
	ReceiverID   string      `json:"receiverId"`
	Amount       float64     `json:"amount"`
	Score        float64     `json:"score"`
	Label        Label       `json:"label"`
	Decision     Decision    `json:"decision"`
	ScoreSource  ScoreSource `json:"scoreSource"`
	Reason       string      `json:"reason"`
	EvaluatedAt  time.Time   `json:"evaluatedAt"`
}

// Service screens transactions with the engine and the collaborators that
// do I/O. Collaborator failures degrade the screening and are never fatal.
type Service struct {
	engine     *Engine
	store      Store
	reputation ReputationLookup
	authority  ExternalScorer
	publisher  Publisher
	logger     *slog.Logger
}

// NewService creates a screening service. store may be nil to disable the
// audit trail.
func NewService(engine *Engine, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, store: store, logger: logger}
}

// WithReputation adds per-receiver reputation lookups.
func (s *Service) WithReputation(r ReputationLookup) *Service {
	s.reputation = r
	return s
}

// WithAuthority adds the external score client.
func (s *Service) WithAuthority(a ExternalScorer) *Service {
	s.authority = a
	return s
}

// WithPublisher adds a verdict event publisher.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Screen evaluates req. A nil external asks the authority (if configured)
// for a score; a non-nil one is used as supplied.
func (s *Service) Screen(ctx context.Context, req TransactionRequest, external *ExternalScore) (_ *RiskAssessment, retErr error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "risk.Screen",
		traces.ReceiverID(req.ReceiverID), traces.Amount(req.Amount))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
		screenDuration.Observe(time.Since(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	engine := s.engine
	if s.reputation != nil {
		src, err := s.reputation.Lookup(ctx, req.ReceiverID)
		if err != nil {
			collaboratorErrors.WithLabelValues("reputation").Inc()
			s.logger.WarnContext(ctx, "reputation lookup failed, using static denylist",
				"receiver", req.ReceiverID, "error", err)
		} else if src != nil {
			engine = engine.WithSource(src)
		}
	}

	ext := NoExternalScore()
	switch {
	case external != nil:
		ext = *external
	case s.authority != nil:
		score, err := s.authority.Score(ctx, req)
		if err != nil {
			collaboratorErrors.WithLabelValues("authority").Inc()
			s.logger.WarnContext(ctx, "authority score unavailable", "receiver", req.ReceiverID, "error", err)
		} else {
			ext = score
		}
	}

	verdict, err := engine.Evaluate(req, ext)
	if err != nil {
		return nil, err
	}
	observeVerdict(verdict)

	assessment := &RiskAssessment{
		ID:         idgen.Assessment(),
		ReceiverID: normalizeID(req.ReceiverID),
		Amount:     req.Amount,
		Verdict:    verdict,
		CreatedAt:  verdict.EvaluatedAt,
	}
	span.SetAttributes(
		traces.AssessmentID(assessment.ID),
		traces.Score(verdict.OverallScore),
		traces.Label(string(verdict.OverallLabel)),
		traces.Decision(string(verdict.Decision)),
		traces.ScoreSource(string(verdict.Reconciliation.Source)),
	)

	if s.store != nil {
		if err := s.store.Record(ctx, assessment); err != nil {
			collaboratorErrors.WithLabelValues("store").Inc()
			s.logger.ErrorContext(ctx, "failed to record risk assessment", "id", assessment.ID, "error", err)
		}
	}

	if s.publisher != nil {
		event := VerdictEvent{
			AssessmentID: assessment.ID,
			ReceiverID:   assessment.ReceiverID,
			Amount:       assessment.Amount,
			Score:        verdict.OverallScore,
			Label:        verdict.OverallLabel,
			Decision:     verdict.Decision,
			ScoreSource:  verdict.Reconciliation.Source,
			Reason:       verdict.Reconciliation.Reason,
			EvaluatedAt:  verdict.EvaluatedAt,
		}
		if err := s.publisher.Publish(ctx, assessment.ReceiverID, event); err != nil {
			collaboratorErrors.WithLabelValues("publisher").Inc()
			s.logger.WarnContext(ctx, "failed to publish verdict event", "id", assessment.ID, "error", err)
		}
	}

	if verdict.Decision == DecisionBlock {
		s.logger.InfoContext(ctx, "transaction blocked",
			"receiver", assessment.ReceiverID,
			"score", verdict.OverallScore,
			"source", verdict.Reconciliation.Source,
		)
	}
	return assessment, nil
}

// History returns recorded assessments for a receiver, newest first.
func (s *Service) History(ctx context.Context, receiverID string, limit int, cursor *pagination.Cursor) ([]*RiskAssessment, error) {
	if s.store == nil {
		return nil, nil
	}
	list, err := s.store.ListByReceiver(ctx, receiverID, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return list, nil
}
