package reputation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/payguard/internal/validation"
)

// Service answers reputation questions and files reports.
type Service struct {
	store     Store
	denylist  map[string]struct{}
	threshold int
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a reputation service. denylist is the static list of
// known scam receivers; threshold <= 0 means DefaultReportThreshold.
func NewService(store Store, denylist []string, threshold int, logger *slog.Logger) *Service {
	if threshold <= 0 {
		threshold = DefaultReportThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	deny := make(map[string]struct{}, len(denylist))
	for _, id := range denylist {
		if id = Normalize(id); id != "" {
			deny[id] = struct{}{}
		}
	}
	return &Service{
		store:     store,
		denylist:  deny,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Threshold returns the report count at which receivers become suspicious.
func (s *Service) Threshold() int { return s.threshold }

// Lookup builds the view the risk engine consults for one screening.
// A receiver with no record yields a view backed by the denylist alone.
func (s *Service) Lookup(ctx context.Context, receiverID string) (*View, error) {
	id := Normalize(receiverID)
	v := &View{receiverID: id, denylist: s.denylist, threshold: s.threshold}

	rec, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return v, nil
	case err != nil:
		return nil, err
	}
	v.record = rec
	return v, nil
}

// Status describes a receiver for the public API.
type Status struct {
	ReceiverID string   `json:"receiverId"`
	Standing   Standing `json:"standing"`
	Suspicious bool     `json:"suspicious"`
	OnDenylist bool     `json:"onDenylist"`
	Threshold  int      `json:"threshold"`
	Record     *Record  `json:"record,omitempty"`
}

// Status returns the receiver's standing.
func (s *Service) Status(ctx context.Context, receiverID string) (*Status, error) {
	v, err := s.Lookup(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	_, onDeny := s.denylist[v.receiverID]
	return &Status{
		ReceiverID: v.receiverID,
		Standing:   StandingOf(v.record, onDeny, s.threshold),
		Suspicious: v.IsSuspicious(v.receiverID),
		OnDenylist: onDeny,
		Threshold:  s.threshold,
		Record:     v.Record(),
	}, nil
}

// Report files a community report.
func (s *Service) Report(ctx context.Context, receiverID, reason string) (*Record, error) {
	return s.report(ctx, receiverID, reason, "report")
}

// Feedback records the payer's verdict on a screened payment. Only confirmed
// scams are filed; the returned record is nil otherwise.
func (s *Service) Feedback(ctx context.Context, receiverID string, wasScam bool) (*Record, error) {
	if !wasScam {
		if !validation.IsValidReceiverID(Normalize(receiverID)) {
			return nil, ErrInvalidReceiver
		}
		return nil, nil
	}
	return s.report(ctx, receiverID, ConfirmedReason, "feedback")
}

func (s *Service) report(ctx context.Context, receiverID, reason, origin string) (*Record, error) {
	id := Normalize(receiverID)
	if !validation.IsValidReceiverID(id) {
		return nil, ErrInvalidReceiver
	}
	rec, err := s.store.Report(ctx, id, validation.SanitizeString(reason, validation.MaxNoteLength), s.now())
	if err != nil {
		return nil, err
	}
	reportsFiled.WithLabelValues(origin).Inc()
	if rec.Count == s.threshold {
		s.logger.InfoContext(ctx, "receiver reached report threshold", "receiver", id, "count", rec.Count)
	}
	return rec, nil
}

// Flag marks a receiver suspicious at runtime. The static denylist is not
// modified.
func (s *Service) Flag(ctx context.Context, receiverID, reason string) (*Record, error) {
	id := Normalize(receiverID)
	if !validation.IsValidReceiverID(id) {
		return nil, ErrInvalidReceiver
	}
	rec, err := s.store.Flag(ctx, id, validation.SanitizeString(reason, validation.MaxNoteLength), s.now())
	if err != nil {
		return nil, err
	}
	reportsFiled.WithLabelValues("admin").Inc()
	s.logger.InfoContext(ctx, "receiver flagged", "receiver", id, "reason", rec.FlagReason)
	return rec, nil
}

// Top returns the most reported receivers.
func (s *Service) Top(ctx context.Context, limit int) ([]*Record, error) {
	return s.store.ListTop(ctx, limit)
}

// Suspicious reports whether rec meets the service's threshold.
func (s *Service) Suspicious(rec *Record) bool {
	if rec == nil {
		return false
	}
	if _, ok := s.denylist[rec.ReceiverID]; ok {
		return true
	}
	return rec.Flagged || rec.Count >= s.threshold
}
