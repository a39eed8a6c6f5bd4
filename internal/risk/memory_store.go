package risk

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/payguard/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*RiskAssessment // receiverID → assessments
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*RiskAssessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, assessment *RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyAssessment(assessment)
	cp.ReceiverID = normalizeID(assessment.ReceiverID)
	s.assessments[cp.ReceiverID] = append(s.assessments[cp.ReceiverID], cp)
	return nil
}

func (s *MemoryStore) ListByReceiver(ctx context.Context, receiverID string, limit int, cursor *pagination.Cursor) ([]*RiskAssessment, error) {
	s.mu.RLock()
	all := append([]*RiskAssessment(nil), s.assessments[normalizeID(receiverID)]...)
	s.mu.RUnlock()

	// Newest first, ties broken by id like the SQL ordering.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	var result []*RiskAssessment
	for _, a := range all {
		if cursor != nil && !cursor.Precedes(a.CreatedAt, a.ID) {
			continue
		}
		result = append(result, copyAssessment(a))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func copyAssessment(a *RiskAssessment) *RiskAssessment {
	cp := *a
	if a.Verdict != nil {
		v := *a.Verdict
		v.AgentFindings = make([]AgentFinding, len(a.Verdict.AgentFindings))
		for i, f := range a.Verdict.AgentFindings {
			f.Evidence = append([]string(nil), f.Evidence...)
			v.AgentFindings[i] = f
		}
		v.Signals.MatchedKeywords = append([]string(nil), a.Verdict.Signals.MatchedKeywords...)
		v.Signals.ReportReasons = append([]string(nil), a.Verdict.Signals.ReportReasons...)
		cp.Verdict = &v
	}
	return &cp
}
