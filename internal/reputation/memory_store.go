package reputation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in memory. Used in tests and when no database is
// configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Report(_ context.Context, receiverID, reason string, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.getOrCreate(receiverID)
	rec.addReport(reason, at)
	return rec.clone(), nil
}

func (m *MemoryStore) Flag(_ context.Context, receiverID, reason string, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.getOrCreate(receiverID)
	rec.flag(reason, at)
	return rec.clone(), nil
}

func (m *MemoryStore) getOrCreate(receiverID string) *Record {
	id := Normalize(receiverID)
	rec, ok := m.records[id]
	if !ok {
		rec = &Record{ReceiverID: id}
		m.records[id] = rec
	}
	return rec
}

func (m *MemoryStore) Get(_ context.Context, receiverID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[Normalize(receiverID)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

func (m *MemoryStore) ListTop(_ context.Context, limit int) ([]*Record, error) {
	m.mu.RLock()
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.clone())
	}
	m.mu.RUnlock()

	sortTop(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortTop orders by count, then recency, then id.
func sortTop(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.LastReported.Equal(b.LastReported) {
			return a.LastReported.After(b.LastReported)
		}
		return a.ReceiverID < b.ReceiverID
	})
}
