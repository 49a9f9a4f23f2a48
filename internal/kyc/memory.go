package kyc

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps submissions in a map. Used for testing and development.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Submission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Submission)}
}

func (m *MemoryStore) CreateSubmission(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, id string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSubmissions(_ context.Context, userID string) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Submission
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ReviewSubmission(_ context.Context, id string, status Status, note string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusPending {
		return ErrAlreadyReviewed
	}
	s.Status = status
	s.ReviewNote = note
	s.ReviewedAt = &at
	return nil
}
