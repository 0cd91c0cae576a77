package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	byCallID map[string]Attempt
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCallID: make(map[string]Attempt), clock: time.Now}
}

func (s *MemoryStore) Insert(_ context.Context, a Attempt) error {
	if a.ID == "" || a.WorkspaceID == "" || a.UserID == "" || a.ProviderCallID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.byCallID[a.ProviderCallID] = a
	return nil
}

func (s *MemoryStore) GetByProviderCallID(_ context.Context, providerCallID string) (Attempt, error) {
	if providerCallID == "" {
		return Attempt{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byCallID[providerCallID]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, providerCallID string, status Status, durationSeconds int) error {
	if providerCallID == "" || status == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byCallID[providerCallID]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	if durationSeconds > a.DurationSeconds {
		a.DurationSeconds = durationSeconds
	}
	a.UpdatedAt = s.clock().UTC()
	s.byCallID[providerCallID] = a
	return nil
}

func (s *MemoryStore) SetAMDResult(_ context.Context, providerCallID, amdResult string) error {
	if providerCallID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byCallID[providerCallID]
	if !ok {
		return ErrNotFound
	}
	a.AMDResult = amdResult
	a.UpdatedAt = s.clock().UTC()
	s.byCallID[providerCallID] = a
	return nil
}

func (s *MemoryStore) SetDisposition(_ context.Context, providerCallID string, d Disposition) error {
	if providerCallID == "" || d == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byCallID[providerCallID]
	if !ok {
		return ErrNotFound
	}
	a.Disposition = d
	a.UpdatedAt = s.clock().UTC()
	s.byCallID[providerCallID] = a
	return nil
}

func (s *MemoryStore) ListActiveByUser(_ context.Context, workspaceID, userID string) ([]Attempt, error) {
	if workspaceID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, a := range s.byCallID {
		if a.WorkspaceID == workspaceID && a.UserID == userID && !a.Status.IsTerminal() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByUserRange(_ context.Context, workspaceID, userID string, from, to time.Time) ([]Attempt, error) {
	if workspaceID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, a := range s.byCallID {
		if a.WorkspaceID != workspaceID || a.UserID != userID {
			continue
		}
		if a.CreatedAt.Before(from) || !a.CreatedAt.Before(to) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
