package markers

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs tests and single-process
// deployments; multi-worker deployments must use RedisStore so markers
// survive restarts and are shared.
//
// All mutations for a user are serialized under one mutex, which is what
// makes ClaimPrimary a real compare-and-set here.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*userState
	clock func() time.Time
}

type userState struct {
	primary     *PrimaryCall
	secondaries map[string]SecondaryCall
	conference  *Conference
	confExpiry  time.Time
	seen        map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*userState), clock: time.Now}
}

func (s *MemoryStore) state(userID string) *userState {
	u, ok := s.users[userID]
	if !ok {
		u = &userState{
			secondaries: make(map[string]SecondaryCall),
			seen:        make(map[string]time.Time),
		}
		s.users[userID] = u
	}
	return u
}

func (s *MemoryStore) ClaimPrimary(_ context.Context, userID string, m PrimaryCall) (bool, error) {
	if userID == "" || m.CallID == "" || m.LineID == "" {
		return false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	if u.primary != nil {
		return false, nil
	}
	cp := m
	u.primary = &cp
	return true, nil
}

func (s *MemoryStore) GetPrimary(_ context.Context, userID string) (PrimaryCall, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	if u.primary == nil {
		return PrimaryCall{}, false, nil
	}
	return *u.primary, true, nil
}

func (s *MemoryStore) ClearPrimary(_ context.Context, userID, callID string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	if u.primary == nil {
		return false, nil
	}
	if callID != "" && u.primary.CallID != callID {
		return false, nil
	}
	u.primary = nil
	return true, nil
}

func (s *MemoryStore) MarkPrimaryBridged(_ context.Context, userID, callID string) error {
	if userID == "" || callID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	if u.primary != nil && u.primary.CallID == callID {
		u.primary.InConference = true
	}
	return nil
}

func (s *MemoryStore) PutSecondary(_ context.Context, userID string, m SecondaryCall) error {
	if userID == "" || m.LineID == "" || m.CallID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(userID).secondaries[m.LineID] = m
	return nil
}

func (s *MemoryStore) GetSecondary(_ context.Context, userID, lineID string) (SecondaryCall, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state(userID).secondaries[lineID]
	return m, ok, nil
}

func (s *MemoryStore) DeleteSecondary(_ context.Context, userID, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state(userID).secondaries, lineID)
	return nil
}

func (s *MemoryStore) ListSecondaries(_ context.Context, userID string) ([]SecondaryCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	out := make([]SecondaryCall, 0, len(u.secondaries))
	for _, m := range u.secondaries {
		out = append(out, m)
	}
	SortByLine(out)
	return out, nil
}

func (s *MemoryStore) PutConference(_ context.Context, userID string, d Conference, ttl time.Duration) error {
	if userID == "" || d.Name == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	cp := d
	u.conference = &cp
	if ttl > 0 {
		u.confExpiry = s.clock().Add(ttl)
	} else {
		u.confExpiry = time.Time{}
	}
	return nil
}

func (s *MemoryStore) GetConference(_ context.Context, userID string) (Conference, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	if u.conference == nil {
		return Conference{}, false, nil
	}
	if !u.confExpiry.IsZero() && s.clock().After(u.confExpiry) {
		u.conference = nil
		return Conference{}, false, nil
	}
	return *u.conference, true, nil
}

func (s *MemoryStore) DeleteConference(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(userID).conference = nil
	return nil
}

func (s *MemoryStore) ClearUser(_ context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	u.primary = nil
	u.secondaries = make(map[string]SecondaryCall)
	u.conference = nil
	return nil
}

func (s *MemoryStore) MarkEventSeen(_ context.Context, userID, eventKey string, ttl time.Duration) (bool, error) {
	if userID == "" || eventKey == "" {
		return false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.state(userID)
	now := s.clock()
	if exp, ok := u.seen[eventKey]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	if ttl > 0 {
		u.seen[eventKey] = now.Add(ttl)
	} else {
		u.seen[eventKey] = time.Time{}
	}
	return true, nil
}

// SetClock overrides the time source for tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }
