package lottery

import (
	"context"
	"sync"
)

// MemoryStore provides an in-memory implementation of Store for testing.
type MemoryStore struct {
	mu      sync.RWMutex
	round   *Round
	SaveErr error // returned by SaveRound and SettleRound when set
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LoadRound(ctx context.Context) (Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.round == nil {
		return Round{}, ErrRoundNotFound
	}
	return s.round.Clone(), nil
}

func (s *MemoryStore) SaveRound(ctx context.Context, round Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	cp := round.Clone()
	s.round = &cp
	return nil
}

// SettleRound runs pay first and only stores next when it succeeds.
func (s *MemoryStore) SettleRound(ctx context.Context, next Round, pay func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if err := pay(ctx); err != nil {
		return err
	}
	cp := next.Clone()
	s.round = &cp
	return nil
}

// MockRandomness is a RandomnessProvider handing out sequential ids.
type MockRandomness struct {
	mu       sync.Mutex
	nextID   RequestID
	Requests []RandomnessRequest
	Err      error
}

// NewMockRandomness creates a provider whose first id is 1.
func NewMockRandomness() *MockRandomness {
	return &MockRandomness{nextID: 1}
}

func (m *MockRandomness) RequestRandomWords(ctx context.Context, req RandomnessRequest) (RequestID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	id := m.nextID
	m.nextID++
	m.Requests = append(m.Requests, req)
	return id, nil
}

// MockPayer records payouts and fails with Err when set.
type MockPayer struct {
	mu      sync.Mutex
	Payouts []Payout
	Err     error
}

func (m *MockPayer) Pay(ctx context.Context, payout Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Payouts = append(m.Payouts, payout)
	return nil
}

// SetErr swaps the failure returned by Pay.
func (m *MockPayer) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// EventRecorder collects published events.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *EventRecorder) Publish(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
