package vrf

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrRequestNotFound is returned for ids the coordinator never issued.
var ErrRequestNotFound = errors.New("vrf request not found")

// Store persists randomness requests.
type Store interface {
	CreateRequest(ctx context.Context, req Request) error
	UpdateRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id uint64) (Request, error)
	ListRequestsByStatus(ctx context.Context, status RequestStatus) ([]Request, error)
	LatestRequestID(ctx context.Context) (uint64, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[uint64]Request
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[uint64]Request)}
}

func (s *MemoryStore) CreateRequest(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return errors.New("vrf request already exists")
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) UpdateRequest(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return ErrRequestNotFound
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id uint64) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return req.Clone(), nil
}

func (s *MemoryStore) ListRequestsByStatus(_ context.Context, status RequestStatus) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Request
	for _, req := range s.requests {
		if req.Status == status {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) LatestRequestID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest uint64
	for id := range s.requests {
		if id > latest {
			latest = id
		}
	}
	return latest, nil
}
