package session

import (
	"context"
	"sync"
	"time"

	"plantgate.org/internal/auth"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps sessions in process. Suitable for a single instance.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Record
	byUser map[string]map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]Record),
		byUser: make(map[string]map[string]struct{}),
	}
}

func (s *InMemoryStore) Put(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = rec
	ids, ok := s.byUser[rec.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[rec.UserID] = ids
	}
	ids[rec.ID] = struct{}{}
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return Record{}, auth.ErrUnknownSession
	}
	return rec, nil
}

func (s *InMemoryStore) UpdateMode(ctx context.Context, id string, mode auth.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return auth.ErrUnknownSession
	}
	rec.Mode = mode
	s.byID[id] = rec
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *InMemoryStore) DeleteUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id := range s.byUser[userID] {
		s.deleteLocked(id)
		n++
	}
	return n, nil
}

func (s *InMemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.byID {
		if !now.Before(rec.ExpiresAt) {
			s.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) deleteLocked(id string) {
	rec, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if ids := s.byUser[rec.UserID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byUser, rec.UserID)
		}
	}
}
