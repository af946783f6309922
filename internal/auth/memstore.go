package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"plantgate.org/internal/ids"
)

var _ UserStore = (*InMemoryUsers)(nil)

// InMemoryUsers implements UserStore with in-process concurrency safety.
type InMemoryUsers struct {
	mu         sync.RWMutex
	users      map[string]*User
	byUsername map[string]string
}

// NewInMemoryUsers creates an empty user directory.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{
		users:      make(map[string]*User),
		byUsername: make(map[string]string),
	}
}

func (s *InMemoryUsers) Create(ctx context.Context, u *User) error {
	if u == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Username)
	if _, ok := s.byUsername[key]; ok {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrConflict
	}
	s.users[u.ID] = u.Clone()
	s.byUsername[key] = u.ID
	return nil
}

func (s *InMemoryUsers) Get(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *InMemoryUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, ErrNotFound
	}
	return s.users[id].Clone(), nil
}

func (s *InMemoryUsers) Update(ctx context.Context, u *User) error {
	if u == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if !strings.EqualFold(cur.Username, u.Username) {
		key := strings.ToLower(u.Username)
		if _, taken := s.byUsername[key]; taken {
			return ErrConflict
		}
		delete(s.byUsername, strings.ToLower(cur.Username))
		s.byUsername[key] = u.ID
	}
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *InMemoryUsers) List(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *InMemoryUsers) MarkLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastLogin = &at
	return nil
}
