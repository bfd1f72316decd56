package profile

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used for dev
// mode and tests; production runs the Postgres store.
type InMemory struct {
	mu    sync.RWMutex
	users map[string]User
	subs  map[string]Subscription
	now   func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users: make(map[string]User),
		subs:  make(map[string]Subscription),
		now:   time.Now,
	}
}

var _ Store = (*InMemory)(nil)

// WithClock overrides the time source (useful for tests).
func (s *InMemory) WithClock(fn func() time.Time) *InMemory {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemory) FindUser(ctx context.Context, uid string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[uid]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemory) UpsertUser(ctx context.Context, u User) (User, error) {
	if u.UID == "" {
		return User{}, ErrInvalidUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if existing, ok := s.users[u.UID]; ok {
		u.CreatedAt = existing.CreatedAt
		// Incoming blanks keep the stored values.
		if u.Email == "" {
			u.Email = existing.Email
		}
		if u.Name == "" {
			u.Name = existing.Name
		}
		if u.PhotoURL == "" {
			u.PhotoURL = existing.PhotoURL
		}
	} else {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.UID] = u
	return u, nil
}

func (s *InMemory) SubscriptionFor(ctx context.Context, uid string) (Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[uid]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *InMemory) SetSubscription(ctx context.Context, uid string, sub Subscription) error {
	if uid == "" {
		return ErrInvalidUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[uid] = sub
	return nil
}
