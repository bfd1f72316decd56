package session

import (
	"context"
	"sync"
)

// Store holds the canonical Session and fans state changes out to
// subscribers. It has exactly one writer (the Core) and unboundedly many
// readers; readers only ever see deep-copied snapshots.
type Store struct {
	mu   sync.RWMutex
	cur  Session
	subs map[int]chan Session
	next int
}

// NewStore creates a store holding the logged-out defaults.
func NewStore() *Store {
	return &Store{
		subs: make(map[int]chan Session),
	}
}

// Snapshot returns a copy of the current session state.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// Subscribe registers a subscriber and returns a channel receiving every
// published state, starting with the current one. The channel is closed when
// the provided context ends.
func (s *Store) Subscribe(ctx context.Context) <-chan Session {
	ch := make(chan Session, 16)

	s.mu.Lock()
	ch <- s.cur.clone()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// publish replaces the current state and notifies subscribers. The Core
// always computes the full next state before calling this, so consumers
// never observe interleaved partial updates.
func (s *Store) publish(next Session) {
	s.mu.Lock()
	s.cur = next.clone()
	for _, ch := range s.subs {
		select {
		case ch <- next.clone():
		default:
			// Drop when subscriber is slow to avoid blocking the writer.
		}
	}
	s.mu.Unlock()
}
