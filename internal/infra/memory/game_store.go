package memory

import (
	"context"
	"sync"

	"trivia-duel-service/internal/domain"
)

// GameStore is the in-process implementation of app.GameStore: a
// mutex-guarded document map with per-subscriber snapshot channels.
// Useful for tests and single-node runs; the Redis store covers the
// multi-writer case.
type GameStore struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	doc  *domain.GameSession
	subs map[chan *domain.GameSession]struct{}
}

func NewGameStore() *GameStore {
	return &GameStore{rooms: make(map[string]*room)}
}

func (s *GameStore) Create(_ context.Context, code string, game *domain.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		return domain.ErrRoomExists
	}
	doc := game.Clone()
	doc.Revision = 1
	s.rooms[code] = &room{
		doc:  doc,
		subs: make(map[chan *domain.GameSession]struct{}),
	}
	return nil
}

func (s *GameStore) Get(_ context.Context, code string) (*domain.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return r.doc.Clone(), nil
}

func (s *GameStore) Transact(_ context.Context, code string, mutate func(*domain.GameSession) error) (*domain.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	next := r.doc.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Revision = r.doc.Revision + 1
	r.doc = next
	r.broadcastLocked()
	return next.Clone(), nil
}

func (s *GameStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok {
		return nil
	}
	delete(s.rooms, code)
	for ch := range r.subs {
		close(ch)
	}
	return nil
}

func (s *GameStore) Subscribe(_ context.Context, code string) (<-chan *domain.GameSession, func(), error) {
	s.mu.Lock()
	r, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return nil, nil, domain.ErrRoomNotFound
	}
	ch := make(chan *domain.GameSession, 8)
	r.subs[ch] = struct{}{}
	ch <- r.doc.Clone()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r, ok := s.rooms[code]; ok {
			if _, live := r.subs[ch]; live {
				delete(r.subs, ch)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}

// broadcastLocked fans the latest snapshot out without blocking on a
// slow subscriber: a full buffer drops its oldest snapshot first.
func (r *room) broadcastLocked() {
	for ch := range r.subs {
		snapshot := r.doc.Clone()
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}
