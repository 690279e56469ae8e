package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"trivia-duel-service/internal/domain"
)

const (
	roomKeyPrefix    = "duel:room:"
	eventChanPrefix  = "duel:events:"
	deletedTombstone = "null"
	txAttempts       = 16
)

// GameStore keeps each duel document as a JSON value and mediates all
// compound mutations through WATCH/MULTI optimistic transactions.
// Committed snapshots are published on a per-room channel so every
// subscriber observes the same totally ordered sequence of states.
type GameStore struct {
	client *redis.Client
}

func NewGameStore(client *redis.Client) *GameStore {
	return &GameStore{client: client}
}

func roomKey(code string) string {
	return roomKeyPrefix + code
}

func eventChannel(code string) string {
	return eventChanPrefix + code
}

func (s *GameStore) Create(ctx context.Context, code string, game *domain.GameSession) error {
	game.Revision = 1
	data, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, roomKey(code), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return domain.ErrRoomExists
	}
	_ = s.client.Publish(ctx, eventChannel(code), data).Err()
	return nil
}

func (s *GameStore) Get(ctx context.Context, code string) (*domain.GameSession, error) {
	raw, err := s.client.Get(ctx, roomKey(code)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var game domain.GameSession
	if err := json.Unmarshal([]byte(raw), &game); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &game, nil
}

// Transact re-reads the document under WATCH, applies mutate and
// commits via MULTI/EXEC. A concurrent writer fails the EXEC and the
// whole cycle retries against fresh state, which is why mutate must be
// side-effect free. domain.ErrTxConflict surfaces only when the retry
// budget is spent.
func (s *GameStore) Transact(ctx context.Context, code string, mutate func(*domain.GameSession) error) (*domain.GameSession, error) {
	key := roomKey(code)
	var result *domain.GameSession

	for attempt := 0; attempt < txAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Result()
			if err != nil {
				if err == redis.Nil {
					return domain.ErrRoomNotFound
				}
				return err
			}
			var game domain.GameSession
			if err := json.Unmarshal([]byte(raw), &game); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
			if err := mutate(&game); err != nil {
				return err
			}
			game.Revision++
			data, err := json.Marshal(&game)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.Publish(ctx, eventChannel(code), data)
				return nil
			})
			if err != nil {
				return err
			}
			result = &game
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, domain.ErrTxConflict
}

func (s *GameStore) Delete(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, roomKey(code)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	// Tombstone tells subscribers the room is gone for good.
	_ = s.client.Publish(ctx, eventChannel(code), deletedTombstone).Err()
	return nil
}

func (s *GameStore) Subscribe(ctx context.Context, code string) (<-chan *domain.GameSession, func(), error) {
	ps := s.client.Subscribe(ctx, eventChannel(code))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	initial, err := s.Get(ctx, code)
	if err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan *domain.GameSession, 8)
	out <- initial

	// The channel attaches before the initial Get, so a commit landing in
	// that window gets replayed after a newer snapshot has already been
	// read. The revision counter filters those out.
	lastRev := initial.Revision

	var closeOnce sync.Once
	go func() {
		defer closeOnce.Do(func() { close(out) })
		for msg := range ps.Channel() {
			if msg.Payload == deletedTombstone {
				_ = ps.Close()
				return
			}
			var game domain.GameSession
			if err := json.Unmarshal([]byte(msg.Payload), &game); err != nil {
				log.Printf("duel %s: bad snapshot payload: %v", code, err)
				continue
			}
			if game.Revision <= lastRev {
				continue
			}
			lastRev = game.Revision
			select {
			case out <- &game:
			default:
				// Drop the oldest snapshot rather than block the feed.
				select {
				case <-out:
				default:
				}
				out <- &game
			}
		}
	}()

	cancel := func() {
		_ = ps.Close()
	}
	return out, cancel, nil
}
