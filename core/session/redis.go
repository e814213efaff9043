package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore keeps sessions as JSON blobs with a server-side TTL, so the
// idle backstop works even if the owning process dies. Read-modify-write
// cycles are unguarded on purpose: the single-writer contract of
// [Store] means no other writer can interleave on the same call.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Init(ctx context.Context, state State) error {
	return s.write(ctx, state)
}

func (s *RedisStore) Get(ctx context.Context, callID string) (State, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+callID).Result()
	if errors.Is(err, redis.Nil) {
		return State{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read session %s: %w", callID, err)
	}

	var state State
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return State{}, fmt.Errorf("failed to decode session %s: %w", callID, err)
	}
	return state, nil
}

func (s *RedisStore) SetCurrentNode(ctx context.Context, callID, nodeID string) error {
	return s.mutate(ctx, callID, func(state *State) {
		state.CurrentNodeID = nodeID
	})
}

func (s *RedisStore) SetVariable(ctx context.Context, callID, key string, value any) error {
	return s.mutate(ctx, callID, func(state *State) {
		if state.Variables == nil {
			state.Variables = make(map[string]any)
		}
		state.Variables[key] = value
	})
}

func (s *RedisStore) AppendTranscript(ctx context.Context, callID string, entry TranscriptEntry) error {
	return s.mutate(ctx, callID, func(state *State) {
		state.Transcript = append(state.Transcript, entry)
	})
}

func (s *RedisStore) IncrementRetry(ctx context.Context, callID string) (int, error) {
	var count int
	err := s.mutate(ctx, callID, func(state *State) {
		state.RetryCount++
		count = state.RetryCount
	})
	return count, err
}

func (s *RedisStore) ResetRetry(ctx context.Context, callID string) error {
	return s.mutate(ctx, callID, func(state *State) {
		state.RetryCount = 0
	})
}

func (s *RedisStore) Destroy(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+callID).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", callID, err)
	}
	return nil
}

func (s *RedisStore) mutate(ctx context.Context, callID string, apply func(*State)) error {
	state, err := s.Get(ctx, callID)
	if err != nil {
		return err
	}
	apply(&state)
	return s.write(ctx, state)
}

func (s *RedisStore) write(ctx context.Context, state State) error {
	val, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.CallID, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+state.CallID, val, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session %s: %w", state.CallID, err)
	}
	return nil
}
