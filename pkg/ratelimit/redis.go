package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key suffixes for quota state storage.
const (
	RedisKeyQuotaRemaining = "quota:remaining"
	RedisKeyQuotaMax       = "quota:max"
	RedisKeyLastUpdate     = "quota:last_update"
)

// DefaultNamespace prefixes all Redis keys written by RedisStore.
const DefaultNamespace = "se"

// ErrNoState is returned by Load when no snapshot has been stored yet.
var ErrNoState = errors.New("no quota state stored")

// RedisStore publishes quota snapshots to Redis.
type RedisStore struct {
	redis     *redis.Client
	namespace string
}

// NewRedisStore creates a store writing keys under namespace
// (DefaultNamespace when empty).
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisStore{redis: client, namespace: namespace}
}

// Key returns the full Redis key for a suffix.
func (s *RedisStore) Key(suffix string) string {
	return s.namespace + ":" + suffix
}

// Save stores the snapshot atomically.
func (s *RedisStore) Save(ctx context.Context, state QuotaState) error {
	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.Key(RedisKeyQuotaRemaining), state.Remaining, 0)
	pipe.Set(ctx, s.Key(RedisKeyQuotaMax), state.Max, 0)
	pipe.Set(ctx, s.Key(RedisKeyLastUpdate), lastUpdateJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}
	return nil
}

// Load reads the last stored snapshot. It returns ErrNoState if none exists.
func (s *RedisStore) Load(ctx context.Context) (*QuotaState, error) {
	remaining, err := s.redis.Get(ctx, s.Key(RedisKeyQuotaRemaining)).Int()
	if err == redis.Nil {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("get quota remaining: %w", err)
	}

	max, err := s.redis.Get(ctx, s.Key(RedisKeyQuotaMax)).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get quota max: %w", err)
	}

	lastUpdateStr, err := s.redis.Get(ctx, s.Key(RedisKeyLastUpdate)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &QuotaState{
		Remaining:  remaining,
		Max:        max,
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()
	return state, nil
}
