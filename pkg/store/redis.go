package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

const redisKeyPrefix = "agentreg:agent:"

// RedisStore keeps each record as a single string value holding the
// encoded layout. Updates use WATCH/MULTI so a concurrent write aborts the
// transaction.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromAddr creates a store backed by a new single-node client.
func NewRedisStoreFromAddr(addr string, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

func redisKey(h agent.Handle) string {
	return redisKeyPrefix + h.String()
}

// isOOM reports whether Redis refused a write because maxmemory was hit.
func isOOM(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "OOM ")
}

func (s *RedisStore) Create(ctx context.Context, h agent.Handle, a *agent.Agent) error {
	ok, err := s.client.SetNX(ctx, redisKey(h), agent.Encode(a), 0).Result()
	if err != nil {
		if isOOM(err) {
			return fmt.Errorf("%w: %v", agent.ErrAllocationFailed, err)
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	if !ok {
		return agent.ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, h agent.Handle) (*agent.Agent, error) {
	raw, err := s.client.Get(ctx, redisKey(h)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, agent.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return agent.Decode(raw)
}

func (s *RedisStore) Update(ctx context.Context, h agent.Handle, fn func(*agent.Agent) error) (*agent.Agent, error) {
	key := redisKey(h)
	var out *agent.Agent

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return agent.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load agent: %w", err)
		}
		a, err := agent.Decode(raw)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, agent.Encode(a), 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = a
		return nil
	}, key)

	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, redis.TxFailedErr):
		return nil, agent.ErrConflict
	case isOOM(err):
		return nil, fmt.Errorf("%w: %v", agent.ErrAllocationFailed, err)
	default:
		return nil, err
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
