package placecache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore is a Backing that shares cached results between processes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type redisEnvelope struct {
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// NewRedisStore wraps a redis client. Keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get implements Backing.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, eris.Wrap(err, "placecache: redis get")
	}

	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, false, eris.Wrap(err, "placecache: decode redis envelope")
	}
	return env.Payload, env.CreatedAt, true, nil
}

// Set implements Backing. The redis expiry is the time remaining until the
// entry's TTL elapses; already-expired entries are not written.
func (s *RedisStore) Set(ctx context.Context, key string, payload []byte, createdAt time.Time, ttl time.Duration) error {
	remaining := ttl - time.Since(createdAt)
	if remaining <= 0 {
		return nil
	}

	raw, err := json.Marshal(redisEnvelope{CreatedAt: createdAt, Payload: payload})
	if err != nil {
		return eris.Wrap(err, "placecache: encode redis envelope")
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, remaining).Err(); err != nil {
		return eris.Wrap(err, "placecache: redis set")
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return eris.Wrap(err, "placecache: redis ping")
	}
	return nil
}
