package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository stores the session in Redis, for shared kiosk devices
// where several terminals front the same profile.
type RedisRepository struct {
	rdb   redis.UniversalClient
	key   string
	ttl   time.Duration
	owned bool
}

var _ Repository = (*RedisRepository)(nil)

// NewRedisRepository uses an existing client. A zero ttl keeps the record
// until it is cleared.
func NewRedisRepository(rdb redis.UniversalClient, namespace string, ttl time.Duration) *RedisRepository {
	return &RedisRepository{rdb: rdb, key: recordKey(namespace), ttl: ttl}
}

// NewRedisRepositoryFromAddress dials addr lazily and owns the client.
func NewRedisRepositoryFromAddress(addr, namespace string, ttl time.Duration) *RedisRepository {
	repo := NewRedisRepository(redis.NewClient(&redis.Options{Addr: addr}), namespace, ttl)
	repo.owned = true
	return repo
}

// Close closes the client if this repository created it.
func (r *RedisRepository) Close() error {
	if !r.owned {
		return nil
	}
	return r.rdb.Close()
}

func (r *RedisRepository) Load(ctx context.Context) (Persisted, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Persisted{}, ErrNotFound
		}
		return Persisted{}, fmt.Errorf("failed to load session from redis: %w", err)
	}

	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return Persisted{}, fmt.Errorf("failed to decode redis session: %w", err)
	}
	return p, nil
}

func (r *RedisRepository) Save(ctx context.Context, p Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode redis session: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

func (r *RedisRepository) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to delete redis session: %w", err)
	}
	return nil
}
