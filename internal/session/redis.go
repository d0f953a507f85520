package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "burgerxpress:session:"

var _ Store = (*RedisStore)(nil)

// RedisConfig holds the connection settings of a [RedisStore].
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps sessions as JSON strings with a sliding expiry, so that
// several trainer replicas can serve the same trainee.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("session: redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(rdb, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client. A zero ttl uses
// [DefaultTTL].
func NewRedisStoreWithClient(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Load implements [Store].
func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", id, err)
	}
	return decode(data)
}

// Save implements [Store].
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: save %s: %w", s.ID, err)
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+s.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: save %s: %w", s.ID, err)
	}
	return nil
}

// Delete implements [Store].
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// Ping reports whether redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
