package identity

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
	"trade-chat/domain"
	"trade-chat/errors"

	"github.com/redis/go-redis/v9"
)

var _ Cache = (*RedisCache)(nil)

// RedisCache shares identities between service instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to url (redis://...) and pings it once.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err = client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisCache{client: client, ttl: ttlOrDefault(ttl)}, nil
}

func (r *RedisCache) Get(ctx context.Context, userID string) (domain.Identity, error) {
	var identity domain.Identity
	bytes, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return identity, errors.ErrCacheMiss
	}
	if err != nil {
		return identity, err
	}
	err = json.Unmarshal(bytes, &identity)
	return identity, err
}

func (r *RedisCache) Set(ctx context.Context, identity domain.Identity) error {
	bytes, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, cacheKey(identity.UserID), bytes, r.ttl).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return r.client.Del(ctx, cacheKey(userID)).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
