package identity

import (
	"context"
	"time"
	"trade-chat/domain"
	"trade-chat/errors"

	"github.com/dgraph-io/ristretto/v2"
)

var _ Cache = (*LocalCache)(nil)

// LocalCache keeps identities in process memory.
type LocalCache struct {
	cache *ristretto.Cache[string, domain.Identity]
	ttl   time.Duration
}

func NewLocalCache(maxEntries int64, ttl time.Duration) (*LocalCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, domain.Identity]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Every entry costs 1, so MaxCost is an entry count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &LocalCache{cache: cache, ttl: ttlOrDefault(ttl)}, nil
}

func (l *LocalCache) Get(_ context.Context, userID string) (domain.Identity, error) {
	identity, ok := l.cache.Get(cacheKey(userID))
	if !ok {
		return domain.Identity{}, errors.ErrCacheMiss
	}
	return identity, nil
}

// Set waits for the write buffer so the next Get observes the entry.
func (l *LocalCache) Set(_ context.Context, identity domain.Identity) error {
	l.cache.SetWithTTL(cacheKey(identity.UserID), identity, 1, l.ttl)
	l.cache.Wait()
	return nil
}

func (l *LocalCache) Invalidate(_ context.Context, userID string) error {
	l.cache.Del(cacheKey(userID))
	return nil
}

func (l *LocalCache) Close() error {
	l.cache.Close()
	return nil
}
