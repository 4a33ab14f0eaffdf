package identity

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"
	"trade-chat/contract"
	"trade-chat/domain"
	"trade-chat/errors"
)

// Cache stores directory answers for a bounded time.
// Get returns errors.ErrCacheMiss when nothing fresh is stored.
type Cache interface {
	Get(ctx context.Context, userID string) (domain.Identity, error)
	Set(ctx context.Context, identity domain.Identity) error
	Invalidate(ctx context.Context, userID string) error
	Close() error
}

var _ contract.IdentityLookup = (*CachedLookup)(nil)

// CachedLookup serves identities from cache and falls through to the directory.
// Entries expire after the cache TTL; Invalidate drops one user immediately,
// for instance when the directory reports a profile change.
// Unknown users and failures are never cached.
type CachedLookup struct {
	next  contract.IdentityLookup
	cache Cache
	log   *slog.Logger
}

func NewCachedLookup(next contract.IdentityLookup, cache Cache, log *slog.Logger) *CachedLookup {
	return &CachedLookup{next: next, cache: cache, log: log}
}

func (c *CachedLookup) Lookup(ctx context.Context, userID string) (domain.Identity, error) {
	identity, err := c.cache.Get(ctx, userID)
	if err == nil {
		return identity, nil
	}
	if !stderrors.Is(err, errors.ErrCacheMiss) {
		c.log.Warn("Identity cache read failed", "user_id", userID, "error", err)
	}

	identity, err = c.next.Lookup(ctx, userID)
	if err != nil {
		return identity, err
	}
	if err = c.cache.Set(ctx, identity); err != nil {
		c.log.Warn("Identity cache write failed", "user_id", userID, "error", err)
	}
	return identity, nil
}

func (c *CachedLookup) Invalidate(ctx context.Context, userID string) error {
	return c.cache.Invalidate(ctx, userID)
}

func cacheKey(userID string) string { return "identity:" + userID }

// ttlOrDefault keeps a zero TTL from meaning "forever" in either backend.
func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Minute
	}
	return ttl
}
