package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	ip      net.IP
	expires time.Time
}

// Cached remembers successful lookups of the wrapped Resolver for TTL.
// Failures are not cached.
type Cached struct {
	next  Resolver
	ttl   time.Duration
	cache *lru.Cache[string, cacheEntry]
	now   func() time.Time
}

// NewCached wraps next with an LRU cache holding at most size names.
func NewCached(next Resolver, size int, ttl time.Duration) (*Cached, error) {
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("resolver cache: %w", err)
	}
	return &Cached{next: next, ttl: ttl, cache: cache, now: time.Now}, nil
}

func (c *Cached) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	now := c.now()
	if e, ok := c.cache.Get(host); ok && now.Before(e.expires) {
		return e.ip, nil
	}

	ip, err := c.next.LookupIPv4(ctx, host)
	if err != nil {
		return nil, err
	}
	c.cache.Add(host, cacheEntry{ip: ip, expires: now.Add(c.ttl)})
	return ip, nil
}
