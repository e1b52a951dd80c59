package identity

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/ontosys/omscore/pkg/omserr"
)

const defaultMinRefreshInterval = 15 * time.Minute

// KeyCache wraps a jwk.Cache pointed at one JWKS endpoint, rotating
// keys automatically in the background. Validate never blocks a
// request on a key fetch except the very first one.
type KeyCache struct {
	cache *jwk.Cache
	url   string
}

// NewKeyCache registers jwksURL with a background auto-refreshing
// cache and performs one synchronous fetch so the cache is warm before
// the first request arrives. minRefreshInterval <= 0 uses a 15 minute
// default.
func NewKeyCache(ctx context.Context, jwksURL string, minRefreshInterval time.Duration) (*KeyCache, error) {
	if minRefreshInterval <= 0 {
		minRefreshInterval = defaultMinRefreshInterval
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(minRefreshInterval)); err != nil {
		return nil, omserr.Wrap(omserr.Internal, "register JWKS endpoint", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, omserr.Wrap(omserr.Unavailable, "fetch initial JWKS", err)
	}
	return &KeyCache{cache: cache, url: jwksURL}, nil
}

// Set returns the current key set, refreshing it from origin only if
// the cache's minimum refresh interval has elapsed.
func (k *KeyCache) Set(ctx context.Context) (jwk.Set, error) {
	set, err := k.cache.Get(ctx, k.url)
	if err != nil {
		return nil, omserr.Wrap(omserr.Unavailable, "load JWKS from cache", err)
	}
	return set, nil
}
