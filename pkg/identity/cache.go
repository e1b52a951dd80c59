package identity

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type tokenCacheEntry struct {
	userCtx   *UserContext
	expiresAt time.Time
}

// TokenCache holds recently validated tokens for a short TTL so a
// signature is not re-verified on every request. Entries are keyed by
// an xxhash digest of the raw token rather than the token itself, the
// same hashing pkg/store.AdvisoryLock uses to key its in-process
// critical sections.
type TokenCache struct {
	mu        sync.RWMutex
	entries   map[uint64]tokenCacheEntry
	bySubject map[string]map[uint64]struct{}
	ttl       time.Duration
}

// NewTokenCache builds a TokenCache with the given TTL.
func NewTokenCache(ttl time.Duration) *TokenCache {
	return &TokenCache{
		entries:   make(map[uint64]tokenCacheEntry),
		bySubject: make(map[string]map[uint64]struct{}),
		ttl:       ttl,
	}
}

func tokenKey(token string) uint64 {
	return xxhash.Sum64String(token)
}

// Get returns the cached UserContext for token if present and not yet
// expired.
func (c *TokenCache) Get(token string, now time.Time) (*UserContext, bool) {
	key := tokenKey(token)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.After(entry.expiresAt) {
		c.mu.Lock()
		c.evict(key, entry.userCtx.Subject)
		c.mu.Unlock()
		return nil, false
	}
	return entry.userCtx, true
}

// Put caches uc for token until now+ttl.
func (c *TokenCache) Put(token string, uc *UserContext, now time.Time) {
	key := tokenKey(token)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = tokenCacheEntry{userCtx: uc, expiresAt: now.Add(c.ttl)}
	subs, ok := c.bySubject[uc.Subject]
	if !ok {
		subs = make(map[uint64]struct{})
		c.bySubject[uc.Subject] = subs
	}
	subs[key] = struct{}{}
}

// InvalidateSubject drops every cached token belonging to subject. It
// is called when a user.role_changed event arrives for that subject, so
// a revoked role takes effect on the subject's next request rather than
// waiting out the TTL.
func (c *TokenCache) InvalidateSubject(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.bySubject[subject] {
		delete(c.entries, key)
	}
	delete(c.bySubject, subject)
}

// evict removes one entry; callers must hold c.mu for writing.
func (c *TokenCache) evict(key uint64, subject string) {
	delete(c.entries, key)
	if subs, ok := c.bySubject[subject]; ok {
		delete(subs, key)
		if len(subs) == 0 {
			delete(c.bySubject, subject)
		}
	}
}

// Len reports the number of live cache entries, for tests.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
