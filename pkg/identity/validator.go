package identity

import (
	"context"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/omserr"
)

const defaultTokenCacheTTL = 60 * time.Second

// Validator verifies bearer tokens against a JWKS key cache and
// extracts a UserContext, caching validated results for a short TTL.
type Validator struct {
	keys     *KeyCache
	issuer   string
	audience string
	cache    *TokenCache
}

// NewValidator builds a Validator. issuer/audience, when non-empty, are
// enforced as required claim checks alongside the token's own exp and
// kid; cacheTTL <= 0 uses a 60 second default.
func NewValidator(keys *KeyCache, issuer, audience string, cacheTTL time.Duration) *Validator {
	if cacheTTL <= 0 {
		cacheTTL = defaultTokenCacheTTL
	}
	return &Validator{keys: keys, issuer: issuer, audience: audience, cache: NewTokenCache(cacheTTL)}
}

// Validate verifies tokenString's signature (matching its kid header
// against the JWKS set), iss, aud and exp, and returns the extracted
// UserContext. A cache hit skips signature verification entirely.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*UserContext, error) {
	now := time.Now()
	if uc, ok := v.cache.Get(tokenString, now); ok {
		metrics.AuthTokenCacheHitsTotal.WithLabelValues("hit").Inc()
		return uc, nil
	}
	metrics.AuthTokenCacheHitsTotal.WithLabelValues("miss").Inc()

	set, err := v.keys.Set(ctx)
	if err != nil {
		return nil, err
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), parseOpts...)
	if err != nil {
		return nil, omserr.Wrap(omserr.Unauthenticated, "validate access token", err)
	}

	uc := &UserContext{
		Subject:   token.Subject(),
		Username:  claimString(token, "username", "preferred_username"),
		Email:     claimString(token, "email"),
		Roles:     claimStrings(token, "roles"),
		Scopes:    claimStrings(token, "scope", "scopes"),
		Tenant:    claimString(token, "tenant"),
		ExpiresAt: token.Expiration(),
	}

	v.cache.Put(tokenString, uc, now)
	return uc, nil
}

// InvalidateSubject evicts every cached validation for subject, called
// when a user.role_changed event arrives for it.
func (v *Validator) InvalidateSubject(subject string) {
	v.cache.InvalidateSubject(subject)
}

// claimString returns the first non-empty string claim found among
// names.
func claimString(token jwt.Token, names ...string) string {
	for _, name := range names {
		if raw, ok := token.Get(name); ok {
			if s, ok := raw.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// claimStrings returns the first populated claim among names, accepting
// a JSON array, a []string, or an OAuth2-style space-separated string
// (the conventional shape of the "scope" claim).
func claimStrings(token jwt.Token, names ...string) []string {
	for _, name := range names {
		raw, ok := token.Get(name)
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case []string:
			if len(v) > 0 {
				return v
			}
		case []interface{}:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case string:
			if v != "" {
				return strings.Fields(v)
			}
		}
	}
	return nil
}
