package identity

import "time"

// UserContext is the caller identity extracted from a validated access
// token.
type UserContext struct {
	Subject   string
	Username  string
	Email     string
	Roles     []string
	Scopes    []string
	Tenant    string
	ExpiresAt time.Time
}

// HasCapability reports whether cap is present in the token's scope
// set. Role membership is never consulted here — the scope set on the
// token governs.
func (u *UserContext) HasCapability(cap Capability) bool {
	for _, s := range u.Scopes {
		if s == string(cap) {
			return true
		}
	}
	return false
}

type contextKey struct{}

var userContextKey = contextKey{}
