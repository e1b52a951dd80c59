/*
Package identity is Identity & Scope Enforcement (C8): it gates every
request with a validated externally issued access token and the
scope-to-capability matrix.

KeyCache wraps a github.com/lestrrat-go/jwx/v2/jwk.Cache pointed at a
deployment's JWKS endpoint, rotating keys automatically in the
background so Validator never blocks a request on a key fetch.

Validator.Validate verifies signature, iss, aud, exp and kid, then
extracts {sub, username, email, roles, scopes, tenant} into a
UserContext. Validated tokens are cached with a short TTL (TokenCache)
to avoid re-verifying a signature on every request; the cache is
invalidated per-subject on a user.role_changed event received through
pkg/events, so a revoked role takes effect within one TTL window at
worst and immediately at best.

The capability matrix is deliberately scope-first: a caller's roles are
informational, never sufficient on their own — RequireCapability checks
the scope set the token actually carries. Any gRPC method absent from
the interceptor's route table is denied by default.
*/
package identity
