package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	testIssuer   = "https://issuer.oms.test"
	testAudience = "oms-core"
	testKeyID    = "test-key-1"
)

// testIdentityProvider starts a JWKS endpoint and returns a signer for
// tokens that validate against it.
type testIdentityProvider struct {
	server  *httptest.Server
	private jwk.Key
}

func newTestIdentityProvider(t *testing.T) *testIdentityProvider {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(raw.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)

	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))

	return &testIdentityProvider{server: server, private: priv}
}

func (p *testIdentityProvider) sign(t *testing.T, build func(*jwt.Builder)) string {
	t.Helper()
	builder := jwt.NewBuilder().
		Issuer(testIssuer).
		Audience([]string{testAudience}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	build(builder)

	token, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, p.private))
	require.NoError(t, err)
	return string(signed)
}

func newTestValidator(t *testing.T, provider *testIdentityProvider) *Validator {
	t.Helper()
	keys, err := NewKeyCache(context.Background(), provider.server.URL, time.Minute)
	require.NoError(t, err)
	return NewValidator(keys, testIssuer, testAudience, time.Minute)
}

func TestValidatorExtractsUserContext(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	signed := provider.sign(t, func(b *jwt.Builder) {
		b.Subject("user-1").
			Claim("email", "alice@example.com").
			Claim("roles", []string{"editor"}).
			Claim("scope", "api:schemas:read api:schemas:write")
	})

	uc, err := v.Validate(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", uc.Subject)
	require.Equal(t, "alice@example.com", uc.Email)
	require.Contains(t, uc.Roles, "editor")
	require.True(t, uc.HasCapability(CapSchemasRead))
	require.True(t, uc.HasCapability(CapSchemasWrite))
	require.False(t, uc.HasCapability(CapSystemAdmin))
}

func TestValidatorCachesValidations(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	signed := provider.sign(t, func(b *jwt.Builder) {
		b.Subject("user-2").Claim("scope", "api:schemas:read")
	})

	_, err := v.Validate(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, 1, v.cache.Len())

	uc, err := v.Validate(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, "user-2", uc.Subject)
}

func TestValidatorRejectsWrongAudience(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	token, err := jwt.NewBuilder().
		Subject("user-3").
		Issuer(testIssuer).
		Audience([]string{"some-other-service"}).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, provider.private))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), string(signed))
	require.Error(t, err)
}

func TestValidatorRejectsExpiredToken(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	token, err := jwt.NewBuilder().
		Subject("user-4").
		Issuer(testIssuer).
		Audience([]string{testAudience}).
		Expiration(time.Now().Add(-time.Minute)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, provider.private))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), string(signed))
	require.Error(t, err)
}

func TestInvalidateSubjectForcesRevalidation(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	signed := provider.sign(t, func(b *jwt.Builder) {
		b.Subject("user-5").Claim("scope", "api:branches:write")
	})

	_, err := v.Validate(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, 1, v.cache.Len())

	v.InvalidateSubject("user-5")
	require.Equal(t, 0, v.cache.Len())

	uc, err := v.Validate(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, "user-5", uc.Subject)
}

func TestRouteTableDefaultDeny(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	routes := RouteTable{
		"/oms.v1.SchemaService/CreateObjectType": CapSchemasWrite,
	}
	interceptor := v.UnaryServerInterceptor(routes)
	require.NotNil(t, interceptor)

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	// A method not present in the route table is rejected without even
	// looking at the token.
	_, err := interceptor(context.Background(), "req",
		&grpc.UnaryServerInfo{FullMethod: "/oms.v1.SchemaService/UnknownMethod"}, handler)
	require.Error(t, err)
}

func TestUnaryServerInterceptorAllowsAuthorizedCaller(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	routes := RouteTable{
		"/oms.v1.SchemaService/CreateObjectType": CapSchemasWrite,
	}
	interceptor := v.UnaryServerInterceptor(routes)

	signed := provider.sign(t, func(b *jwt.Builder) {
		b.Subject("user-writer").Claim("scope", "api:schemas:write")
	})
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"authorization", "Bearer "+signed,
	))

	var sawUserContext *UserContext
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		sawUserContext = FromContext(ctx)
		return "ok", nil
	}

	resp, err := interceptor(ctx, "req",
		&grpc.UnaryServerInfo{FullMethod: "/oms.v1.SchemaService/CreateObjectType"}, handler)
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.NotNil(t, sawUserContext)
	require.Equal(t, "user-writer", sawUserContext.Subject)
}

func TestUnaryServerInterceptorRejectsMissingCapability(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	routes := RouteTable{
		"/oms.v1.SchemaService/CreateObjectType": CapSchemasWrite,
	}
	interceptor := v.UnaryServerInterceptor(routes)

	signed := provider.sign(t, func(b *jwt.Builder) {
		b.Subject("user-reader").Claim("scope", "api:schemas:read")
	})
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"authorization", "Bearer "+signed,
	))

	handlerCalled := false
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "ok", nil
	}

	_, err := interceptor(ctx, "req",
		&grpc.UnaryServerInfo{FullMethod: "/oms.v1.SchemaService/CreateObjectType"}, handler)
	require.Error(t, err)
	require.False(t, handlerCalled)
}

func TestUnaryServerInterceptorRejectsMissingToken(t *testing.T) {
	provider := newTestIdentityProvider(t)
	v := newTestValidator(t, provider)

	routes := RouteTable{
		"/oms.v1.SchemaService/CreateObjectType": CapSchemasWrite,
	}
	interceptor := v.UnaryServerInterceptor(routes)

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	_, err := interceptor(context.Background(), "req",
		&grpc.UnaryServerInfo{FullMethod: "/oms.v1.SchemaService/CreateObjectType"}, handler)
	require.Error(t, err)
}
