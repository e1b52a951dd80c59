package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ontosys/omscore/pkg/audit"
	"github.com/ontosys/omscore/pkg/events"
	"github.com/ontosys/omscore/pkg/freezegate"
	"github.com/ontosys/omscore/pkg/identity"
	"github.com/ontosys/omscore/pkg/lockmanager"
	"github.com/ontosys/omscore/pkg/mergeengine"
	"github.com/ontosys/omscore/pkg/shadowindex"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

// testIdentityProvider mirrors pkg/identity's own JWKS-backed test
// fixture, since this package's middleware exercises the real
// validator rather than a stub.
type testIdentityProvider struct {
	server  *httptest.Server
	private jwk.Key
}

const (
	testIssuer   = "https://issuer.oms.test"
	testAudience = "oms-core"
)

func newTestIdentityProvider(t *testing.T) *testIdentityProvider {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(raw.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "test-key-1"))
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
	require.NoError(t, priv.Set(jwk.KeyIDKey, "test-key-1"))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))

	return &testIdentityProvider{server: server, private: priv}
}

func (p *testIdentityProvider) token(t *testing.T, subject string, scopes string) string {
	t.Helper()
	token, err := jwt.NewBuilder().
		Issuer(testIssuer).
		Audience([]string{testAudience}).
		Subject(subject).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Claim("scope", scopes).
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, p.private))
	require.NoError(t, err)
	return string(signed)
}

// fakeIndexerClient lets shadowindex.Controller run without a real
// Indexer backend.
type fakeIndexerClient struct{}

func (fakeIndexerClient) RequestBuild(_ context.Context, _ shadowindex.BuildRequest) (shadowindex.BuildAck, error) {
	return shadowindex.BuildAck{Accepted: true}, nil
}

func newTestServer(t *testing.T) (*Server, *testIdentityProvider) {
	t.Helper()

	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateBranch(&types.Branch{Name: "main", State: types.BranchActive}))

	locks, err := lockmanager.NewManager(&lockmanager.Config{
		ReplicaID: "replica-1", BindAddr: freeAddr(t), DataDir: t.TempDir(),
	}, s)
	require.NoError(t, err)
	require.NoError(t, locks.Bootstrap())
	t.Cleanup(func() { _ = locks.Shutdown() })
	require.Eventually(t, locks.IsLeader, 5*time.Second, 10*time.Millisecond)

	provider := newTestIdentityProvider(t)
	keys, err := identity.NewKeyCache(context.Background(), provider.server.URL, time.Minute)
	require.NoError(t, err)
	validator := identity.NewValidator(keys, testIssuer, testAudience, time.Minute)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	deps := Deps{
		Store:    s,
		Locks:    locks,
		Gate:     freezegate.New(locks, s),
		Shadow:   shadowindex.NewController(s, fakeIndexerClient{}),
		Merge:    mergeengine.NewEngine(s),
		Audit:    audit.NewRecorder(nil),
		Identity: validator,
		Broker:   broker,
	}
	return NewServer(deps), provider
}

// freeAddr returns an ephemeral TCP address on 127.0.0.1, freed
// immediately so raft.NewTCPTransport can bind the OS-assigned port
// rather than advertising port 0 (matches pkg/freezegate's test helper).
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestHealthzAndReadyzAreUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestV1RouteWithoutTokenIsUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/branches/main/object_types", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestV1RouteWithMissingCapabilityIsForbidden(t *testing.T) {
	srv, provider := newTestServer(t)

	token := provider.token(t, "user-1", "api:schemas:read")
	req := httptest.NewRequest(http.MethodPost, "/v1/branches/main/object_types", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownV1RouteIsDeniedByDefault(t *testing.T) {
	srv, provider := newTestServer(t)

	token := provider.token(t, "admin", "api:system:admin")
	req := httptest.NewRequest(http.MethodGet, "/v1/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSchemaEntityCreateGetUpdateLifecycle(t *testing.T) {
	srv, provider := newTestServer(t)
	readWrite := provider.token(t, "editor-1", "api:schemas:read api:schemas:write")

	body := `{"APIName":"Customer","DisplayName":"Customer","Status":"active","Visibility":"normal"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/branches/main/object_types", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+readWrite)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created types.SchemaEntity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Customer", created.APIName)
	assert.Equal(t, int64(1), created.Version)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/branches/main/object_types/"+created.Rid, nil)
	getReq.Header.Set("Authorization", "Bearer "+readWrite)
	getRec := httptest.NewRecorder()
	srv.echo.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestSchemaWriteRejectedWhenBranchFrozen(t *testing.T) {
	srv, provider := newTestServer(t)
	readWrite := provider.token(t, "editor-1", "api:schemas:read api:schemas:write")

	_, err := srv.deps.Locks.AcquireLock(lockmanager.AcquireLockRequest{
		Branch: "main", Scope: types.ScopeResourceType, ResourceType: "object_type",
		Type: types.LockIndexing, Holder: "indexer-1", TTLSeconds: 300,
	})
	require.NoError(t, err)

	body := `{"APIName":"Customer","DisplayName":"Customer","Status":"active","Visibility":"normal"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/branches/main/object_types", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+readWrite)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusLocked, rec.Code)
}
