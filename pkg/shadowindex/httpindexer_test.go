package shadowindex

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPIndexerClientRequestBuildSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/build", r.URL.Path)
		var req BuildRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "main", req.Branch)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(BuildAck{Accepted: true, Message: "queued"})
	}))
	defer srv.Close()

	client := NewHTTPIndexerClient(srv.URL, 5*time.Second)
	ack, err := client.RequestBuild(context.Background(), BuildRequest{Branch: "main"})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "queued", ack.Message)
}

func TestHTTPIndexerClientRequestBuildSurfacesUnavailableOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPIndexerClient(srv.URL, 5*time.Second)
	_, err := client.RequestBuild(context.Background(), BuildRequest{Branch: "main"})
	require.Error(t, err)
}

func TestHTTPIndexerClientRequestBuildSurfacesUnavailableOnTransportError(t *testing.T) {
	// No server listening on this address.
	client := NewHTTPIndexerClient("http://127.0.0.1:1", 100*time.Millisecond)
	_, err := client.RequestBuild(context.Background(), BuildRequest{Branch: "main"})
	require.Error(t, err)
}

func TestNewHTTPIndexerClientTLSUsesSuppliedConfig(t *testing.T) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS13}
	client := NewHTTPIndexerClientTLS("https://indexer.invalid", 5*time.Second, cfg)
	require.NotNil(t, client)

	transport, ok := client.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Same(t, cfg, transport.TLSClientConfig)
}
