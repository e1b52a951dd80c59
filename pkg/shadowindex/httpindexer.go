package shadowindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ontosys/omscore/pkg/omserr"
)

// HTTPIndexerClient is the production IndexerClient: it POSTs a build
// request to the external Indexer service's JSON endpoint, the same
// plain-HTTP style pkg/api uses for the core's own wire contract (no
// protoc toolchain is available to generate a typed gRPC client).
type HTTPIndexerClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIndexerClient builds a client against the Indexer's base URL
// (e.g. "http://indexer:8090").
func NewHTTPIndexerClient(baseURL string, timeout time.Duration) *HTTPIndexerClient {
	return &HTTPIndexerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewHTTPIndexerClientTLS builds a client identical to NewHTTPIndexerClient
// but dialing over mTLS using tlsConfig, the way cmd/omscore's serve
// command wires it when a CertAuthority is configured (a client cert from
// security.CertAuthority.ClientTLSConfig presented to the Indexer, whose
// server certificate must chain to the same root).
func NewHTTPIndexerClientTLS(baseURL string, timeout time.Duration, tlsConfig *tls.Config) *HTTPIndexerClient {
	return &HTTPIndexerClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
	}
}

// RequestBuild posts req to the Indexer's /v1/build endpoint and decodes
// its synchronous acknowledgement.
func (c *HTTPIndexerClient) RequestBuild(ctx context.Context, req BuildRequest) (BuildAck, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return BuildAck{}, omserr.Wrap(omserr.Internal, "encode build request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/build", bytes.NewReader(payload))
	if err != nil {
		return BuildAck{}, omserr.Wrap(omserr.Internal, "build indexer request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return BuildAck{}, omserr.Wrap(omserr.Unavailable, "indexer request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return BuildAck{}, omserr.Newf(omserr.Unavailable, "indexer returned status %d", resp.StatusCode)
	}

	var ack BuildAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return BuildAck{}, omserr.Wrap(omserr.Internal, "decode indexer acknowledgement", err)
	}
	return ack, nil
}
