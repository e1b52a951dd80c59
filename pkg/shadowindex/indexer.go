package shadowindex

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ontosys/omscore/pkg/metrics"
)

// BuildRequest is what the Controller asks the external Indexer to do
// when a shadow build starts.
type BuildRequest struct {
	ShadowID      string
	Branch        string
	IndexType     string
	ResourceTypes []string
	Config        map[string]string
}

// BuildAck is the Indexer's synchronous acknowledgement that it accepted
// the build request; progress after this point streams back via
// Controller.UpdateProgress, called from the Indexer side.
type BuildAck struct {
	Accepted bool
	Message  string
}

// IndexerClient is the Controller's view of the external Indexer. The
// production implementation dials the Indexer over gRPC; tests use a
// fake.
type IndexerClient interface {
	RequestBuild(ctx context.Context, req BuildRequest) (BuildAck, error)
}

// CircuitIndexerClient wraps an IndexerClient in a github.com/sony/
// gobreaker circuit breaker, since the Indexer connection is dedicated
// and must stay subject to a circuit breaker. A flaky or wedged
// Indexer trips the breaker and RequestBuild fails fast instead of
// blocking the caller for the full RPC timeout on every call.
type CircuitIndexerClient struct {
	inner   IndexerClient
	breaker *gobreaker.CircuitBreaker[BuildAck]
}

// NewCircuitIndexerClient wraps inner with default trip settings: opens
// after 5 consecutive failures, half-opens after 30s, and reports state
// transitions to the oms_indexer_circuit_state gauge.
func NewCircuitIndexerClient(inner IndexerClient) *CircuitIndexerClient {
	settings := gobreaker.Settings{
		Name:        "indexer-rpc",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			metrics.IndexerCircuitState.Set(circuitStateValue(to))
		},
	}
	return &CircuitIndexerClient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[BuildAck](settings),
	}
}

func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// RequestBuild routes the call through the circuit breaker.
func (c *CircuitIndexerClient) RequestBuild(ctx context.Context, req BuildRequest) (BuildAck, error) {
	return c.breaker.Execute(func() (BuildAck, error) {
		return c.inner.RequestBuild(ctx, req)
	})
}
