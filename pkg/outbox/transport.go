package outbox

import (
	"context"

	"github.com/ontosys/omscore/pkg/events"
)

// Transport delivers a published envelope to whatever downstream system
// subscribers consume events from (in-process broker, message broker,
// webhook sink). Publish reports delivery success independently of any
// error, so the dispatcher can distinguish a transport-level failure from
// a transport that accepted the envelope but could not confirm delivery.
type Transport interface {
	Publish(ctx context.Context, envelope *Envelope) (ok bool, err error)
}

// BrokerTransport adapts pkg/events.Broker as a Transport, translating a
// CloudEvents Envelope into the broker's lighter in-process Event shape.
// This is the default Transport wired by cmd/omscore for single-process
// deployments; a message-broker-backed Transport can be substituted
// without changing the dispatcher.
type BrokerTransport struct {
	broker *events.Broker
}

// NewBrokerTransport wraps an already-started events.Broker.
func NewBrokerTransport(broker *events.Broker) *BrokerTransport {
	return &BrokerTransport{broker: broker}
}

// Publish always reports ok=true: the broker's Publish is non-blocking
// and fire-and-forget, so there is no delivery failure to surface short
// of the broker being stopped, in which case Publish silently drops.
func (t *BrokerTransport) Publish(ctx context.Context, envelope *Envelope) (bool, error) {
	metadata := map[string]string{
		"correlation_id": envelope.CorrelationID,
		"causation_id":   envelope.CausationID,
		"branch":         envelope.Branch,
		"commit":         envelope.Commit,
		"author":         envelope.Author,
		"tenant":         envelope.Tenant,
		"subject":        envelope.Subject,
	}
	t.broker.Publish(&events.Event{
		ID:        envelope.ID,
		Type:      events.EventType(envelope.Type),
		Timestamp: envelope.Time,
		Message:   envelope.Subject,
		Metadata:  metadata,
	})
	return true, nil
}
