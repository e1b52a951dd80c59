package events

import (
	"sync"
	"time"
)

// EventType is a CloudEvents "type"/subject taxonomy entry. Consumers
// subscribe to these subjects (wildcards like "objecttype.*" are a
// consumer-side prefix match, not a broker-side concept).
type EventType string

const (
	EventSchemaCreated EventType = "schema.created"
	EventSchemaUpdated EventType = "schema.updated"
	EventSchemaDeleted EventType = "schema.deleted"

	EventObjectTypeCreated EventType = "objecttype.created"
	EventObjectTypeUpdated EventType = "objecttype.updated"
	EventObjectTypeDeleted EventType = "objecttype.deleted"

	EventPropertyCreated EventType = "property.created"
	EventPropertyUpdated EventType = "property.updated"
	EventPropertyDeleted EventType = "property.deleted"

	EventLinkTypeCreated EventType = "linktype.created"
	EventLinkTypeUpdated EventType = "linktype.updated"
	EventLinkTypeDeleted EventType = "linktype.deleted"

	EventBranchCreated  EventType = "branch.created"
	EventBranchArchived EventType = "branch.archived"
	EventBranchMerged   EventType = "branch.merged"

	EventProposalCreated  EventType = "proposal.created"
	EventProposalApproved EventType = "proposal.approved"
	EventProposalRejected EventType = "proposal.rejected"
	EventProposalMerged   EventType = "proposal.merged"

	EventIndexingStarted   EventType = "indexing.started"
	EventIndexingCompleted EventType = "indexing.completed"
	EventIndexingFailed    EventType = "indexing.failed"

	EventLockAcquired EventType = "lock.acquired"
	EventLockReleased EventType = "lock.released"
	EventLockExpired  EventType = "lock.expired"

	EventAuditActivity EventType = "audit.activity.v1"

	// EventUserRoleChanged carries the affected subject in
	// Event.Metadata["subject"]; pkg/identity subscribes to it to evict
	// that subject's cached token validations.
	EventUserRoleChanged EventType = "user.role_changed"
)

// Event represents a cluster event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
