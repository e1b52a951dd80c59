/*
Package events provides an in-memory event broker for the OMS core's
pub/sub messaging, and doubles as the default in-process events.Transport
adapter consumed by pkg/outbox's dispatcher.

The events package implements a lightweight event bus for broadcasting
schema-change, lock, indexing, and audit events to interested
subscribers. It supports asynchronous event delivery, enabling loose
coupling between OMS engines for state changes, notifications, and
monitoring.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Subject-agnostic (all events broadcast)  │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Subjects                    │          │
	│  │                                              │          │
	│  │  Schema:    schema.created|updated|deleted  │          │
	│  │  ObjectType / Property / LinkType: *.*      │          │
	│  │  Branch:    branch.created, branch.merged   │          │
	│  │  Proposal:  proposal.created|approved|...   │          │
	│  │  Indexing:  indexing.started|completed|...  │          │
	│  │  Lock:      lock.acquired|released|expired  │          │
	│  │  Audit:     audit.activity.v1               │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  API Server: Stream events to RPC clients   │          │
	│  │  Metrics:    Count events for dashboards    │          │
	│  │  Audit:      Project into the audit log     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

This broker is one Transport implementation pkg/outbox's dispatcher can
target; outbox also carries the durable CloudEvents envelope with the
full wire-contract fields (specversion, source, datacontenttype,
correlationid, causationid, branch, commit, author, tenant). Event here
is the lighter in-process notification shape used for the broker fan-out
itself.

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier
  - Type: Event subject (schema.created, lock.acquired, etc.)
  - Timestamp: When event occurred
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context (branch, rid, ...)

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (non-blocking)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Subscribers receive event asynchronously
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created and registered
 3. Subscriber receives events via channel
 4. Subscriber processes events in its own goroutine

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map and closed

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventSchemaCreated:
				handleSchemaCreated(event)
			case events.EventLockAcquired:
				handleLockAcquired(event)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventSchemaCreated,
		Message: "object type 'Employee' created on branch main",
		Metadata: map[string]string{"branch": "main", "rid": "ri.ontology.main.object-type.employee"},
	})

# Event Subjects Catalog

Schema:
  - schema.created|updated|deleted: any SchemaEntity mutation, emitted in
    addition to the more specific objecttype/property/linktype subject.

ObjectType / Property / LinkType:
  - {kind}.created|updated|deleted, one family per EntityKind.

Branch:
  - branch.created: a new branch was created.
  - branch.merged: C6 completed a merge into the branch.

Proposal:
  - proposal.created|approved|rejected|merged: ChangeSet state transitions.

Indexing:
  - indexing.started|completed|failed: C5 shadow-index lifecycle.

Lock:
  - lock.acquired|released|expired: C2 lock lifecycle, including sweeper
    force-releases.

Audit:
  - audit.activity.v1: a versioned envelope wrapping every AuditRecord,
    for external SIEM/log-shipping consumers.

# Design Patterns

Non-Blocking Publish:
  - Publish sends to a buffered channel and returns immediately; events
    may be dropped if the buffer is full. Durable delivery for
    domain events is the outbox's job (pkg/outbox), not this broker's.

Fan-Out:
  - Single event broadcast to all subscribers, each with its own
    channel and independent processing rate; full buffers skip rather
    than block the broadcaster.

Fire-and-Forget:
  - No acknowledgment from subscribers, no retry on delivery failure.
    Suitable for metrics/CLI-watch use, not for at-least-once delivery
    guarantees (see pkg/outbox for those).

# Limitations

  - In-memory only; no persistence, replay, or guaranteed delivery.
  - No subject-based filtering at the broker; subscribers filter
    client-side on Event.Type.

# See Also

  - pkg/outbox for the durable, at-least-once CloudEvents delivery path
  - pkg/audit for the audit.activity.v1 projector
  - pkg/api for RPC event streaming to CLI/UI clients
*/
package events
