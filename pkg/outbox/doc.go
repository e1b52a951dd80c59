/*
Package outbox is the Outbox + Event Publisher (C3): at-least-once
delivery of domain events emitted during schema changes, with idempotent
consumption downstream.

Every state-changing command constructs a CloudEvents 1.0 envelope
(Envelope) and inserts it into the store's outbox bucket in the same
bbolt transaction as the business change (pkg/store.Tx.InsertOutbox),
following the transactional-outbox pattern: the business row and its
event row either both land or neither does.

Dispatcher is a long-running worker, shaped like the teacher's
ticker-driven poll loops, that claims pending (and due, retryable
failed) records via pkg/store.ClaimPendingOutbox, attempts delivery on a
configured Transport, and records the outcome: published, or failed with
an exponential backoff-and-jitter next_retry_at (github.com/cenkalti/
backoff/v4). Records that exhaust MaxRetries are routed to a DLQ sink
alongside their last error.

A Sanitizer runs over the event payload before it is ever persisted,
anonymizing, encrypting (via pkg/security.SecretsManager), or rejecting
fields that match configured PII patterns, depending on environment
policy.
*/
package outbox
