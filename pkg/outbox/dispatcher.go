package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultClaimBatch   = 50
	defaultMaxRetries   = 3
)

// DLQSink receives outbox records that exhausted MaxRetries, alongside
// the error from their final attempt.
type DLQSink interface {
	Send(ctx context.Context, record *types.OutboxRecord, lastErr error) error
}

// LogDLQSink logs exhausted records via pkg/log; it is the default sink
// when the caller wires no other one.
type LogDLQSink struct{}

func (LogDLQSink) Send(_ context.Context, record *types.OutboxRecord, lastErr error) error {
	log.Logger.Error().
		Str("outbox_id", record.ID).
		Str("event_type", record.Type).
		Int("retry_count", record.RetryCount).
		Err(lastErr).
		Msg("outbox record exhausted retries, routed to DLQ")
	return nil
}

// Dispatcher claims pending (and due, retryable-failed) outbox records on
// a ticker and attempts delivery via Transport, following the teacher's
// ticker-driven poll loop shape (pkg/worker.HealthMonitor.monitorLoop).
// It satisfies metrics.OutboxStats.
type Dispatcher struct {
	store        store.Store
	transport    Transport
	dlq          DLQSink
	pollInterval time.Duration
	claimBatch   int
	maxRetries   int
	backoffBase  func() backoff.BackOff

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher creates a Dispatcher with the given store and transport.
// dlq may be nil, in which case LogDLQSink is used.
func NewDispatcher(s store.Store, transport Transport, dlq DLQSink) *Dispatcher {
	if dlq == nil {
		dlq = LogDLQSink{}
	}
	return &Dispatcher{
		store:        s,
		transport:    transport,
		dlq:          dlq,
		pollInterval: defaultPollInterval,
		claimBatch:   defaultClaimBatch,
		maxRetries:   defaultMaxRetries,
		backoffBase:  newExponentialBackoff,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func newExponentialBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.3
	b.MaxElapsedTime = 0 // retry scheduling is driven by the outbox table, not this timer
	return b
}

// Start begins the poll loop in a background goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop stops the poll loop and waits for the in-flight batch to finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.dispatchBatch(context.Background())
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) {
	claimed, err := d.store.ClaimPendingOutbox(d.claimBatch, time.Now())
	if err != nil {
		log.Logger.Error().Err(err).Msg("outbox dispatcher: claim failed")
		return
	}
	for _, record := range claimed {
		d.dispatchOne(ctx, record)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, record *types.OutboxRecord) {
	var envelope Envelope
	if err := json.Unmarshal(record.Payload, &envelope); err != nil {
		d.fail(ctx, record, err)
		return
	}

	ok, err := d.transport.Publish(ctx, &envelope)
	if err != nil || !ok {
		d.fail(ctx, record, err)
		return
	}

	now := time.Now()
	record.Status = types.OutboxPublishedStatus
	record.PublishedAt = &now
	record.LastError = ""
	if updateErr := d.store.UpdateOutbox(record); updateErr != nil {
		log.Logger.Error().Err(updateErr).Str("outbox_id", record.ID).Msg("outbox dispatcher: update after publish failed")
	}
}

func (d *Dispatcher) fail(ctx context.Context, record *types.OutboxRecord, cause error) {
	record.RetryCount++
	if cause != nil {
		record.LastError = cause.Error()
	}

	maxRetries := d.maxRetries
	if record.MaxRetries > 0 {
		maxRetries = record.MaxRetries
	}
	if record.RetryCount >= maxRetries {
		if err := d.dlq.Send(ctx, record, cause); err != nil {
			log.Logger.Error().Err(err).Str("outbox_id", record.ID).Msg("outbox dispatcher: DLQ send failed")
		}
		record.Status = types.OutboxFailedStatus
		record.NextRetryAt = nil
		if err := d.store.UpdateOutbox(record); err != nil {
			log.Logger.Error().Err(err).Str("outbox_id", record.ID).Msg("outbox dispatcher: update after DLQ failed")
		}
		return
	}

	next := time.Now().Add(d.backoffBase().NextBackOff())
	record.Status = types.OutboxFailedStatus
	record.NextRetryAt = &next
	if err := d.store.UpdateOutbox(record); err != nil {
		log.Logger.Error().Err(err).Str("outbox_id", record.ID).Msg("outbox dispatcher: update after retry schedule failed")
	}
}

// PendingCount implements metrics.OutboxStats.
func (d *Dispatcher) PendingCount() (int, error) {
	return d.store.CountOutboxByStatus(types.OutboxPendingStatus)
}
