package audit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ontosys/omscore/pkg/events"
	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/outbox"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

const activityEventSource = "oms://audit"

// Recorder lands one AuditRecord and its downstream audit.activity.v1
// outbox row inside a caller-owned transaction.
type Recorder struct {
	sanitizer *outbox.Sanitizer
}

// NewRecorder builds a Recorder. sanitizer may be nil, in which case
// Changes.Before/After are persisted unmodified (suitable only for
// deployments that mask PII upstream of the audit call site).
func NewRecorder(sanitizer *outbox.Sanitizer) *Recorder {
	return &Recorder{sanitizer: sanitizer}
}

// Record fills in ID/EventID/Time defaults, sanitizes the before/after
// change snapshots, appends the record, and inserts its outbox
// projection — all against the same transaction the caller's business
// write is landing in. now is injected for deterministic tests and used
// only when rec.Time is zero.
func (r *Recorder) Record(tx *store.Tx, rec *types.AuditRecord, now time.Time) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = now
	}

	if r.sanitizer != nil {
		if rec.Changes.Before != nil {
			sanitized, err := r.sanitizer.Sanitize(rec.Changes.Before)
			if err != nil {
				return omserr.Wrap(omserr.InvalidArgument, "sanitize audit before-state", err)
			}
			rec.Changes.Before = sanitized
		}
		if rec.Changes.After != nil {
			sanitized, err := r.sanitizer.Sanitize(rec.Changes.After)
			if err != nil {
				return omserr.Wrap(omserr.InvalidArgument, "sanitize audit after-state", err)
			}
			rec.Changes.After = sanitized
		}
	}

	if err := tx.AppendAuditRecord(rec); err != nil {
		return err
	}

	envelope, err := outbox.NewEnvelope(outbox.NewEnvelopeParams{
		Type:    string(events.EventAuditActivity),
		Source:  activityEventSource,
		Subject: rec.TargetID,
		Data: map[string]any{
			"audit_id":    rec.ID,
			"action":      rec.Action,
			"actor_id":    rec.ActorID,
			"target_kind": rec.TargetKind,
			"target_id":   rec.TargetID,
			"success":     rec.Success,
			"error_code":  rec.ErrorCode,
			"duration_ms": rec.DurationMS,
		},
		Branch: rec.Branch,
		Author: rec.ActorID,
	}, now)
	if err != nil {
		return omserr.Wrap(omserr.Internal, "build audit.activity.v1 envelope", err)
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return omserr.Wrap(omserr.Internal, "marshal audit.activity.v1 envelope", err)
	}

	if err := tx.InsertOutbox(&types.OutboxRecord{
		EventID:    envelope.ID,
		Type:       envelope.Type,
		Payload:    payload,
		Subject:    envelope.Subject,
		Status:     types.OutboxPendingStatus,
		MaxRetries: 5,
		CreatedAt:  now,
	}); err != nil {
		return err
	}

	metrics.AuditEventsTotal.WithLabelValues(rec.Action, strconv.FormatBool(rec.Success)).Inc()
	return nil
}
