package audit

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ontosys/omscore/pkg/outbox"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecorderAppendsAuditAndOutboxRow(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(outbox.NewSanitizer(outbox.DefaultFieldPatterns(), outbox.PolicyAnonymize, nil, nil))
	now := time.Now().UTC()

	rec := &types.AuditRecord{
		Action:     "objecttype.create",
		ActorID:    "user:alice",
		TargetKind: "object_type",
		TargetID:   "ri.ontology.main.object-type.employee",
		Branch:     "main",
		Success:    true,
		Changes: types.AuditChanges{
			After: map[string]any{"api_name": "Employee", "email": "alice@example.com"},
		},
	}

	require.NoError(t, s.WithTx(func(tx *store.Tx) error {
		return r.Record(tx, rec, now)
	}))

	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.EventID)
	assert.Equal(t, now, rec.Time)
	assert.Equal(t, "***REDACTED***", rec.Changes.After["email"])

	stored, err := s.ListAuditRecords("main", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "objecttype.create", stored[0].Action)

	pending, err := s.ListOutboxByStatus(types.OutboxPendingStatus)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "audit.activity.v1", pending[0].Type)
}

func TestRecorderRejectsConfiguredField(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(outbox.NewSanitizer(outbox.DefaultFieldPatterns(), outbox.PolicyAnonymize,
		map[string]outbox.SanitizePolicy{"ssn": outbox.PolicyReject}, nil))

	rec := &types.AuditRecord{
		Action:     "objecttype.create",
		ActorID:    "user:alice",
		TargetKind: "object_type",
		TargetID:   "ri.ontology.main.object-type.employee",
		Branch:     "main",
		Success:    true,
		Changes:    types.AuditChanges{After: map[string]any{"ssn": "123-45-6789"}},
	}

	err := s.WithTx(func(tx *store.Tx) error {
		return r.Record(tx, rec, time.Now())
	})
	require.Error(t, err)

	stored, err := s.ListAuditRecords("main", 0)
	require.NoError(t, err)
	assert.Empty(t, stored, "a rejected field must abort the enclosing transaction, leaving no audit row behind")
}

func TestSweeperPurgesRecordsPastRetention(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	old := &types.AuditRecord{Action: "lock.acquire", Branch: "main", Success: true, Time: now.AddDate(0, 0, -400)}
	recent := &types.AuditRecord{Action: "lock.acquire", Branch: "main", Success: true, Time: now.AddDate(0, 0, -10)}
	require.NoError(t, s.AppendAuditRecord(old))
	require.NoError(t, s.AppendAuditRecord(recent))

	sw := NewSweeper(s, DefaultRetentionPolicies(), time.Hour)
	purged, err := sw.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	remaining, err := s.ListAuditRecords("main", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, recent.ID, remaining[0].ID)
}

func TestSweeperRetainsForeverWhenPolicyIsNonPositive(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	ancient := &types.AuditRecord{Action: "schema.create", Branch: "main", Success: true, Time: now.AddDate(-5, 0, 0)}
	require.NoError(t, s.AppendAuditRecord(ancient))

	sw := NewSweeper(s, []RetentionPolicy{{ActionPattern: regexp.MustCompile(`.*`), RetentionDays: 0}}, time.Hour)
	purged, err := sw.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}
