package store

import (
	"time"

	"github.com/ontosys/omscore/pkg/types"
)

// ErrNotFound is returned by Get-style methods when the requested key is
// absent from its bucket.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e *ErrNotFound) Error() string {
	return e.Kind + " not found: " + e.Key
}

// ErrVersionConflict is returned by optimistic-concurrency writes when the
// caller's expected version does not match the stored version.
type ErrVersionConflict struct {
	Kind     string
	Key      string
	Expected int64
	Actual   int64
}

func (e *ErrVersionConflict) Error() string {
	return e.Kind + " version conflict: " + e.Key
}

// Store is the full persistence surface of the Persistent Store Gateway.
// BoltStore is the only production implementation; it also satisfies
// security.CAStore via SaveCA/GetCA.
type Store interface {
	// Branches
	CreateBranch(branch *types.Branch) error
	GetBranch(name string) (*types.Branch, error)
	ListBranches() ([]*types.Branch, error)
	UpdateBranch(branch *types.Branch, expectedVersion int64) error

	// Schema entities, keyed by (branch, kind, rid)
	CreateEntity(entity *types.SchemaEntity) error
	GetEntity(branch string, kind types.EntityKind, rid string) (*types.SchemaEntity, error)
	GetEntityByAPIName(branch string, kind types.EntityKind, apiName string) (*types.SchemaEntity, error)
	ListEntities(branch string, kind types.EntityKind) ([]*types.SchemaEntity, error)
	UpdateEntity(entity *types.SchemaEntity, expectedVersion int64) error
	DeleteEntity(branch string, kind types.EntityKind, rid string) error

	// Locks (raw persistence; pkg/lockmanager owns acquire/release semantics
	// and replicates this state via Raft before it lands here)
	PutLock(lock *types.Lock) error
	GetLock(id string) (*types.Lock, error)
	ListLocksByBranch(branch string) ([]*types.Lock, error)
	DeleteLock(id string) error
	AppendLockAudit(entry *types.LockAuditEntry) error
	ListLockAudit(lockID string) ([]*types.LockAuditEntry, error)

	// Outbox
	InsertOutbox(record *types.OutboxRecord) error
	ClaimPendingOutbox(limit int, now time.Time) ([]*types.OutboxRecord, error)
	UpdateOutbox(record *types.OutboxRecord) error
	ListOutboxByStatus(status types.OutboxStatus) ([]*types.OutboxRecord, error)
	CountOutboxByStatus(status types.OutboxStatus) (int, error)

	// Event consumer tracking: idempotent-consumption dedup keyed by
	// (consumer_name, event_id), so a redelivered event triggers at-most-
	// once side effects.
	WasEventConsumed(consumerName, eventID string) (bool, error)
	MarkEventConsumed(record *types.ConsumerTrackingRecord) error

	// Audit
	AppendAuditRecord(record *types.AuditRecord) error
	ListAuditRecords(branch string, limit int) ([]*types.AuditRecord, error)
	// PurgeAuditRecords deletes every record for which shouldDelete
	// returns true, scanning all branches. Used by pkg/audit's retention
	// sweeper; callers outside that sweeper should not delete audit rows.
	PurgeAuditRecords(shouldDelete func(*types.AuditRecord) bool) (int, error)

	// Shadow indexes
	CreateShadowIndex(idx *types.ShadowIndex) error
	GetShadowIndex(id string) (*types.ShadowIndex, error)
	UpdateShadowIndex(idx *types.ShadowIndex) error
	ListShadowIndexesByBranch(branch string) ([]*types.ShadowIndex, error)

	// ChangeSets / proposals
	CreateChangeSet(cs *types.ChangeSet) error
	GetChangeSet(id string) (*types.ChangeSet, error)
	UpdateChangeSet(cs *types.ChangeSet) error
	ListChangeSetsByBranch(branch string) ([]*types.ChangeSet, error)

	// Commits, forming each branch's history DAG
	CreateCommit(commit *types.Commit) error
	GetCommit(id string) (*types.Commit, error)
	UpdateCommit(commit *types.Commit) error
	ListCommitsByBranch(branch string) ([]*types.Commit, error)

	// Certificate authority, shared with pkg/security.CertAuthority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// WithTx runs fn inside a single read-write bbolt transaction, so a
	// caller can land an entity mutation together with its outbox row
	// and audit record atomically.
	WithTx(fn func(tx *Tx) error) error

	// AdvisoryLock serializes same-process operations keyed by an
	// application-chosen byte key. It returns ok=false if the lock could
	// not be acquired within timeout; the returned unlock func must be
	// called exactly once when ok is true.
	AdvisoryLock(key []byte, timeout time.Duration) (unlock func(), ok bool)

	Close() error
}
