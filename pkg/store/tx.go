package store

import (
	"encoding/json"
	"fmt"

	"github.com/ontosys/omscore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Tx is a thin, typed wrapper around a single bbolt read-write
// transaction. It exposes just the operations callers need to compose
// atomically: landing a schema-entity mutation together with the outbox
// row and audit record that report it.
type Tx struct {
	tx *bolt.Tx
}

func (t *Tx) PutEntity(entity *types.SchemaEntity) error {
	return putEntity(t.tx, entity)
}

// GetEntity reads an entity inside the transaction, so a caller can
// snapshot its prior state for an audit record before overwriting it.
func (t *Tx) GetEntity(branch string, kind types.EntityKind, rid string) (*types.SchemaEntity, error) {
	return getEntity(t.tx, branch, kind, rid)
}

// UpdateEntity applies the same optimistic-concurrency check as
// BoltStore.UpdateEntity, but against this transaction's in-flight
// writes rather than a standalone one.
func (t *Tx) UpdateEntity(entity *types.SchemaEntity, expectedVersion int64) error {
	return updateEntity(t.tx, entity, expectedVersion)
}

func (t *Tx) DeleteEntity(branch string, kind types.EntityKind, rid string) error {
	return deleteEntity(t.tx, branch, kind, rid)
}

func (t *Tx) PutBranch(branch *types.Branch) error {
	return putBranch(t.tx, branch)
}

// GetBranch reads a branch inside the transaction.
func (t *Tx) GetBranch(name string) (*types.Branch, error) {
	return getBranch(t.tx, name)
}

// UpdateBranch applies the same optimistic-concurrency check as
// BoltStore.UpdateBranch, against this transaction's in-flight writes.
func (t *Tx) UpdateBranch(branch *types.Branch, expectedVersion int64) error {
	return updateBranch(t.tx, branch, expectedVersion)
}

func (t *Tx) InsertOutbox(record *types.OutboxRecord) error {
	return insertOutbox(t.tx, record)
}

func (t *Tx) AppendAuditRecord(record *types.AuditRecord) error {
	return appendAuditRecord(t.tx, record)
}

func (t *Tx) PutLock(lock *types.Lock) error {
	return putLock(t.tx, lock)
}

func (t *Tx) DeleteLock(id string) error {
	return t.tx.Bucket(bucketLocks).Delete([]byte(id))
}

func (t *Tx) AppendLockAudit(entry *types.LockAuditEntry) error {
	return appendLockAudit(t.tx, entry)
}

func (t *Tx) PutShadowIndex(idx *types.ShadowIndex) error {
	return putShadowIndex(t.tx, idx)
}

func (t *Tx) PutCommit(commit *types.Commit) error {
	return putCommit(t.tx, commit)
}

func (t *Tx) PutChangeSet(cs *types.ChangeSet) error {
	return putChangeSet(t.tx, cs)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return data, nil
}
