package store

import (
	"testing"
	"time"

	"github.com/ontosys/omscore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBranchCreateGetUpdate(t *testing.T) {
	s := newTestStore(t)

	branch := &types.Branch{Name: "main", State: types.BranchActive, Version: 0}
	require.NoError(t, s.CreateBranch(branch))

	got, err := s.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, types.BranchActive, got.State)

	got.State = types.BranchLockedForWrite
	require.NoError(t, s.UpdateBranch(got, 0))

	updated, err := s.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, types.BranchLockedForWrite, updated.State)
	assert.Equal(t, int64(1), updated.Version)

	err = s.UpdateBranch(updated, 0)
	var conflict *ErrVersionConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestEntityCreateGetByAPIName(t *testing.T) {
	s := newTestStore(t)

	entity := &types.SchemaEntity{
		EntityHeader: types.EntityHeader{
			Kind:    types.KindObjectType,
			APIName: "Employee",
			Branch:  "main",
			Status:  types.StatusActive,
		},
	}
	require.NoError(t, s.CreateEntity(entity))
	require.NotEmpty(t, entity.Rid)

	byName, err := s.GetEntityByAPIName("main", types.KindObjectType, "Employee")
	require.NoError(t, err)
	assert.Equal(t, entity.Rid, byName.Rid)

	byRid, err := s.GetEntity("main", types.KindObjectType, entity.Rid)
	require.NoError(t, err)
	assert.Equal(t, "Employee", byRid.APIName)

	_, err = s.GetEntityByAPIName("main", types.KindObjectType, "NoSuchThing")
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestEntityListByBranchAndKind(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateEntity(&types.SchemaEntity{EntityHeader: types.EntityHeader{Kind: types.KindObjectType, APIName: "Employee", Branch: "main"}}))
	require.NoError(t, s.CreateEntity(&types.SchemaEntity{EntityHeader: types.EntityHeader{Kind: types.KindObjectType, APIName: "Department", Branch: "main"}}))
	require.NoError(t, s.CreateEntity(&types.SchemaEntity{EntityHeader: types.EntityHeader{Kind: types.KindProperty, APIName: "salary", Branch: "main"}}))
	require.NoError(t, s.CreateEntity(&types.SchemaEntity{EntityHeader: types.EntityHeader{Kind: types.KindObjectType, APIName: "Employee", Branch: "feature-x"}}))

	mainObjects, err := s.ListEntities("main", types.KindObjectType)
	require.NoError(t, err)
	assert.Len(t, mainObjects, 2)

	mainProps, err := s.ListEntities("main", types.KindProperty)
	require.NoError(t, err)
	assert.Len(t, mainProps, 1)

	featureObjects, err := s.ListEntities("feature-x", types.KindObjectType)
	require.NoError(t, err)
	assert.Len(t, featureObjects, 1)
}

func TestEntityUpdateVersionConflictAndRename(t *testing.T) {
	s := newTestStore(t)

	entity := &types.SchemaEntity{EntityHeader: types.EntityHeader{Kind: types.KindObjectType, APIName: "Employee", Branch: "main"}}
	require.NoError(t, s.CreateEntity(entity))

	entity.APIName = "Worker"
	require.NoError(t, s.UpdateEntity(entity, 0))

	_, err := s.GetEntityByAPIName("main", types.KindObjectType, "Employee")
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)

	renamed, err := s.GetEntityByAPIName("main", types.KindObjectType, "Worker")
	require.NoError(t, err)
	assert.Equal(t, entity.Rid, renamed.Rid)

	err = s.UpdateEntity(entity, 0)
	var conflict *ErrVersionConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestOutboxClaimIsExclusive(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.InsertOutbox(&types.OutboxRecord{Type: "objecttype.created", Status: types.OutboxPendingStatus, CreatedAt: time.Now()}))
	require.NoError(t, s.InsertOutbox(&types.OutboxRecord{Type: "objecttype.updated", Status: types.OutboxPendingStatus, CreatedAt: time.Now()}))

	claimed, err := s.ClaimPendingOutbox(10, time.Now())
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
	for _, r := range claimed {
		assert.Equal(t, types.OutboxProcessingStatus, r.Status)
	}

	againPending, err := s.ClaimPendingOutbox(10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, againPending)

	count, err := s.CountOutboxByStatus(types.OutboxProcessingStatus)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestOutboxClaimRespectsRetryBackoff(t *testing.T) {
	s := newTestStore(t)

	future := time.Now().Add(time.Hour)
	require.NoError(t, s.InsertOutbox(&types.OutboxRecord{
		Type:        "objecttype.created",
		Status:      types.OutboxFailedStatus,
		NextRetryAt: &future,
		CreatedAt:   time.Now(),
	}))

	claimed, err := s.ClaimPendingOutbox(10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestAuditRecordsOrderedNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.AppendAuditRecord(&types.AuditRecord{Branch: "main", Action: "entity.create", Time: base}))
	require.NoError(t, s.AppendAuditRecord(&types.AuditRecord{Branch: "main", Action: "entity.update", Time: base.Add(time.Minute)}))
	require.NoError(t, s.AppendAuditRecord(&types.AuditRecord{Branch: "main", Action: "entity.delete", Time: base.Add(2 * time.Minute)}))

	records, err := s.ListAuditRecords("main", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "entity.delete", records[0].Action)
	assert.Equal(t, "entity.update", records[1].Action)
}

func TestShadowIndexLifecycle(t *testing.T) {
	s := newTestStore(t)

	idx := &types.ShadowIndex{Branch: "main", IndexType: "fulltext", State: types.ShadowPreparing}
	require.NoError(t, s.CreateShadowIndex(idx))
	require.NotEmpty(t, idx.ID)

	idx.State = types.ShadowBuilding
	require.NoError(t, s.UpdateShadowIndex(idx))

	got, err := s.GetShadowIndex(idx.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ShadowBuilding, got.State)

	byBranch, err := s.ListShadowIndexesByBranch("main")
	require.NoError(t, err)
	assert.Len(t, byBranch, 1)
}

func TestWithTxLandsEntityOutboxAndAuditAtomically(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTx(func(tx *Tx) error {
		entity := &types.SchemaEntity{EntityHeader: types.EntityHeader{Kind: types.KindObjectType, APIName: "Employee", Branch: "main", Rid: "rid-1"}}
		if err := tx.PutEntity(entity); err != nil {
			return err
		}
		if err := tx.InsertOutbox(&types.OutboxRecord{Type: "objecttype.created", Status: types.OutboxPendingStatus, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return tx.AppendAuditRecord(&types.AuditRecord{Branch: "main", Action: "entity.create", TargetID: "rid-1", Success: true, Time: time.Now()})
	})
	require.NoError(t, err)

	entity, err := s.GetEntity("main", types.KindObjectType, "rid-1")
	require.NoError(t, err)
	assert.Equal(t, "Employee", entity.APIName)

	pending, err := s.ListOutboxByStatus(types.OutboxPendingStatus)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	audit, err := s.ListAuditRecords("main", 0)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestCASaveAndGet(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCA()
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)

	require.NoError(t, s.SaveCA([]byte("root-ca-bytes")))
	data, err := s.GetCA()
	require.NoError(t, err)
	assert.Equal(t, "root-ca-bytes", string(data))
}

func TestAdvisoryLockSerializesSameKey(t *testing.T) {
	s := newTestStore(t)

	key := []byte("main\x00object_type\x00Employee")
	unlock, ok := s.AdvisoryLock(key, time.Second)
	require.True(t, ok)

	_, ok = s.AdvisoryLock(key, 50*time.Millisecond)
	assert.False(t, ok, "second acquire of the same key should time out while the first holds it")

	unlock()

	unlock2, ok := s.AdvisoryLock(key, time.Second)
	require.True(t, ok)
	unlock2()
}

func TestAdvisoryLockDoesNotSerializeDifferentKeys(t *testing.T) {
	s := newTestStore(t)

	unlockA, ok := s.AdvisoryLock([]byte("key-a"), time.Second)
	require.True(t, ok)
	defer unlockA()

	_, ok = s.AdvisoryLock([]byte("key-b"), 50*time.Millisecond)
	assert.True(t, ok, "distinct keys should not contend unless they land in the same stripe")
}
