package lockmanager

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) (*FSM, store.Store) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewFSM(s), s
}

func applyCmd(t *testing.T, fsm *FSM, op CommandOp, payload interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmdBytes, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: cmdBytes})
}

func TestFSMAcquireLockGrantsWhenFree(t *testing.T) {
	fsm, _ := newTestFSM(t)

	resp := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeResourceType, ResourceType: "employee",
		Type: types.LockIndexing, Holder: "indexer-1", TTLSeconds: 60, Now: time.Now().UTC(),
	})

	lock, ok := resp.(*types.Lock)
	require.True(t, ok, "expected *types.Lock, got %T", resp)
	assert.NotEmpty(t, lock.ID)
	assert.Equal(t, "indexer-1", lock.Holder)
}

func TestFSMAcquireLockConflictsOnOverlappingScope(t *testing.T) {
	fsm, _ := newTestFSM(t)

	applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeResourceType, ResourceType: "employee",
		Type: types.LockIndexing, Holder: "indexer-1", TTLSeconds: 60, Now: time.Now().UTC(),
	})

	resp := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeResource, ResourceType: "employee", ResourceID: "emp-1",
		Type: types.LockManual, Holder: "user-2", TTLSeconds: 60, Now: time.Now().UTC(),
	})

	var conflict *ErrLockConflict
	require.ErrorAs(t, resp.(error), &conflict)
	assert.Equal(t, "indexer-1", conflict.Holder)
}

func TestFSMAcquireLockIgnoresExpiredLocks(t *testing.T) {
	fsm, _ := newTestFSM(t)
	past := time.Now().UTC().Add(-time.Hour)

	first := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeBranch, Type: types.LockMaintenance,
		Holder: "ops", TTLSeconds: 1, Now: past,
	})
	require.IsType(t, &types.Lock{}, first)

	resp := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeResourceType, ResourceType: "employee",
		Type: types.LockIndexing, Holder: "indexer-1", TTLSeconds: 60, Now: time.Now().UTC(),
	})
	assert.IsType(t, &types.Lock{}, resp)
}

func TestFSMReleaseThenReacquireSucceeds(t *testing.T) {
	fsm, _ := newTestFSM(t)

	resp := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeBranch, Type: types.LockManual,
		Holder: "user-1", Now: time.Now().UTC(),
	})
	lock := resp.(*types.Lock)

	releaseResp := applyCmd(t, fsm, OpReleaseLock, LockIDRequest{LockID: lock.ID, Holder: "user-1", Now: time.Now().UTC()})
	assert.Nil(t, releaseResp)

	again := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeBranch, Type: types.LockManual,
		Holder: "user-2", Now: time.Now().UTC(),
	})
	assert.IsType(t, &types.Lock{}, again)
}

func TestFSMHeartbeatRefreshesLastHeartbeat(t *testing.T) {
	fsm, _ := newTestFSM(t)
	now := time.Now().UTC()

	resp := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeResourceType, ResourceType: "employee",
		Type: types.LockIndexing, Holder: "indexer-1", HeartbeatIntervalS: 10, Now: now,
	})
	lock := resp.(*types.Lock)
	require.NotNil(t, lock.LastHeartbeat)

	later := now.Add(5 * time.Second)
	hbResp := applyCmd(t, fsm, OpHeartbeat, LockIDRequest{LockID: lock.ID, Now: later})
	refreshed := hbResp.(*types.Lock)
	assert.True(t, refreshed.LastHeartbeat.Equal(later))
}

func TestFSMExtendTTLPushesExpiryForward(t *testing.T) {
	fsm, _ := newTestFSM(t)
	now := time.Now().UTC()

	resp := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeBranch, Type: types.LockManual,
		Holder: "user-1", TTLSeconds: 10, Now: now,
	})
	lock := resp.(*types.Lock)
	originalExpiry := lock.ExpiresAt

	extendResp := applyCmd(t, fsm, OpExtendTTL, ExtendTTLRequest{
		LockIDRequest: LockIDRequest{LockID: lock.ID, Now: now.Add(time.Second)},
		TTLSeconds:    3600,
	})
	extended := extendResp.(*types.Lock)
	assert.True(t, extended.ExpiresAt.After(originalExpiry))
}

func TestFSMExpireTTLAndExpireHeartbeatRecordDistinctAuditActions(t *testing.T) {
	fsm, s := newTestFSM(t)
	now := time.Now().UTC()

	lock1 := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeResourceType, ResourceType: "employee",
		Type: types.LockIndexing, Holder: "indexer-1", TTLSeconds: 60, Now: now,
	}).(*types.Lock)

	lock2 := applyCmd(t, fsm, OpAcquireLock, AcquireLockRequest{
		Branch: "main", Scope: types.ScopeResourceType, ResourceType: "property",
		Type: types.LockIndexing, Holder: "indexer-2", HeartbeatIntervalS: 5, Now: now,
	}).(*types.Lock)

	applyCmd(t, fsm, OpExpireTTL, LockIDRequest{LockID: lock1.ID, Now: now.Add(time.Minute)})
	applyCmd(t, fsm, OpExpireHeartbeat, LockIDRequest{LockID: lock2.ID, Now: now.Add(time.Minute)})

	entries1, err := s.ListLockAudit(lock1.ID)
	require.NoError(t, err)
	entries2, err := s.ListLockAudit(lock2.ID)
	require.NoError(t, err)

	assert.Equal(t, types.LockAuditExpiredTTL, entries1[len(entries1)-1].Action)
	assert.Equal(t, types.LockAuditExpiredHeartbeat, entries2[len(entries2)-1].Action)
}

func TestFSMPutBranchPersistsThroughApply(t *testing.T) {
	fsm, s := newTestFSM(t)

	resp := applyCmd(t, fsm, OpPutBranch, &types.Branch{Name: "main", State: types.BranchActive})
	assert.Nil(t, resp)

	branch, err := s.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, types.BranchActive, branch.State)
}
