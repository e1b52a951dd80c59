package lockmanager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
	"github.com/hashicorp/raft"
)

// ErrLockConflict is returned by Apply when a proposed lock overlaps an
// existing, unexpired lock in scope. pkg/freezegate and pkg/omserr
// translate it into the 423 LOCKED admission response.
type ErrLockConflict struct {
	Holder string
	LockID string
}

func (e *ErrLockConflict) Error() string {
	return fmt.Sprintf("lock held by %s (lock_id=%s)", e.Holder, e.LockID)
}

// ErrLockNotFound is returned by release/heartbeat/extend operations
// against a lock ID that does not exist (or already expired and was
// swept).
type ErrLockNotFound struct {
	LockID string
}

func (e *ErrLockNotFound) Error() string {
	return fmt.Sprintf("lock not found: %s", e.LockID)
}

// FSM implements raft.FSM for the Branch Lock Manager. Every mutation to
// lock or branch state is submitted as a Command through Raft and only
// takes effect here, once a quorum has durably recorded it.
type FSM struct {
	mu                   sync.Mutex
	store                store.Store
	heartbeatGraceFactor int64
}

// NewFSM creates a new lock-manager FSM backed by store.
func NewFSM(s store.Store) *FSM {
	return &FSM{store: s, heartbeatGraceFactor: 3}
}

// SetHeartbeatGraceFactor overrides the default heartbeat grace factor
// (how many missed heartbeat intervals a lock tolerates before it is
// considered expired). Called by NewManager with the configured value;
// a non-positive n leaves the default of 3 in place.
func (f *FSM) SetHeartbeatGraceFactor(n int64) {
	if n > 0 {
		f.heartbeatGraceFactor = n
	}
}

// CommandOp names a lock-manager Raft command.
type CommandOp string

const (
	OpAcquireLock     CommandOp = "acquire_lock"
	OpReleaseLock     CommandOp = "release_lock"
	OpHeartbeat       CommandOp = "heartbeat_lock"
	OpExtendTTL       CommandOp = "extend_lock"
	OpForceUnlock     CommandOp = "force_unlock"
	OpExpireTTL       CommandOp = "expire_ttl"
	OpExpireHeartbeat CommandOp = "expire_heartbeat"
	OpPutBranch       CommandOp = "put_branch"
)

// Command is one state-change operation submitted to the Raft log.
type Command struct {
	Op   CommandOp       `json:"op"`
	Data json.RawMessage `json:"data"`
}

// AcquireLockRequest is the payload for OpAcquireLock.
type AcquireLockRequest struct {
	Branch             string          `json:"branch"`
	Scope              types.LockScope `json:"scope"`
	ResourceType       string          `json:"resource_type"`
	ResourceID         string          `json:"resource_id"`
	Type               types.LockType  `json:"type"`
	Holder             string          `json:"holder"`
	TTLSeconds         int64           `json:"ttl_seconds"`
	HeartbeatIntervalS int64           `json:"heartbeat_interval_s"`
	HeartbeatSource    string          `json:"heartbeat_source"`
	AutoRelease        bool            `json:"auto_release"`
	Now                time.Time       `json:"now"`

	// Timeout bounds how long Manager.AcquireLock retries against a
	// conflicting lock before giving up. It governs the caller-side wait
	// loop only and is never part of the Raft-replicated command payload,
	// since FSM.Apply must stay a synchronous, deterministic transition.
	Timeout time.Duration `json:"-"`
}

// LockIDRequest is the payload shared by release/heartbeat/extend/force-unlock.
type LockIDRequest struct {
	LockID string    `json:"lock_id"`
	Holder string    `json:"holder,omitempty"`
	Now    time.Time `json:"now"`
}

// ExtendTTLRequest adds the new TTL to LockIDRequest.
type ExtendTTLRequest struct {
	LockIDRequest
	TTLSeconds int64 `json:"ttl_seconds"`
}

// Apply applies one committed Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpAcquireLock:
		var req AcquireLockRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.applyAcquire(req)

	case OpReleaseLock:
		var req LockIDRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.applyRelease(req, types.LockAuditReleased)

	case OpHeartbeat:
		var req LockIDRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.applyHeartbeat(req)

	case OpExtendTTL:
		var req ExtendTTLRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.applyExtend(req)

	case OpForceUnlock:
		var req LockIDRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.applyRelease(req, types.LockAuditForceUnlocked)

	case OpExpireTTL:
		var req LockIDRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.applyRelease(req, types.LockAuditExpiredTTL)

	case OpExpireHeartbeat:
		var req LockIDRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.applyRelease(req, types.LockAuditExpiredHeartbeat)

	case OpPutBranch:
		var branch types.Branch
		if err := json.Unmarshal(cmd.Data, &branch); err != nil {
			return err
		}
		return f.store.CreateBranch(&branch)

	default:
		return fmt.Errorf("unknown lock-manager command: %s", cmd.Op)
	}
}

func (f *FSM) applyAcquire(req AcquireLockRequest) interface{} {
	existing, err := f.store.ListLocksByBranch(req.Branch)
	if err != nil {
		return err
	}

	candidate := &types.Lock{
		Branch:       req.Branch,
		Scope:        req.Scope,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	}

	for _, lock := range existing {
		if lock.IsExpired(req.Now, f.heartbeatGraceFactor) {
			continue
		}
		if conflicts(lock, candidate) {
			return &ErrLockConflict{Holder: lock.Holder, LockID: lock.ID}
		}
	}

	lock := &types.Lock{
		ID:                 uuid.NewString(),
		Branch:             req.Branch,
		Scope:              req.Scope,
		ResourceType:       req.ResourceType,
		ResourceID:         req.ResourceID,
		Type:               req.Type,
		Holder:             req.Holder,
		AcquiredAt:         req.Now,
		HeartbeatIntervalS: req.HeartbeatIntervalS,
		HeartbeatSource:    req.HeartbeatSource,
		AutoRelease:        req.AutoRelease,
	}
	if req.TTLSeconds > 0 {
		lock.ExpiresAt = req.Now.Add(time.Duration(req.TTLSeconds) * time.Second)
	}
	if req.HeartbeatIntervalS > 0 {
		lock.LastHeartbeat = &req.Now
	}

	if err := f.store.PutLock(lock); err != nil {
		return err
	}
	_ = f.store.AppendLockAudit(&types.LockAuditEntry{
		LockID: lock.ID, Branch: lock.Branch, Scope: lock.Scope,
		ResourceType: lock.ResourceType, ResourceID: lock.ResourceID,
		Holder: lock.Holder, Action: types.LockAuditAcquired, Time: req.Now,
	})
	return lock
}

func (f *FSM) applyRelease(req LockIDRequest, action types.LockAuditAction) interface{} {
	lock, err := f.store.GetLock(req.LockID)
	if err != nil {
		return &ErrLockNotFound{LockID: req.LockID}
	}
	if err := f.store.DeleteLock(req.LockID); err != nil {
		return err
	}
	_ = f.store.AppendLockAudit(&types.LockAuditEntry{
		LockID: lock.ID, Branch: lock.Branch, Scope: lock.Scope,
		ResourceType: lock.ResourceType, ResourceID: lock.ResourceID,
		Holder: lock.Holder, Action: action, Time: req.Now,
	})
	return nil
}

func (f *FSM) applyHeartbeat(req LockIDRequest) interface{} {
	lock, err := f.store.GetLock(req.LockID)
	if err != nil {
		return &ErrLockNotFound{LockID: req.LockID}
	}
	now := req.Now
	lock.LastHeartbeat = &now
	if err := f.store.PutLock(lock); err != nil {
		return err
	}
	_ = f.store.AppendLockAudit(&types.LockAuditEntry{
		LockID: lock.ID, Branch: lock.Branch, Scope: lock.Scope,
		ResourceType: lock.ResourceType, ResourceID: lock.ResourceID,
		Holder: lock.Holder, Action: types.LockAuditHeartbeat, Time: req.Now,
	})
	return lock
}

func (f *FSM) applyExtend(req ExtendTTLRequest) interface{} {
	lock, err := f.store.GetLock(req.LockID)
	if err != nil {
		return &ErrLockNotFound{LockID: req.LockID}
	}
	lock.ExpiresAt = req.Now.Add(time.Duration(req.TTLSeconds) * time.Second)
	if err := f.store.PutLock(lock); err != nil {
		return err
	}
	_ = f.store.AppendLockAudit(&types.LockAuditEntry{
		LockID: lock.ID, Branch: lock.Branch, Scope: lock.Scope,
		ResourceType: lock.ResourceType, ResourceID: lock.ResourceID,
		Holder: lock.Holder, Action: types.LockAuditExtended, Time: req.Now,
	})
	return lock
}

// conflicts reports whether two locks in the same branch overlap in
// scope: a BRANCH lock conflicts with anything in the branch, a
// RESOURCE_TYPE lock conflicts with the same resource type (or a
// resource within it), and a RESOURCE lock conflicts with the same
// resource (or its enclosing resource type / branch already locked).
func conflicts(existing, candidate *types.Lock) bool {
	if existing.Scope == types.ScopeBranch || candidate.Scope == types.ScopeBranch {
		return true
	}
	if existing.Scope == types.ScopeResourceType || candidate.Scope == types.ScopeResourceType {
		return existing.ResourceType == candidate.ResourceType
	}
	return existing.ResourceType == candidate.ResourceType && existing.ResourceID == candidate.ResourceID
}

// Snapshot captures the lock manager's durable state for Raft log
// compaction. Lock and branch state both already live in the bbolt
// store (replicated up to the committed index), so the snapshot only
// needs to record that index was reached; Restore is a no-op beyond
// that because a fresh FSM reads current state straight from store.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &snapshot{}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type snapshot struct{}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (s *snapshot) Release() {}
