package lockmanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

const (
	defaultTTLSweepInterval       = 5 * time.Minute
	defaultHeartbeatSweepInterval = 30 * time.Second
	defaultHeartbeatGraceFactor   = 3
)

// Config holds the configuration needed to build a Manager.
type Config struct {
	ReplicaID string
	BindAddr  string
	DataDir   string

	// TTLSweepInterval and HeartbeatSweepInterval control how often the
	// leader-only sweepers scan for expired locks; zero falls back to
	// defaultTTLSweepInterval/defaultHeartbeatSweepInterval.
	TTLSweepInterval       time.Duration
	HeartbeatSweepInterval time.Duration

	// DefaultAcquireTimeout bounds how long AcquireLock waits against a
	// conflicting lock when the request itself carries no Timeout. Zero
	// means AcquireLock fails immediately on conflict, as before.
	DefaultAcquireTimeout time.Duration

	// HeartbeatGraceFactor is how many missed heartbeat intervals a lock
	// tolerates before IsExpired treats it as expired; zero falls back to
	// defaultHeartbeatGraceFactor.
	HeartbeatGraceFactor int64
}

// Manager is the Branch Lock Manager (C2). It owns a Raft group replicating
// lock and branch state across OMS replicas, and exposes the lock-domain
// API (AcquireLock, ReleaseLock, Heartbeat, ...) on top of it.
type Manager struct {
	replicaID string
	bindAddr  string
	dataDir   string

	ttlSweepInterval       time.Duration
	heartbeatSweepInterval time.Duration
	defaultAcquireTimeout  time.Duration
	heartbeatGraceFactor   int64

	mu       sync.RWMutex
	raft     *raft.Raft
	fsm      *FSM
	store    store.Store
	tokens   *TokenManager
	sweepers *sweepers
}

// NewManager creates a Manager backed by the given store. It does not
// start Raft; call Bootstrap or Join afterward.
func NewManager(cfg *Config, s store.Store) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	ttlInterval := cfg.TTLSweepInterval
	if ttlInterval <= 0 {
		ttlInterval = defaultTTLSweepInterval
	}
	heartbeatInterval := cfg.HeartbeatSweepInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatSweepInterval
	}
	graceFactor := cfg.HeartbeatGraceFactor
	if graceFactor <= 0 {
		graceFactor = defaultHeartbeatGraceFactor
	}

	fsm := NewFSM(s)
	fsm.SetHeartbeatGraceFactor(graceFactor)

	m := &Manager{
		replicaID:              cfg.ReplicaID,
		bindAddr:               cfg.BindAddr,
		dataDir:                cfg.DataDir,
		ttlSweepInterval:       ttlInterval,
		heartbeatSweepInterval: heartbeatInterval,
		defaultAcquireTimeout:  cfg.DefaultAcquireTimeout,
		heartbeatGraceFactor:   graceFactor,
		fsm:                    fsm,
		store:                  s,
		tokens:                 NewTokenManager(),
	}
	return m, nil
}

// HeartbeatGraceFactor returns the configured grace factor used to decide
// how many missed heartbeat intervals a lock tolerates before it is
// treated as expired.
func (m *Manager) HeartbeatGraceFactor() int64 {
	return m.heartbeatGraceFactor
}

// raftConfig returns the tuned Raft configuration shared by Bootstrap and
// Join. The defaults (HeartbeatTimeout=1s, ElectionTimeout=1s,
// LeaderLeaseTimeout=500ms) are conservative for WAN deployments; OMS
// replicas are expected on the same LAN/region, so timeouts are tightened
// to hit the <10s lock-manager failover target from a quorum loss.
func (m *Manager) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(m.replicaID)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (m *Manager) newRaft() (*raft.Raft, error) {
	cfg := m.raftConfig()

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(cfg, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft node: %w", err)
	}
	return r, nil
}

// Bootstrap initializes a brand-new single-replica Raft cluster and starts
// the leader-only sweepers.
func (m *Manager) Bootstrap() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.raft = r
	m.mu.Unlock()

	cfg := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.replicaID), Address: raft.ServerAddress(m.bindAddr)},
		},
	}
	if err := m.raft.BootstrapCluster(cfg).Error(); err != nil {
		return fmt.Errorf("bootstrap raft cluster: %w", err)
	}

	m.sweepers = newSweepers(m)
	m.sweepers.start()
	log.Logger.Info().Str("replica_id", m.replicaID).Str("bind_addr", m.bindAddr).Msg("lock manager bootstrapped")
	return nil
}

// Join starts Raft for this replica and waits for the cluster leader to
// add it as a voter (via AddVoter, called out-of-band by an admin RPC
// carrying a join token minted by TokenManager).
func (m *Manager) Join() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.raft = r
	m.mu.Unlock()

	m.sweepers = newSweepers(m)
	m.sweepers.start()
	log.Logger.Info().Str("replica_id", m.replicaID).Msg("lock manager joined cluster")
	return nil
}

// Shutdown stops the sweepers and the Raft node.
func (m *Manager) Shutdown() error {
	if m.sweepers != nil {
		m.sweepers.stop()
	}
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.Shutdown().Error()
}

// AddVoter adds a replica to the Raft cluster. Only the leader may do this.
func (m *Manager) AddVoter(replicaID, address string) error {
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	return m.raft.AddVoter(raft.ServerID(replicaID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// RemoveServer removes a replica from the Raft cluster. Only the leader
// may do this.
func (m *Manager) RemoveServer(replicaID string) error {
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	return m.raft.RemoveServer(raft.ServerID(replicaID), 0, 10*time.Second).Error()
}

// GetClusterServers returns the current Raft cluster configuration.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()
	if r == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := r.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this replica is the current Raft leader.
func (m *Manager) IsLeader() bool {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()
	return r != nil && r.State() == raft.Leader
}

// IsRaftLeader satisfies metrics.LockStats.
func (m *Manager) IsRaftLeader() bool { return m.IsLeader() }

// LeaderAddr returns the address of the current Raft leader, if known.
func (m *Manager) LeaderAddr() string {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()
	if r == nil {
		return ""
	}
	return string(r.Leader())
}

// GetRaftStats returns a snapshot of Raft health for the admin/health API.
func (m *Manager) GetRaftStats() map[string]interface{} {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()
	if r == nil {
		return nil
	}
	stats := map[string]interface{}{
		"state":          r.State().String(),
		"last_log_index": r.LastIndex(),
		"applied_index":  r.AppliedIndex(),
		"leader":         string(r.Leader()),
	}
	if cf := r.GetConfiguration(); cf.Error() == nil {
		stats["peers"] = uint64(len(cf.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// apply marshals cmd and submits it to the Raft log, returning whatever
// the FSM's Apply returned (either an error, or a domain value such as
// *types.Lock).
func (m *Manager) apply(op CommandOp, payload interface{}) (interface{}, error) {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()
	if r == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal command payload: %w", err)
	}
	cmdBytes, err := json.Marshal(Command{Op: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	future := r.Apply(cmdBytes, 5*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("raft apply: %w", err)
	}
	resp := future.Response()
	if respErr, ok := resp.(error); ok && respErr != nil {
		return nil, respErr
	}
	return resp, nil
}

// AcquireLock takes a lock of the given scope/type if nothing conflicting
// is already held. holder identifies the caller (actor ID or a service
// name like "indexer-reconciler"); heartbeatSource, if non-empty, is the
// identity the heartbeat sweeper expects heartbeats from.
//
// When the request conflicts with a lock already held, AcquireLock retries
// with backoff until req.Timeout elapses (falling back to the Manager's
// configured DefaultAcquireTimeout when req.Timeout is zero), so a caller
// willing to wait for a short-lived lock to clear does not have to poll
// itself. A zero timeout on both preserves the original fail-fast
// behavior.
func (m *Manager) AcquireLock(req AcquireLockRequest) (*types.Lock, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.defaultAcquireTimeout
	}
	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Millisecond

	for {
		req.Now = time.Now().UTC()
		resp, err := m.apply(OpAcquireLock, req)
		if err == nil {
			lock, ok := resp.(*types.Lock)
			if !ok {
				return nil, fmt.Errorf("unexpected apply response type %T", resp)
			}
			return lock, nil
		}

		var conflict *ErrLockConflict
		if timeout <= 0 || !errors.As(err, &conflict) || !time.Now().Add(backoff).Before(deadline) {
			return nil, err
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// ReleaseLock releases a lock by ID.
func (m *Manager) ReleaseLock(lockID, holder string) error {
	_, err := m.apply(OpReleaseLock, LockIDRequest{LockID: lockID, Holder: holder, Now: time.Now().UTC()})
	return err
}

// ForceUnlock releases a lock regardless of holder, recording a
// force_unlocked audit entry instead of released. Used by admin
// operations and by the TTL/heartbeat sweepers.
func (m *Manager) ForceUnlock(lockID string) error {
	_, err := m.apply(OpForceUnlock, LockIDRequest{LockID: lockID, Now: time.Now().UTC()})
	return err
}

// expireTTL force-releases a lock whose absolute TTL has passed, recording
// a TTL_EXPIRED audit entry. Called by the leader-only TTL sweeper.
func (m *Manager) expireTTL(lockID string) error {
	_, err := m.apply(OpExpireTTL, LockIDRequest{LockID: lockID, Now: time.Now().UTC()})
	return err
}

// expireHeartbeat force-releases a lock whose holder stopped heartbeating,
// recording a HEARTBEAT_MISSED audit entry. Called by the leader-only
// heartbeat sweeper.
func (m *Manager) expireHeartbeat(lockID string) error {
	_, err := m.apply(OpExpireHeartbeat, LockIDRequest{LockID: lockID, Now: time.Now().UTC()})
	return err
}

// Heartbeat records that holder is still alive, refreshing LastHeartbeat
// so the heartbeat sweeper does not force-expire the lock.
func (m *Manager) Heartbeat(lockID string) (*types.Lock, error) {
	resp, err := m.apply(OpHeartbeat, LockIDRequest{LockID: lockID, Now: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return resp.(*types.Lock), nil
}

// ExtendTTL extends the absolute expiry of a lock by ttl from now.
func (m *Manager) ExtendTTL(lockID string, ttl time.Duration) (*types.Lock, error) {
	resp, err := m.apply(OpExtendTTL, ExtendTTLRequest{
		LockIDRequest: LockIDRequest{LockID: lockID, Now: time.Now().UTC()},
		TTLSeconds:    int64(ttl.Seconds()),
	})
	if err != nil {
		return nil, err
	}
	return resp.(*types.Lock), nil
}

// LockForIndexing is a convenience wrapper acquiring a RESOURCE_TYPE lock
// of type INDEXING, used by pkg/shadowindex while a shadow index is being
// built for a given resource type on a branch.
func (m *Manager) LockForIndexing(branch, resourceType, holder string, ttl time.Duration) (*types.Lock, error) {
	return m.AcquireLock(AcquireLockRequest{
		Branch:       branch,
		Scope:        types.ScopeResourceType,
		ResourceType: resourceType,
		Type:         types.LockIndexing,
		Holder:       holder,
		TTLSeconds:   int64(ttl.Seconds()),
		AutoRelease:  true,
	})
}

// CompleteIndexing releases an indexing lock previously taken with
// LockForIndexing.
func (m *Manager) CompleteIndexing(lockID, holder string) error {
	return m.ReleaseLock(lockID, holder)
}

// CheckWritePermission reports whether a write to resourceType/resourceID
// on branch is currently admissible, i.e. no unexpired lock covers it.
// pkg/freezegate calls this on the request path; it does not itself take
// a lock, so the caller must still race-check via AcquireLock for
// operations that need to hold one.
func (m *Manager) CheckWritePermission(branch, resourceType, resourceID string) error {
	locks, err := m.store.ListLocksByBranch(branch)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	candidate := &types.Lock{Branch: branch, Scope: types.ScopeResource, ResourceType: resourceType, ResourceID: resourceID}
	for _, lock := range locks {
		if lock.IsExpired(now, m.heartbeatGraceFactor) {
			continue
		}
		if conflicts(lock, candidate) {
			return &ErrLockConflict{Holder: lock.Holder, LockID: lock.ID}
		}
	}
	return nil
}

// ActiveLockCounts satisfies metrics.LockStats: scope -> type -> count,
// across every branch known to the store.
func (m *Manager) ActiveLockCounts() map[string]map[string]int {
	counts := make(map[string]map[string]int)
	branches, err := m.store.ListBranches()
	if err != nil {
		return counts
	}
	now := time.Now().UTC()
	for _, b := range branches {
		locks, err := m.store.ListLocksByBranch(b.Name)
		if err != nil {
			continue
		}
		for _, lock := range locks {
			if lock.IsExpired(now, m.heartbeatGraceFactor) {
				continue
			}
			scope := string(lock.Scope)
			if counts[scope] == nil {
				counts[scope] = make(map[string]int)
			}
			counts[scope][string(lock.Type)]++
		}
	}
	return counts
}

// PutBranch submits a branch upsert through Raft, so branch state sees
// the same replicated consistency as locks (needed because the freeze
// gate's BranchState read must never diverge across replicas).
func (m *Manager) PutBranch(branch *types.Branch) error {
	_, err := m.apply(OpPutBranch, branch)
	return err
}

// Tokens returns the join-token manager used to admit new replicas.
func (m *Manager) Tokens() *TokenManager {
	return m.tokens
}
