/*
Package lockmanager is the Branch Lock Manager (C2): the cluster-wide
authority on which branch, resource type, or individual resource is
currently locked, by whom, and until when.

Correctness here means no two conflicting locks ever coexist, even
across a manager failover — a property a single bbolt instance cannot
give you on its own once there is more than one replica. So lock state
is replicated via HashiCorp Raft: every acquire/release/heartbeat/extend
is submitted as a Raft log entry, applied to the Persistent Store
Gateway (pkg/store) only once a quorum has durably recorded it, by the
same FSM-apply pattern a Raft-backed cluster state machine always uses.

A single-member Raft cluster (the common single-node deployment) still
goes through the same Apply path; it just never needs a quorum of more
than one, so there is no special-casing for HA vs. non-HA in the lock
API itself.

Manager runs two leader-only sweepers: a TTL sweeper that force-expires
locks past ExpiresAt, and a heartbeat sweeper that force-expires locks
whose HeartbeatSource stopped heartbeating. Both log an audit entry via
pkg/store.AppendLockAudit before releasing the lock.
*/
package lockmanager
