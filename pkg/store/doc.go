/*
Package store is the Persistent Store Gateway (C1): a bbolt-backed,
single-writer, ACID-transactional home for every durable record the OMS
core owns (branches, schema entities, locks, outbox rows, audit records,
shadow-index state, changesets). All mutations a caller needs to land
together — e.g. a schema-entity update plus the outbox row and audit
record that report it — go through WithTx, which hands the caller a *Tx
scoped to a single bbolt read-write transaction.

AdvisoryLock provides a striped, in-process mutex table keyed by an
xxhash of the caller's resource key, used to serialize logically-related
operations (e.g. two concurrent requests racing to create the same
api_name) ahead of the bbolt transaction that makes the decision durable.
It does not replace the Branch Lock Manager's cluster-wide Raft-backed
locks (pkg/lockmanager); it only protects this process's own critical
sections.
*/
package store
