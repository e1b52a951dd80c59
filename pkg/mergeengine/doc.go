/*
Package mergeengine is the Merge & Conflict Resolution Engine (C6): a
three-way merge of a ChangeSet's proposed changes into its target
branch, with severity-graded automatic resolution and background DAG
compaction of a branch's commit history.

# Merge algorithm

Given a ChangeSet's base commit and the current state of its source and
target branches:

  1. Compute diff(base, source) and diff(base, target) over the entity
     set touched by either side.
  2. Apply every non-overlapping change directly.
  3. For each entity touched by both sides, run the conflict rule table
     (rules.go) to classify the overlap into (resolution, severity). A
     severity of INFO or WARN auto-resolves; ERROR and BLOCK collect
     into the result's ManualConflicts instead.
  4. If any ERROR/BLOCK conflict remains, the merge returns
     StatusManualRequired with the full conflict list and changes
     nothing. Otherwise it constructs a merge Commit (two parents: the
     prior branch head and the changeset's last commit), persists the
     commit, the updated branch head, the updated entities, the
     ChangeSet's merged state, and the outbox/audit rows in one
     store.WithTx transaction, mirroring pkg/outbox's transactional
     pattern.
  5. Post-merge validation (referential integrity, interface
     implementation invariants) runs inside the same transaction; a
     failure aborts the bbolt transaction, so nothing written in step 4
     survives.

Overlap conflicts are classified and auto-resolved concurrently by a
fixed-size worker pool (pool.go), sized to runtime.NumCPU() and shaped
like the teacher's ticker-driven background workers: a channel of work
items drained by a bounded set of goroutines, synchronized with a
sync.WaitGroup.

# DAG compaction

Compact walks a branch's commit DAG (commits.go) and collapses maximal
linear chains — single parent, single child, not a merge commit, not a
branch point, not a branch's current head — into the chain's last
commit, recording the absorbed IDs in CompactedFrom. It never touches a
merge commit, a branch point, or a commit a Branch.HeadCommit still
references. Cycle detection (a correctness guard; a branch's history
must be acyclic) reuses the same DFS colour-marking walk.
*/
package mergeengine
