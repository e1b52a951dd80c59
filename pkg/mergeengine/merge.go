package mergeengine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ontosys/omscore/pkg/events"
	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/metrics"
	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/outbox"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

const mergeEventSource = "oms://mergeengine"

// Engine is the Merge & Conflict Resolution Engine (C6).
type Engine struct {
	store store.Store
}

// NewEngine builds an Engine over the Persistent Store Gateway.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Merge runs the five-step merge algorithm against one changeset: load
// the base/source/target entity snapshots, classify every overlapping
// rid, abort on any blocking conflict, else apply every resolution and
// commit. On success it persists the merge commit, the mutated
// entities, the target branch's new head, and the changeset's merged
// state in a single transaction, and enqueues a branch.merged outbox
// event and an audit record in that same transaction.
func (e *Engine) Merge(req MergeRequest) (*MergeResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MergeDuration)

	if req.ChangeSet.State != types.ProposalApproved {
		return nil, omserr.Newf(omserr.PreconditionFailed, "changeset %s is not approved (state=%s)", req.ChangeSet.ID, req.ChangeSet.State)
	}

	sourceDiff := diff(req.BaseEntities, req.SourceEntities)
	targetDiff := diff(req.BaseEntities, req.TargetEntities)
	sourceByRid := changesByRid(sourceDiff)
	targetByRid := changesByRid(targetDiff)

	merged := make(map[string]*types.SchemaEntity, len(req.TargetEntities))
	for rid, entity := range req.TargetEntities {
		merged[rid] = entity
	}

	var jobs []overlapJob
	for rid, sc := range sourceByRid {
		if _, overlaps := targetByRid[rid]; overlaps {
			jobs = append(jobs, overlapJob{rid: rid, base: req.BaseEntities[rid], source: sc, target: targetByRid[rid]})
			continue
		}
		applyChange(merged, sc)
	}

	var allConflicts []Conflict
	var manualConflicts []Conflict

	for _, res := range evaluateOverlaps(jobs) {
		for _, c := range res.conflicts {
			allConflicts = append(allConflicts, c)
			// INFO/WARN conflicts only resolve automatically when the
			// caller opts in; ERROR/BLOCK never do. Either way, anything
			// not applied is surfaced back to the caller.
			if c.Severity.autoResolvable() && req.AutoResolve {
				continue
			}
			manualConflicts = append(manualConflicts, c)
		}
		if req.AutoResolve && allAutoResolvable(res.conflicts) {
			applyResolution(merged, res.rid, res.resolution)
		}
	}

	postConflicts := append(validateInterfaceInvariants(merged), detectCircularDependencies(merged)...)
	allConflicts = append(allConflicts, postConflicts...)
	for _, c := range postConflicts {
		manualConflicts = append(manualConflicts, c)
	}

	for _, c := range allConflicts {
		metrics.MergeConflictsTotal.WithLabelValues(string(c.Severity)).Inc()
	}

	blocking := filterBySeverity(manualConflicts, SeverityError, SeverityBlock)
	if len(blocking) > 0 {
		return &MergeResult{
			Status:          StatusManualRequired,
			Conflicts:       allConflicts,
			ManualConflicts: blocking,
			DurationMS:      timer.Duration().Milliseconds(),
		}, nil
	}

	commit, err := e.persist(req, merged, req.TargetEntities, timer.Duration().Milliseconds())
	if err != nil {
		return &MergeResult{Status: StatusFailed, Conflicts: allConflicts, DurationMS: timer.Duration().Milliseconds()}, err
	}

	return &MergeResult{
		Status:        StatusSuccess,
		MergeCommitID: commit.ID,
		Conflicts:     allConflicts,
		DurationMS:    timer.Duration().Milliseconds(),
	}, nil
}

// applyChange lands one non-overlapping diff onto the merged entity set.
func applyChange(merged map[string]*types.SchemaEntity, c types.EntityChange) {
	switch c.Op {
	case types.ChangeAdd, types.ChangeModify:
		merged[c.Rid] = c.After
	case types.ChangeDelete:
		delete(merged, c.Rid)
	}
}

// applyResolution lands an overlap's resolved outcome onto the merged
// entity set, keyed by rid (the Resolution's Entity may carry a
// different Rid than the map key when a same-id-differing-kind rule
// resolved to a different source/target variant; the rid key wins).
func applyResolution(merged map[string]*types.SchemaEntity, rid string, res Resolution) {
	switch res.Op {
	case types.ChangeDelete:
		delete(merged, rid)
	default:
		if res.Entity != nil {
			merged[rid] = res.Entity
		}
	}
}

func allAutoResolvable(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if !c.Severity.autoResolvable() {
			return false
		}
	}
	return true
}

func filterBySeverity(conflicts []Conflict, sevs ...Severity) []Conflict {
	want := make(map[Severity]struct{}, len(sevs))
	for _, s := range sevs {
		want[s] = struct{}{}
	}
	var out []Conflict
	for _, c := range conflicts {
		if _, ok := want[c.Severity]; ok {
			out = append(out, c)
		}
	}
	return out
}

// persist constructs the merge commit and lands it, the mutated
// entities, the target branch's new head, the changeset's merged
// state, the branch.merged outbox event, and the audit record in one
// bbolt transaction.
func (e *Engine) persist(req MergeRequest, merged, before map[string]*types.SchemaEntity, durationMS int64) (*types.Commit, error) {
	now := time.Now().UTC()
	commit := &types.Commit{
		ID:            uuid.NewString(),
		Branch:        req.TargetBranch.Name,
		ParentID:      req.TargetBranch.HeadCommit,
		MergeParentID: req.SourceHeadCommit,
		ChangeSetID:   req.ChangeSet.ID,
		Message:       "merge changeset " + req.ChangeSet.ID + " from " + req.ChangeSet.SourceBranch,
		CreatedAt:     now,
		CreatedBy:     req.Actor,
	}

	envelope, err := outbox.NewEnvelope(outbox.NewEnvelopeParams{
		Type:    string(events.EventBranchMerged),
		Source:  mergeEventSource,
		Subject: req.TargetBranch.Name,
		Data: map[string]any{
			"changeset_id": req.ChangeSet.ID,
			"commit_id":    commit.ID,
			"source":       req.ChangeSet.SourceBranch,
			"target":       req.ChangeSet.TargetBranch,
		},
		Branch: req.TargetBranch.Name,
		Commit: commit.ID,
		Author: req.Actor,
	}, now)
	if err != nil {
		return nil, omserr.Wrap(omserr.Internal, "build branch.merged envelope", err)
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, omserr.Wrap(omserr.Internal, "marshal branch.merged envelope", err)
	}

	err = e.store.WithTx(func(tx *store.Tx) error {
		for rid, entity := range merged {
			prior, existed := before[rid]
			if existed && entitiesEqual(prior, entity) {
				continue
			}
			if err := tx.PutEntity(entity); err != nil {
				return err
			}
		}
		for rid, prior := range before {
			if _, still := merged[rid]; !still {
				if err := tx.DeleteEntity(prior.Branch, prior.Kind, rid); err != nil {
					return err
				}
			}
		}

		if err := tx.PutCommit(commit); err != nil {
			return err
		}

		req.TargetBranch.HeadCommit = commit.ID
		req.TargetBranch.UpdatedAt = now
		req.TargetBranch.UpdatedBy = req.Actor
		req.TargetBranch.Version++
		if err := tx.PutBranch(req.TargetBranch); err != nil {
			return err
		}

		req.ChangeSet.State = types.ProposalMerged
		req.ChangeSet.MergedAt = &now
		req.ChangeSet.MergeCommit = commit.ID
		req.ChangeSet.UpdatedAt = now
		if err := tx.PutChangeSet(req.ChangeSet); err != nil {
			return err
		}

		if err := tx.InsertOutbox(&types.OutboxRecord{
			EventID:       envelope.ID,
			Type:          envelope.Type,
			Payload:       payload,
			Subject:       envelope.Subject,
			CorrelationID: envelope.CorrelationID,
			Status:        types.OutboxPendingStatus,
			MaxRetries:    5,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		return tx.AppendAuditRecord(&types.AuditRecord{
			ID:         uuid.NewString(),
			EventID:    uuid.NewString(),
			Action:     "branch.merge",
			ActorID:    req.Actor,
			TargetKind: "branch",
			TargetID:   req.TargetBranch.Name,
			Branch:     req.TargetBranch.Name,
			Success:    true,
			DurationMS: durationMS,
			Changes:    types.AuditChanges{FieldsChanged: []string{"head_commit"}},
			Time:       now,
		})
	})
	if err != nil {
		log.Logger.Error().Err(err).Str("changeset_id", req.ChangeSet.ID).Msg("mergeengine: persist failed")
		return nil, err
	}
	return commit, nil
}
