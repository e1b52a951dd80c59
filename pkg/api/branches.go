package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ontosys/omscore/pkg/events"
	"github.com/ontosys/omscore/pkg/mergeengine"
	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

type createBranchBody struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateBranch(c echo.Context) error {
	var body createBranchBody
	if err := c.Bind(&body); err != nil {
		return omserr.Wrap(omserr.InvalidArgument, "decode branch body", err)
	}
	if body.Name == "" {
		return omserr.New(omserr.InvalidArgument, "name is required")
	}

	actor := actorOf(c)
	branch := &types.Branch{
		Name:      body.Name,
		State:     types.BranchActive,
		UpdatedAt: time.Now(),
		UpdatedBy: actor,
	}
	err := s.landSchemaWrite(events.EventBranchCreated, "branch", branch.Name, branch.Name, actor, "branch.create", nil, branchToMap(branch),
		func(tx *store.Tx) error { return tx.PutBranch(branch) })
	if err != nil {
		return err
	}

	s.publishSchemaEvent(events.EventBranchCreated, branch.Name, branch.Name, branch.UpdatedBy)
	return c.JSON(http.StatusCreated, branch)
}

func (s *Server) handleGetBranch(c echo.Context) error {
	branch, err := s.deps.Store.GetBranch(c.Param("branch"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, branch)
}

func (s *Server) handleArchiveBranch(c echo.Context) error {
	branch, err := s.deps.Store.GetBranch(c.Param("branch"))
	if err != nil {
		return err
	}

	before := branchToMap(branch)
	expectedVersion := branch.Version
	branch.State = types.BranchArchived
	branch.UpdatedAt = time.Now()
	branch.UpdatedBy = actorOf(c)

	err = s.landSchemaWrite(events.EventBranchArchived, "branch", branch.Name, branch.Name, branch.UpdatedBy, "branch.archive", before, branchToMap(branch),
		func(tx *store.Tx) error { return tx.UpdateBranch(branch, expectedVersion) })
	if err != nil {
		return err
	}

	s.publishSchemaEvent(events.EventBranchArchived, branch.Name, branch.Name, branch.UpdatedBy)
	return c.JSON(http.StatusOK, branch)
}

// branchToMap renders branch as a plain map for an audit record's
// before/after snapshot.
func branchToMap(branch *types.Branch) map[string]any {
	data, err := json.Marshal(branch)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

type mergeBranchBody struct {
	ChangeSetID string `json:"changeset_id"`
	AutoResolve bool   `json:"auto_resolve"`
}

// handleMergeBranch loads the changeset and the source/target branches'
// current entity snapshots and runs mergeengine.Engine.Merge. This build
// has no separate historical-commit entity snapshot store, so the
// target branch's current entities double as the three-way merge's base
// snapshot — correct for the common fast-forward case, a known
// simplification for a source branch with its own divergent history.
func (s *Server) handleMergeBranch(c echo.Context) error {
	var body mergeBranchBody
	if err := c.Bind(&body); err != nil {
		return omserr.Wrap(omserr.InvalidArgument, "decode merge body", err)
	}
	if body.ChangeSetID == "" {
		return omserr.New(omserr.InvalidArgument, "changeset_id is required")
	}

	changeSet, err := s.deps.Store.GetChangeSet(body.ChangeSetID)
	if err != nil {
		return err
	}

	targetName := c.Param("branch")
	target, err := s.deps.Store.GetBranch(targetName)
	if err != nil {
		return err
	}

	targetEntities, err := s.entitySnapshot(targetName)
	if err != nil {
		return err
	}
	sourceEntities, err := s.entitySnapshot(changeSet.SourceBranch)
	if err != nil {
		return err
	}

	result, err := s.deps.Merge.Merge(mergeengine.MergeRequest{
		ChangeSet:        changeSet,
		TargetBranch:     target,
		BaseEntities:     targetEntities,
		SourceEntities:   sourceEntities,
		TargetEntities:   targetEntities,
		SourceHeadCommit: changeSet.BaseCommit,
		AutoResolve:      body.AutoResolve,
		Actor:            actorOf(c),
	})
	if err != nil {
		return err
	}

	if result.Status == mergeengine.StatusSuccess {
		s.publishSchemaEvent(events.EventBranchMerged, targetName, result.MergeCommitID, actorOf(c))
	}
	return c.JSON(http.StatusOK, result)
}

// entitySnapshot loads every schema entity on branch, across all kinds,
// keyed by rid, for mergeengine's three-way diff.
func (s *Server) entitySnapshot(branch string) (map[string]*types.SchemaEntity, error) {
	snapshot := map[string]*types.SchemaEntity{}
	for _, kind := range slugToKind {
		entities, err := s.deps.Store.ListEntities(branch, kind)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			snapshot[e.Rid] = e
		}
	}
	return snapshot, nil
}
