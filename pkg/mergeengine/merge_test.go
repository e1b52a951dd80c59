package mergeengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func baseProperty(baseType types.BaseType) *types.SchemaEntity {
	return &types.SchemaEntity{
		EntityHeader: types.EntityHeader{
			Rid: "prop_total", Kind: types.KindProperty, APIName: "total",
			Status: types.StatusActive, CreatedAt: time.Unix(1000, 0),
		},
		BaseType: baseType,
	}
}

func TestDiffClassifiesAddModifyDelete(t *testing.T) {
	base := map[string]*types.SchemaEntity{
		"a": {EntityHeader: types.EntityHeader{Rid: "a", DisplayName: "A"}},
		"b": {EntityHeader: types.EntityHeader{Rid: "b", DisplayName: "B"}},
	}
	head := map[string]*types.SchemaEntity{
		"a": {EntityHeader: types.EntityHeader{Rid: "a", DisplayName: "A changed"}},
		"c": {EntityHeader: types.EntityHeader{Rid: "c", DisplayName: "C"}},
	}
	changes := changesByRid(diff(base, head))
	assert.Equal(t, types.ChangeModify, changes["a"].Op)
	assert.Equal(t, types.ChangeDelete, changes["b"].Op)
	assert.Equal(t, types.ChangeAdd, changes["c"].Op)
}

func TestMergePropertyTypeWidensAutomatically(t *testing.T) {
	base := baseProperty(types.BaseTypeString)
	source := baseProperty(types.BaseTypeText)
	target := baseProperty(types.BaseTypeString)
	target.DisplayName = "Total (renamed)"

	res, conflicts := classifyOverlap(base, types.EntityChange{Rid: "prop_total", Op: types.ChangeModify, After: source}, types.EntityChange{Rid: "prop_total", Op: types.ChangeModify, After: target})
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityInfo, conflicts[0].Severity)
	assert.Equal(t, types.BaseTypeText, res.Entity.BaseType)
	assert.Equal(t, "Total (renamed)", res.Entity.DisplayName)
}

func TestMergePropertyTypeNarrowingIsManual(t *testing.T) {
	base := baseProperty(types.BaseTypeLong)
	source := baseProperty(types.BaseTypeInt)
	target := baseProperty(types.BaseTypeLong)

	_, conflicts := classifyOverlap(base, types.EntityChange{Rid: "prop_total", Op: types.ChangeModify, After: source}, types.EntityChange{Rid: "prop_total", Op: types.ChangeModify, After: target})
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityError, conflicts[0].Severity)
}

func TestMergeDeleteVsModifyDeprecatedEntityDeletes(t *testing.T) {
	base := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p1", Status: types.StatusDeprecated}}
	modified := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p1", Status: types.StatusDeprecated, DisplayName: "edited"}}

	res, conflicts := classifyOverlap(base,
		types.EntityChange{Rid: "p1", Op: types.ChangeDelete, Before: base},
		types.EntityChange{Rid: "p1", Op: types.ChangeModify, Before: base, After: modified})
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityInfo, conflicts[0].Severity)
	assert.Equal(t, types.ChangeDelete, res.Op)
}

func TestMergeDeleteVsModifyActiveEntityModifyWins(t *testing.T) {
	base := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p1", Status: types.StatusActive}}
	modified := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p1", Status: types.StatusActive, DisplayName: "edited"}}

	res, conflicts := classifyOverlap(base,
		types.EntityChange{Rid: "p1", Op: types.ChangeModify, Before: base, After: modified},
		types.EntityChange{Rid: "p1", Op: types.ChangeDelete, Before: base})
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityWarn, conflicts[0].Severity)
	assert.Equal(t, types.ChangeModify, res.Op)
	assert.Equal(t, "edited", res.Entity.DisplayName)
}

func TestMergeSameIDDifferingKindPrefersHigherRank(t *testing.T) {
	objType := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "x1", Kind: types.KindObjectType}}
	prop := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "x1", Kind: types.KindProperty}}

	res, conflicts := classifyOverlap(nil,
		types.EntityChange{Rid: "x1", Op: types.ChangeAdd, After: prop},
		types.EntityChange{Rid: "x1", Op: types.ChangeAdd, After: objType})
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityInfo, conflicts[0].Severity)
	assert.Equal(t, types.KindObjectType, res.Entity.Kind)
}

func TestMergeCardinalityNarrowingIsManual(t *testing.T) {
	base := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "l1", Kind: types.KindLinkType}, Cardinality: types.CardinalityManyToMany}
	source := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "l1", Kind: types.KindLinkType}, Cardinality: types.CardinalityOneToOne}
	target := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "l1", Kind: types.KindLinkType}, Cardinality: types.CardinalityManyToMany}

	_, conflicts := classifyOverlap(base,
		types.EntityChange{Rid: "l1", Op: types.ChangeModify, After: source},
		types.EntityChange{Rid: "l1", Op: types.ChangeModify, After: target})
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityError, conflicts[0].Severity)
	assert.Equal(t, "cardinality_narrowing", conflicts[0].Rule)
}

func TestMergeConstraintIntersectionPicksTighterBound(t *testing.T) {
	base := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p2", Kind: types.KindProperty}, Constraints: []types.Constraint{{Kind: "max", Value: "100"}}}
	source := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p2", Kind: types.KindProperty}, Constraints: []types.Constraint{{Kind: "max", Value: "50"}}}
	target := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p2", Kind: types.KindProperty}, Constraints: []types.Constraint{{Kind: "max", Value: "80"}}}

	res, conflicts := classifyOverlap(base,
		types.EntityChange{Rid: "p2", Op: types.ChangeModify, After: source},
		types.EntityChange{Rid: "p2", Op: types.ChangeModify, After: target})
	require.Len(t, conflicts, 1)
	assert.Equal(t, "constraint_intersection", conflicts[0].Rule)
	require.Len(t, res.Entity.Constraints, 1)
	assert.Equal(t, "50", res.Entity.Constraints[0].Value)
}

func TestValidateInterfaceInvariantsBlocksMissingRequiredProperty(t *testing.T) {
	iface := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "iface1", Kind: types.KindInterface, APIName: "Taggable"}, RequiredProperties: []string{"tags"}}
	obj := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "obj1", Kind: types.KindObjectType, APIName: "Document"}, ImplementsInterfaces: []string{"iface1"}}

	conflicts := validateInterfaceInvariants(map[string]*types.SchemaEntity{"iface1": iface, "obj1": obj})
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityBlock, conflicts[0].Severity)
}

func TestDetectCircularDependenciesFindsCycle(t *testing.T) {
	entities := map[string]*types.SchemaEntity{
		"l1": {EntityHeader: types.EntityHeader{Rid: "l1", Kind: types.KindLinkType}, SourceRid: "o1", TargetRid: "o2"},
		"l2": {EntityHeader: types.EntityHeader{Rid: "l2", Kind: types.KindLinkType}, SourceRid: "o2", TargetRid: "o1"},
	}
	conflicts := detectCircularDependencies(entities)
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityBlock, conflicts[0].Severity)
}

func TestCompactCollapsesLinearChain(t *testing.T) {
	now := time.Now()
	commits := []*types.Commit{
		{ID: "c1", Branch: "main", ParentID: "", CreatedAt: now},
		{ID: "c2", Branch: "main", ParentID: "c1", CreatedAt: now},
		{ID: "c3", Branch: "main", ParentID: "c2", CreatedAt: now},
		{ID: "c4", Branch: "main", ParentID: "c3", CreatedAt: now}, // head
	}
	out, collapsed, err := Compact(commits, "c4")
	require.NoError(t, err)
	assert.Equal(t, 2, collapsed)

	byID := map[string]*types.Commit{}
	for _, c := range out {
		byID[c.ID] = c
	}
	require.Contains(t, byID, "c1")
	require.Contains(t, byID, "c4")
	assert.NotContains(t, byID, "c2")
	assert.NotContains(t, byID, "c3")
	assert.ElementsMatch(t, []string{"c2", "c3"}, byID["c4"].CompactedFrom)
	assert.Equal(t, "c1", byID["c4"].ParentID)
}

func TestCompactPreservesBranchPointsAndMergeCommits(t *testing.T) {
	now := time.Now()
	commits := []*types.Commit{
		{ID: "c1", Branch: "main", ParentID: "", CreatedAt: now},
		{ID: "c2", Branch: "main", ParentID: "c1", CreatedAt: now}, // branch point: two children
		{ID: "c3", Branch: "main", ParentID: "c2", CreatedAt: now},
		{ID: "c4", Branch: "feature", ParentID: "c2", CreatedAt: now},
		{ID: "c5", Branch: "main", ParentID: "c3", MergeParentID: "c4", CreatedAt: now}, // merge commit
	}
	out, _, err := Compact(commits, "c5")
	require.NoError(t, err)
	ids := make(map[string]bool, len(out))
	for _, c := range out {
		ids[c.ID] = true
	}
	assert.True(t, ids["c2"], "branch point must be preserved")
	assert.True(t, ids["c5"], "merge commit must be preserved")
}

func TestEngineMergeSuccessPersistsCommitAndBranchHead(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateBranch(&types.Branch{Name: "feature", State: types.BranchActive, HeadCommit: "src_head"}))
	target := &types.Branch{Name: "main", State: types.BranchActive, HeadCommit: "main_head"}
	require.NoError(t, s.CreateBranch(target))

	cs := &types.ChangeSet{ID: "cs1", SourceBranch: "feature", TargetBranch: "main", State: types.ProposalApproved}

	prop := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p1", Kind: types.KindProperty, APIName: "count", Branch: "main", Status: types.StatusActive}, BaseType: types.BaseTypeInt}
	sourceProp := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "p1", Kind: types.KindProperty, APIName: "count", Branch: "main", Status: types.StatusActive}, BaseType: types.BaseTypeLong}

	engine := NewEngine(s)
	result, err := engine.Merge(MergeRequest{
		ChangeSet:        cs,
		TargetBranch:     target,
		BaseEntities:     map[string]*types.SchemaEntity{"p1": prop},
		SourceEntities:   map[string]*types.SchemaEntity{"p1": sourceProp},
		TargetEntities:   map[string]*types.SchemaEntity{"p1": prop},
		SourceHeadCommit: "src_head",
		AutoResolve:      true,
		Actor:            "merge-bot",
	})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.NotEmpty(t, result.MergeCommitID)

	committed, err := s.GetCommit(result.MergeCommitID)
	require.NoError(t, err)
	assert.Equal(t, "main_head", committed.ParentID)
	assert.Equal(t, "src_head", committed.MergeParentID)

	updatedBranch, err := s.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, result.MergeCommitID, updatedBranch.HeadCommit)

	updatedCS, err := s.GetChangeSet("cs1")
	require.NoError(t, err)
	assert.Equal(t, types.ProposalMerged, updatedCS.State)

	updatedEntity, err := s.GetEntity("main", types.KindProperty, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.BaseTypeLong, updatedEntity.BaseType)

	count, err := s.CountOutboxByStatus(types.OutboxPendingStatus)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngineMergeReturnsManualRequiredOnBlockingConflict(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateBranch(&types.Branch{Name: "feature", State: types.BranchActive}))
	target := &types.Branch{Name: "main", State: types.BranchActive, HeadCommit: "main_head"}
	require.NoError(t, s.CreateBranch(target))

	cs := &types.ChangeSet{ID: "cs2", SourceBranch: "feature", TargetBranch: "main", State: types.ProposalApproved}

	base := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "l1", Kind: types.KindLinkType, Branch: "main"}, Cardinality: types.CardinalityManyToMany}
	sourceNarrowed := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "l1", Kind: types.KindLinkType, Branch: "main"}, Cardinality: types.CardinalityOneToOne}
	targetUnchanged := &types.SchemaEntity{EntityHeader: types.EntityHeader{Rid: "l1", Kind: types.KindLinkType, Branch: "main"}, Cardinality: types.CardinalityOneToMany, DisplayName: "renamed"}

	engine := NewEngine(s)
	result, err := engine.Merge(MergeRequest{
		ChangeSet:      cs,
		TargetBranch:   target,
		BaseEntities:   map[string]*types.SchemaEntity{"l1": base},
		SourceEntities: map[string]*types.SchemaEntity{"l1": sourceNarrowed},
		TargetEntities: map[string]*types.SchemaEntity{"l1": targetUnchanged},
		AutoResolve:    true,
		Actor:          "merge-bot",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusManualRequired, result.Status)
	require.NotEmpty(t, result.ManualConflicts)

	updatedBranch, err := s.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, "main_head", updatedBranch.HeadCommit, "target branch head must not move on a blocked merge")
}
