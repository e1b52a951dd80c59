package mergeengine

import (
	"github.com/ontosys/omscore/pkg/types"
)

// Severity is a conflict's classification per the rule table: INFO and
// WARN auto-resolve when the caller asks for it, ERROR and BLOCK always
// require a human.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
	SeverityBlock Severity = "BLOCK"
)

// autoResolvable reports whether a conflict of this severity may be
// applied automatically when the caller opts in (AutoResolve=true).
func (s Severity) autoResolvable() bool {
	return s == SeverityInfo || s == SeverityWarn
}

// rank orders severities from least to most serious, for picking the
// worse of two conflicts touching the same entity.
func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarn:
		return 1
	case SeverityError:
		return 2
	case SeverityBlock:
		return 3
	default:
		return 3
	}
}

// Conflict is one overlapping change the rule table classified.
type Conflict struct {
	Rid          string
	Kind         types.EntityKind
	Rule         string
	Resolution   string
	Severity     Severity
	AutoResolved bool
	Detail       string
}

// MergeStatus is the outcome of a merge attempt.
type MergeStatus string

const (
	StatusSuccess        MergeStatus = "success"
	StatusManualRequired MergeStatus = "manual_required"
	StatusFailed         MergeStatus = "failed"
)

// MergeRequest describes one merge attempt: the changeset being merged,
// resolved against entity snapshots the caller has already resolved for
// the common ancestor and for both branches' current heads. The engine
// has no notion of entity-state-at-a-past-commit on its own; assembling
// BaseEntities/SourceEntities/TargetEntities from the right point in
// history is the caller's responsibility.
type MergeRequest struct {
	ChangeSet        *types.ChangeSet
	TargetBranch     *types.Branch
	BaseEntities     map[string]*types.SchemaEntity
	SourceEntities   map[string]*types.SchemaEntity
	TargetEntities   map[string]*types.SchemaEntity
	SourceHeadCommit string
	AutoResolve      bool
	Actor            string
}

// MergeResult is the full outcome of a merge attempt.
type MergeResult struct {
	Status          MergeStatus
	MergeCommitID   string
	Conflicts       []Conflict
	ManualConflicts []Conflict
	DurationMS      int64
}
