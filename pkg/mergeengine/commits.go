package mergeengine

import (
	"sort"

	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/types"
)

// Compact collapses a branch's maximal linear commit chains (single
// parent, single child, not a merge commit, not a branch point, not the
// current head) into the chain's surviving endpoint, recording the
// absorbed IDs in that endpoint's CompactedFrom. A preserved node's ID
// never changes.
//
// A commit is kept (never absorbed) if it is a merge commit, the
// current head, a root, or has zero or more-than-one children. Every
// other commit is interior to exactly one linear run between two kept
// commits and gets folded into the run's far end.
func Compact(commits []*types.Commit, headCommitID string) ([]*types.Commit, int, error) {
	byID := make(map[string]*types.Commit, len(commits))
	childrenOf := make(map[string][]string, len(commits))
	var nodes []string
	edges := make(map[string][]string)
	for _, c := range commits {
		byID[c.ID] = c
		nodes = append(nodes, c.ID)
		if c.ParentID != "" {
			childrenOf[c.ParentID] = append(childrenOf[c.ParentID], c.ID)
			edges[c.ParentID] = append(edges[c.ParentID], c.ID)
		}
		if c.MergeParentID != "" {
			edges[c.MergeParentID] = append(edges[c.MergeParentID], c.ID)
		}
	}
	sort.Strings(nodes)
	if cyclic, path := hasCycle(nodes, edges); cyclic {
		return nil, 0, omserr.Newf(omserr.Internal, "branch history is not acyclic: %v", path)
	}

	kept := make(map[string]bool, len(commits))
	for _, c := range commits {
		kept[c.ID] = c.MergeParentID != "" || c.ID == headCommitID || c.ParentID == "" || len(childrenOf[c.ID]) != 1
	}

	landings := make(map[string]*types.Commit, len(commits))
	for _, c := range commits {
		if kept[c.ID] {
			cp := *c
			landings[c.ID] = &cp
		}
	}

	collapsed := 0
	for _, anchor := range commits {
		if !kept[anchor.ID] {
			continue
		}
		for _, child := range childrenOf[anchor.ID] {
			if kept[child] {
				continue
			}

			chain := []string{child}
			cur := child
			for {
				kids := childrenOf[cur]
				if len(kids) != 1 {
					break
				}
				next := kids[0]
				if kept[next] {
					landing := landings[next]
					landing.ParentID = anchor.ID
					landing.CompactedFrom = append(append([]string{}, landing.CompactedFrom...), chain...)
					collapsed += len(chain)
					break
				}
				chain = append(chain, next)
				cur = next
			}
		}
	}

	result := make([]*types.Commit, 0, len(landings))
	for _, c := range landings {
		result = append(result, c)
	}
	return result, collapsed, nil
}
