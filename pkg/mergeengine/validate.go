package mergeengine

import (
	"sort"
	"strings"

	"github.com/ontosys/omscore/pkg/types"
)

// validateInterfaceInvariants checks every ObjectType's implemented
// interfaces against that interface's RequiredProperties, over the
// fully-merged entity set. A missing required property is a BLOCK
// conflict, per "union (BLOCK if resulting object fails interface
// invariants)".
func validateInterfaceInvariants(entities map[string]*types.SchemaEntity) []Conflict {
	interfaces := make(map[string]*types.SchemaEntity)
	ownedProps := make(map[string]map[string]struct{})
	for _, e := range entities {
		switch e.Kind {
		case types.KindInterface:
			interfaces[e.Rid] = e
		case types.KindProperty:
			if e.ObjectRid == "" {
				continue
			}
			if ownedProps[e.ObjectRid] == nil {
				ownedProps[e.ObjectRid] = make(map[string]struct{})
			}
			ownedProps[e.ObjectRid][e.APIName] = struct{}{}
		}
	}

	var conflicts []Conflict
	for _, e := range entities {
		if e.Kind != types.KindObjectType {
			continue
		}
		for _, ifaceRid := range e.ImplementsInterfaces {
			iface, ok := interfaces[ifaceRid]
			if !ok {
				continue
			}
			for _, req := range iface.RequiredProperties {
				if _, has := ownedProps[e.Rid][req]; !has {
					conflicts = append(conflicts, Conflict{
						Rid: e.Rid, Kind: e.Kind, Rule: "interface_invariant_violation",
						Resolution: "manual_merge", Severity: SeverityBlock,
						Detail: "object type " + e.APIName + " is missing required property " + req + " for interface " + iface.APIName,
					})
				}
			}
		}
	}
	return conflicts
}

// detectCircularDependencies walks the LinkType source→target graph
// over the fully-merged entity set and reports "Circular dependency
// introduced" as a BLOCK conflict requiring manual refactor.
func detectCircularDependencies(entities map[string]*types.SchemaEntity) []Conflict {
	edges := make(map[string][]string)
	nodeSet := make(map[string]struct{})
	for _, e := range entities {
		if e.Kind != types.KindLinkType {
			continue
		}
		edges[e.SourceRid] = append(edges[e.SourceRid], e.TargetRid)
		nodeSet[e.SourceRid] = struct{}{}
		nodeSet[e.TargetRid] = struct{}{}
	}
	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	if cyclic, path := hasCycle(nodes, edges); cyclic {
		return []Conflict{{
			Rule: "circular_dependency", Resolution: "manual_refactor", Severity: SeverityBlock,
			Detail: "cycle introduced: " + strings.Join(path, " -> "),
		}}
	}
	return nil
}
