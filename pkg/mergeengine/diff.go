package mergeengine

import (
	"reflect"
	"time"

	"github.com/ontosys/omscore/pkg/types"
)

var zeroTime time.Time

// diff computes the entity-level changes between a base snapshot and a
// head snapshot, both keyed by rid. Entities present in one map and
// absent in the other are ADD/DELETE; entities present in both but not
// content-equal are MODIFY.
func diff(base, head map[string]*types.SchemaEntity) []types.EntityChange {
	seen := make(map[string]struct{}, len(base)+len(head))
	var changes []types.EntityChange

	for rid, b := range base {
		seen[rid] = struct{}{}
		h, ok := head[rid]
		if !ok {
			changes = append(changes, types.EntityChange{Rid: rid, Kind: b.Kind, Op: types.ChangeDelete, Before: b})
			continue
		}
		if !entitiesEqual(b, h) {
			changes = append(changes, types.EntityChange{Rid: rid, Kind: h.Kind, Op: types.ChangeModify, Before: b, After: h})
		}
	}
	for rid, h := range head {
		if _, ok := seen[rid]; ok {
			continue
		}
		changes = append(changes, types.EntityChange{Rid: rid, Kind: h.Kind, Op: types.ChangeAdd, After: h})
	}
	return changes
}

// entitiesEqual compares the content-relevant fields of two entities,
// ignoring bookkeeping fields (Version, UpdatedAt, UpdatedBy) that
// change on every write regardless of content.
func entitiesEqual(a, b *types.SchemaEntity) bool {
	ac, bc := *a, *b
	ac.Version, bc.Version = 0, 0
	ac.UpdatedAt, bc.UpdatedAt = zeroTime, zeroTime
	ac.UpdatedBy, bc.UpdatedBy = "", ""
	return reflect.DeepEqual(ac, bc)
}

// changesByRid indexes a change slice for overlap lookup.
func changesByRid(changes []types.EntityChange) map[string]types.EntityChange {
	m := make(map[string]types.EntityChange, len(changes))
	for _, c := range changes {
		m[c.Rid] = c
	}
	return m
}
