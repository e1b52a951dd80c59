package mergeengine

import (
	"strconv"

	"github.com/ontosys/omscore/pkg/types"
)

// Resolution is the outcome classify proposes for one overlapping rid:
// the entity-level operation to apply if the merge ultimately succeeds.
// Entity is nil when Op is ChangeDelete.
type Resolution struct {
	Op     types.EntityChangeOp
	Entity *types.SchemaEntity
}

// classifyOverlap runs the conflict rule table against one rid touched
// by both the source and target side of a merge, returning
// the resolution an auto-resolving merge would apply plus the conflicts
// it had to decide. Callers collect every Conflict regardless of
// severity; a merge with any ERROR/BLOCK conflict anywhere in the
// changeset aborts instead of applying any Resolution.
func classifyOverlap(base *types.SchemaEntity, source, target types.EntityChange) (Resolution, []Conflict) {
	switch {
	case source.Op == types.ChangeDelete || target.Op == types.ChangeDelete:
		return resolveDeleteVsModify(base, source, target)
	case source.Op == types.ChangeAdd && target.Op == types.ChangeAdd:
		return resolveSameIDDifferingKind(source.After, target.After)
	default:
		return resolveModifyModify(base, source.After, target.After)
	}
}

var kindRank = map[types.EntityKind]int{
	types.KindProperty:   0,
	types.KindLinkType:   1,
	types.KindObjectType: 2,
	types.KindInterface:  3,
}

// resolveSameIDDifferingKind applies "Interface > ObjectType > LinkType >
// Property; system > user; earlier creation wins ties".
func resolveSameIDDifferingKind(source, target *types.SchemaEntity) (Resolution, []Conflict) {
	sr, tr := kindRank[source.Kind], kindRank[target.Kind]
	switch {
	case sr != tr:
		winner := source
		if tr > sr {
			winner = target
		}
		return Resolution{Op: types.ChangeAdd, Entity: winner}, []Conflict{{
			Rid: winner.Rid, Kind: winner.Kind, Rule: "same_id_differing_kind",
			Resolution: "kind_priority", Severity: SeverityInfo, AutoResolved: true,
		}}
	case (source.CreatedBy == "system") != (target.CreatedBy == "system"):
		winner := target
		if source.CreatedBy == "system" {
			winner = source
		}
		return Resolution{Op: types.ChangeAdd, Entity: winner}, []Conflict{{
			Rid: winner.Rid, Kind: winner.Kind, Rule: "same_id_differing_kind",
			Resolution: "system_over_user", Severity: SeverityInfo, AutoResolved: true,
		}}
	case !source.CreatedAt.Equal(target.CreatedAt):
		winner := target
		if source.CreatedAt.Before(target.CreatedAt) {
			winner = source
		}
		return Resolution{Op: types.ChangeAdd, Entity: winner}, []Conflict{{
			Rid: winner.Rid, Kind: winner.Kind, Rule: "same_id_differing_kind",
			Resolution: "earlier_creation_wins", Severity: SeverityInfo, AutoResolved: true,
		}}
	default:
		return Resolution{}, []Conflict{{
			Rid: source.Rid, Rule: "same_id_differing_kind",
			Resolution: "manual_merge", Severity: SeverityError, Detail: "neither side yields",
		}}
	}
}

// resolveDeleteVsModify applies "modification wins unless the entity is
// status=deprecated, then delete wins".
func resolveDeleteVsModify(base *types.SchemaEntity, source, target types.EntityChange) (Resolution, []Conflict) {
	if source.Op == types.ChangeDelete && target.Op == types.ChangeDelete {
		return Resolution{Op: types.ChangeDelete}, []Conflict{{
			Rid: source.Rid, Kind: source.Kind, Rule: "delete_vs_delete",
			Resolution: "delete", Severity: SeverityInfo, AutoResolved: true,
		}}
	}

	deleted, modified := source, target
	if target.Op == types.ChangeDelete {
		deleted, modified = target, source
	}

	if base != nil && base.Status == types.StatusDeprecated {
		return Resolution{Op: types.ChangeDelete}, []Conflict{{
			Rid: deleted.Rid, Kind: deleted.Kind, Rule: "delete_vs_modify",
			Resolution: "delete_wins", Severity: SeverityInfo, AutoResolved: true,
			Detail: "entity was deprecated in base",
		}}
	}
	return Resolution{Op: modified.Op, Entity: modified.After}, []Conflict{{
		Rid: modified.Rid, Kind: modified.Kind, Rule: "delete_vs_modify",
		Resolution: "modify_wins", Severity: SeverityWarn, AutoResolved: true,
	}}
}

// resolveModifyModify handles the common case: both sides changed an
// existing entity. It merges the generic header fields, then dispatches
// to the kind-specific rules that cover property types, enums, link
// cardinality, and interface implementation sets.
func resolveModifyModify(base, source, target *types.SchemaEntity) (Resolution, []Conflict) {
	merged, conflicts := mergeGenericFields(base, source, target)

	switch target.Kind {
	case types.KindProperty:
		conflicts = append(conflicts, mergePropertyFields(base, source, target, merged)...)
	case types.KindLinkType:
		conflicts = append(conflicts, mergeCardinality(base, source, target, merged)...)
	case types.KindObjectType:
		conflicts = append(conflicts, mergeImplementsInterfaces(base, source, target, merged)...)
	}

	return Resolution{Op: types.ChangeModify, Entity: merged}, conflicts
}

// mergeGenericFields merges the header fields every entity kind shares.
// A field changed on only one side wins outright (non-overlapping at the
// field level); a field changed differently on both sides is a WARN
// conflict resolved by keeping the target's write.
func mergeGenericFields(base, source, target *types.SchemaEntity) (*types.SchemaEntity, []Conflict) {
	merged := *target
	var conflicts []Conflict

	fields := []struct {
		name             string
		base, src, tgt   string
		apply            func(string)
	}{
		{"display_name", base.DisplayName, source.DisplayName, target.DisplayName, func(v string) { merged.DisplayName = v }},
		{"status", string(base.Status), string(source.Status), string(target.Status), func(v string) { merged.Status = types.EntityStatus(v) }},
		{"visibility", string(base.Visibility), string(source.Visibility), string(target.Visibility), func(v string) { merged.Visibility = types.Visibility(v) }},
	}
	for _, f := range fields {
		srcChanged := f.src != f.base
		tgtChanged := f.tgt != f.base
		switch {
		case srcChanged && !tgtChanged:
			f.apply(f.src)
		case srcChanged && tgtChanged && f.src != f.tgt:
			conflicts = append(conflicts, Conflict{
				Rid: target.Rid, Kind: target.Kind, Rule: "field_" + f.name,
				Resolution: "keep_target_last_write_wins", Severity: SeverityWarn, AutoResolved: true,
				Detail: f.name + " changed on both sides",
			})
		}
	}
	return &merged, conflicts
}

var propertyWidenings = map[types.BaseType]types.BaseType{
	types.BaseTypeString: types.BaseTypeText,
	types.BaseTypeInt:    types.BaseTypeLong,
	types.BaseTypeFloat:  types.BaseTypeDouble,
}

func widens(from, to types.BaseType) bool {
	return propertyWidenings[from] == to
}

// mergePropertyFields applies the Property-specific rules: base type
// widen/narrow, enum union/removal, constraint union/intersection.
func mergePropertyFields(base, source, target *types.SchemaEntity, merged *types.SchemaEntity) []Conflict {
	var conflicts []Conflict

	srcChanged := source.BaseType != base.BaseType
	tgtChanged := target.BaseType != base.BaseType
	switch {
	case srcChanged && !tgtChanged:
		merged.BaseType = source.BaseType
	case !srcChanged && tgtChanged:
		merged.BaseType = target.BaseType
	case srcChanged && tgtChanged && source.BaseType != target.BaseType:
		switch {
		case widens(base.BaseType, source.BaseType):
			merged.BaseType = source.BaseType
			conflicts = append(conflicts, Conflict{Rule: "property_type_widen", Resolution: "widen_to_" + string(source.BaseType), Severity: SeverityInfo, AutoResolved: true})
		case widens(base.BaseType, target.BaseType):
			merged.BaseType = target.BaseType
			conflicts = append(conflicts, Conflict{Rule: "property_type_widen", Resolution: "widen_to_" + string(target.BaseType), Severity: SeverityInfo, AutoResolved: true})
		default:
			conflicts = append(conflicts, Conflict{Rule: "property_type_narrow_or_cross_family", Resolution: "manual_merge", Severity: SeverityError, Detail: string(source.BaseType) + " vs " + string(target.BaseType)})
		}
	}

	if merged.BaseType == types.BaseTypeEnum {
		added := append(addedElements(base.EnumValues, source.EnumValues), addedElements(base.EnumValues, target.EnumValues)...)
		removed := append(removedElements(base.EnumValues, source.EnumValues), removedElements(base.EnumValues, target.EnumValues)...)
		merged.EnumValues = unionStrings(source.EnumValues, target.EnumValues)
		switch {
		case len(removed) > 0:
			conflicts = append(conflicts, Conflict{Rule: "enum_removal", Resolution: "manual_with_deprecation_window", Severity: SeverityWarn, AutoResolved: true, Detail: "enum value(s) removed"})
		case len(added) > 0:
			conflicts = append(conflicts, Conflict{Rule: "enum_addition", Resolution: "union", Severity: SeverityInfo, AutoResolved: true})
		}
	}

	mergedConstraints, constraintConflicts := mergeConstraints(base.Constraints, source.Constraints, target.Constraints)
	merged.Constraints = mergedConstraints
	conflicts = append(conflicts, constraintConflicts...)

	return conflicts
}

// mergeCardinality applies "broadening auto, narrowing manual".
func mergeCardinality(base, source, target *types.SchemaEntity, merged *types.SchemaEntity) []Conflict {
	rank := map[types.Cardinality]int{
		types.CardinalityOneToOne:   0,
		types.CardinalityOneToMany:  1,
		types.CardinalityManyToMany: 2,
	}
	br, sr, tr := rank[base.Cardinality], rank[source.Cardinality], rank[target.Cardinality]

	switch {
	case sr == br && tr == br:
		return nil
	case sr == br:
		merged.Cardinality = target.Cardinality
		return nil
	case tr == br:
		merged.Cardinality = source.Cardinality
		return nil
	case source.Cardinality == target.Cardinality:
		merged.Cardinality = source.Cardinality
		return nil
	}

	if sr >= br && tr >= br {
		widest := source.Cardinality
		if tr > sr {
			widest = target.Cardinality
		}
		sev := SeverityInfo
		if widest == types.CardinalityManyToMany {
			sev = SeverityWarn
		}
		merged.Cardinality = widest
		return []Conflict{{Rule: "cardinality_broadening", Resolution: "widen_to_" + string(widest), Severity: sev, AutoResolved: true}}
	}
	return []Conflict{{Rule: "cardinality_narrowing", Resolution: "manual_merge", Severity: SeverityError, Detail: "one side narrows cardinality"}}
}

// mergeImplementsInterfaces applies "union, BLOCK if resulting object
// fails interface invariants" — the union is computed here; the
// invariant check runs later over the full merged entity set
// (validate.go), since it needs every interface's RequiredProperties.
func mergeImplementsInterfaces(base, source, target *types.SchemaEntity, merged *types.SchemaEntity) []Conflict {
	union := unionStrings(source.ImplementsInterfaces, target.ImplementsInterfaces)
	merged.ImplementsInterfaces = union

	baseSet := toSet(base.ImplementsInterfaces)
	for _, iface := range union {
		if _, ok := baseSet[iface]; !ok {
			return []Conflict{{Rule: "interface_implementation_sets", Resolution: "union", Severity: SeverityInfo, AutoResolved: true}}
		}
	}
	return nil
}

// mergeConstraints unions additive constraints and intersects
// restrictive numeric ones (min/max); a same-kind constraint changed to
// incompatible values on both sides (e.g. disjoint regexes) is manual.
func mergeConstraints(base, source, target []types.Constraint) ([]types.Constraint, []Conflict) {
	index := func(cs []types.Constraint) map[string]string {
		m := make(map[string]string, len(cs))
		for _, c := range cs {
			m[c.Kind] = c.Value
		}
		return m
	}
	bm, sm, tm := index(base), index(source), index(target)

	kinds := make(map[string]struct{})
	for k := range sm {
		kinds[k] = struct{}{}
	}
	for k := range tm {
		kinds[k] = struct{}{}
	}

	var merged []types.Constraint
	var conflicts []Conflict
	for kind := range kinds {
		bv, bok := bm[kind]
		sv, sok := sm[kind]
		tv, tok := tm[kind]
		switch {
		case sok && !tok:
			merged = append(merged, types.Constraint{Kind: kind, Value: sv})
		case !sok && tok:
			merged = append(merged, types.Constraint{Kind: kind, Value: tv})
		case sok && tok && sv == tv:
			merged = append(merged, types.Constraint{Kind: kind, Value: sv})
		case sok && tok:
			switch {
			case bok && sv == bv:
				merged = append(merged, types.Constraint{Kind: kind, Value: tv})
			case bok && tv == bv:
				merged = append(merged, types.Constraint{Kind: kind, Value: sv})
			default:
				if resolved, ok := tightestOf(kind, sv, tv); ok {
					merged = append(merged, types.Constraint{Kind: kind, Value: resolved})
					conflicts = append(conflicts, Conflict{Rule: "constraint_intersection", Resolution: "intersect", Severity: SeverityInfo, AutoResolved: true, Detail: kind})
				} else {
					conflicts = append(conflicts, Conflict{Rule: "constraint_incompatible", Resolution: "manual_merge", Severity: SeverityError, Detail: kind + ": " + sv + " vs " + tv})
				}
			}
		}
	}
	return merged, conflicts
}

// tightestOf picks the more restrictive of two numeric min/max
// constraint values; non-numeric kinds (regex, range) are reported
// incompatible rather than guessed at.
func tightestOf(kind, a, b string) (string, bool) {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	if aerr != nil || berr != nil {
		return "", false
	}
	switch kind {
	case "min":
		if af > bf {
			return a, true
		}
		return b, true
	case "max":
		if af < bf {
			return a, true
		}
		return b, true
	default:
		return "", false
	}
}

func addedElements(base, variant []string) []string {
	baseSet := toSet(base)
	var added []string
	for _, v := range variant {
		if _, ok := baseSet[v]; !ok {
			added = append(added, v)
		}
	}
	return added
}

func removedElements(base, variant []string) []string {
	variantSet := toSet(variant)
	var removed []string
	for _, v := range base {
		if _, ok := variantSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	return removed
}

func toSet(vs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		m[v] = struct{}{}
	}
	return m
}

func unionStrings(a, b []string) []string {
	set := toSet(a)
	union := append([]string{}, a...)
	for _, v := range b {
		if _, ok := set[v]; !ok {
			union = append(union, v)
			set[v] = struct{}{}
		}
	}
	return union
}
