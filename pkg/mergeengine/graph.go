package mergeengine

// colour marks a DFS visitation state for cycle detection over a
// directed graph expressed as an edge adjacency map.
type colour int

const (
	white colour = iota
	gray
	black
)

// hasCycle runs a DFS with colour marking over nodes/edges and reports
// the first cycle found, as the path that closes it. Used both by
// commits.go (a branch's commit DAG must be acyclic) and validate.go
// (a merge must not introduce a circular object/link dependency).
func hasCycle(nodes []string, edges map[string][]string) (bool, []string) {
	colours := make(map[string]colour, len(nodes))

	var stack []string
	var dfs func(n string) (bool, []string)
	dfs = func(n string) (bool, []string) {
		colours[n] = gray
		stack = append(stack, n)
		for _, next := range edges[n] {
			switch colours[next] {
			case gray:
				return true, append(append([]string{}, stack...), next)
			case white:
				if cyclic, path := dfs(next); cyclic {
					return true, path
				}
			}
		}
		stack = stack[:len(stack)-1]
		colours[n] = black
		return false, nil
	}

	for _, n := range nodes {
		if colours[n] == white {
			if cyclic, path := dfs(n); cyclic {
				return true, path
			}
		}
	}
	return false, nil
}
