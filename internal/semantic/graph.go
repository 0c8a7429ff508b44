package semantic

import "sort"

// JoinEdge is one traversal step along a declared relationship. Reversed
// marks edges walked from right table to left.
type JoinEdge struct {
	Relationship *Relationship
	From         string
	To           string
	Reversed     bool
}

// JoinGraph indexes the model's relationships for path search. Build it once
// per model; it is read-only afterwards.
type JoinGraph struct {
	edges map[string][]JoinEdge
}

func NewJoinGraph(model *Model) *JoinGraph {
	graph := &JoinGraph{edges: map[string][]JoinEdge{}}
	for i := range model.Relationships {
		rel := &model.Relationships[i]
		graph.edges[rel.LeftTable] = append(graph.edges[rel.LeftTable], JoinEdge{
			Relationship: rel,
			From:         rel.LeftTable,
			To:           rel.RightTable,
		})
		graph.edges[rel.RightTable] = append(graph.edges[rel.RightTable], JoinEdge{
			Relationship: rel,
			From:         rel.RightTable,
			To:           rel.LeftTable,
			Reversed:     true,
		})
	}
	return graph
}

// Path returns the shortest declared-relationship path from one table to
// another. The boolean result is false when no path exists: callers must
// treat that as a hard stop, never as license to emit a cartesian join.
func (g *JoinGraph) Path(from, to string) ([]JoinEdge, bool) {
	if from == to {
		return nil, true
	}

	type node struct {
		table string
		path  []JoinEdge
	}
	visited := map[string]bool{from: true}
	queue := []node{{table: from}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		edges := append([]JoinEdge(nil), g.edges[current.table]...)
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].To < edges[j].To })

		for _, edge := range edges {
			if visited[edge.To] {
				continue
			}
			path := make([]JoinEdge, len(current.path), len(current.path)+1)
			copy(path, current.path)
			path = append(path, edge)
			if edge.To == to {
				return path, true
			}
			visited[edge.To] = true
			queue = append(queue, node{table: edge.To, path: path})
		}
	}
	return nil, false
}

// SpanningPath connects all requested tables, expanding from the first table
// outwards. Returns the ordered edge list covering every table, or false when
// any table is unreachable.
func (g *JoinGraph) SpanningPath(tables []string) ([]JoinEdge, bool) {
	if len(tables) <= 1 {
		return nil, true
	}

	connected := map[string]bool{tables[0]: true}
	order := []string{tables[0]}
	var edges []JoinEdge
	for _, target := range tables[1:] {
		if connected[target] {
			continue
		}
		var best []JoinEdge
		found := false
		for _, table := range order {
			path, ok := g.Path(table, target)
			if !ok {
				continue
			}
			if !found || len(path) < len(best) {
				best = path
				found = true
			}
		}
		if !found {
			return nil, false
		}
		for _, edge := range best {
			if connected[edge.To] {
				continue
			}
			connected[edge.To] = true
			order = append(order, edge.To)
			edges = append(edges, edge)
		}
	}
	return edges, true
}
