package supervisor

import (
	"fmt"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

// graph is a dependency graph over component names, built from each
// component's HARD dependencies only: SOFT dependencies never
// constrain start/stop ordering. It is always built over a subset of
// the supervisor's records (the batch passed to Converge); a HARD
// dependency on a component outside that batch is treated as already
// satisfied rather than as an edge to order against.
type graph struct {
	records map[string]*component.Record

	// adjacencyList[name] holds the names that name depends on.
	adjacencyList map[string][]string
	// reverseList[name] holds the names that depend on name.
	reverseList map[string][]string
}

func newGraph() *graph {
	return &graph{
		records:       make(map[string]*component.Record),
		adjacencyList: make(map[string][]string),
		reverseList:   make(map[string][]string),
	}
}

func (g *graph) addRecord(r *component.Record) {
	name := r.Identifier.Name
	g.records[name] = r
	if _, ok := g.adjacencyList[name]; !ok {
		g.adjacencyList[name] = nil
	}
	if _, ok := g.reverseList[name]; !ok {
		g.reverseList[name] = nil
	}
	for _, dep := range r.Recipe.HardDependencies() {
		g.addEdge(name, dep.Name)
	}
}

func (g *graph) addEdge(from, to string) {
	if _, ok := g.adjacencyList[from]; !ok {
		g.adjacencyList[from] = nil
	}
	if _, ok := g.reverseList[to]; !ok {
		g.reverseList[to] = nil
	}
	g.adjacencyList[from] = append(g.adjacencyList[from], to)
	g.reverseList[to] = append(g.reverseList[to], from)
}

// startOrder returns components in dependency-first order: a component
// appears only after every component it HARD-depends on.
func (g *graph) startOrder() ([]*component.Record, error) {
	inDegree := make(map[string]int, len(g.records))
	for name := range g.records {
		degree := 0
		for _, dep := range g.adjacencyList[name] {
			// A HARD dependency on a component outside this batch is
			// already satisfied (or not ours to order) — only
			// in-batch edges constrain start/stop ordering here.
			if _, inBatch := g.records[dep]; inBatch {
				degree++
			}
		}
		inDegree[name] = degree
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]*component.Record, 0, len(g.records))
	visited := make(map[string]bool, len(g.records))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if r, ok := g.records[name]; ok {
			result = append(result, r)
			visited[name] = true
		}
		for _, dependent := range g.reverseList[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.records) {
		var stuck []string
		for name := range g.records {
			if !visited[name] {
				stuck = append(stuck, name)
			}
		}
		return nil, fmt.Errorf("supervisor: circular HARD dependency among components: %v", stuck)
	}
	return result, nil
}

// stopOrder is startOrder reversed: dependents stop before the
// components they depend on.
func (g *graph) stopOrder() ([]*component.Record, error) {
	start, err := g.startOrder()
	if err != nil {
		return nil, err
	}
	out := make([]*component.Record, len(start))
	for i, r := range start {
		out[len(start)-1-i] = r
	}
	return out, nil
}

// startLevels groups components by dependency depth: level 0 has no
// HARD dependencies among the records in the graph, level 1 depends
// only on level-0 components, and so on. Components in the same level
// have no ordering constraint between them and may start in parallel.
func (g *graph) startLevels() ([][]*component.Record, error) {
	order, err := g.startOrder()
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, r := range order {
		name := r.Identifier.Name
		d := 0
		for _, dep := range g.adjacencyList[name] {
			if _, inBatch := g.records[dep]; !inBatch {
				continue
			}
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]*component.Record, maxDepth+1)
	for _, r := range order {
		d := depth[r.Identifier.Name]
		levels[d] = append(levels[d], r)
	}
	return levels, nil
}

// stopLevels is startLevels reversed level-by-level.
func (g *graph) stopLevels() ([][]*component.Record, error) {
	levels, err := g.startLevels()
	if err != nil {
		return nil, err
	}
	out := make([][]*component.Record, len(levels))
	for i, l := range levels {
		out[len(levels)-1-i] = l
	}
	return out, nil
}
